package auth

import (
	"regexp"
	"strings"
)

var (
	apiIDPattern = regexp.MustCompile(`^\d{1,10}$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	codePattern  = regexp.MustCompile(`^\d{4,6}$`)
)

// sanitizePhone strips the separators people paste along with their number.
func sanitizePhone(input string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	return replacer.Replace(input)
}

func validAPIID(input string) bool {
	return apiIDPattern.MatchString(input)
}

func validAPIHash(input string) bool {
	return input != ""
}

func validPhone(input string) bool {
	return phonePattern.MatchString(input)
}

func validCode(input string) bool {
	return codePattern.MatchString(input)
}

func validPassword(input string) bool {
	return input != ""
}
