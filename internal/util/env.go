package util

import (
	"os"
	"strconv"
	"time"
)

// GetEnv returns the value of the environment variable key or defaultVal if unset.
func GetEnv(key string, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// GetEnvAsInt returns the environment variable key parsed as int or defaultVal
// if unset or unparsable.
func GetEnvAsInt(key string, defaultVal int) int {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}

	val, err := strconv.Atoi(strVal)
	if err != nil {
		return defaultVal
	}

	return val
}

// GetEnvAsInt64 returns the environment variable key parsed as int64 or
// defaultVal if unset or unparsable.
func GetEnvAsInt64(key string, defaultVal int64) int64 {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}

	val, err := strconv.ParseInt(strVal, 10, 64)
	if err != nil {
		return defaultVal
	}

	return val
}

// GetEnvAsBool returns the environment variable key parsed as bool or
// defaultVal if unset or unparsable.
func GetEnvAsBool(key string, defaultVal bool) bool {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}

	val, err := strconv.ParseBool(strVal)
	if err != nil {
		return defaultVal
	}

	return val
}

// GetEnvAsDurationSec interprets the environment variable key as a number of
// seconds, returning defaultVal on absence or parse failure.
func GetEnvAsDurationSec(key string, defaultVal time.Duration) time.Duration {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}

	secs, err := strconv.Atoi(strVal)
	if err != nil {
		return defaultVal
	}

	return time.Duration(secs) * time.Second
}
