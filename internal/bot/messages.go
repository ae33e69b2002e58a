package bot

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/korosenseiac/Teloks/internal/auth"
	"github.com/korosenseiac/Teloks/internal/relay"
	"github.com/korosenseiac/Teloks/internal/storage"
	"github.com/korosenseiac/Teloks/internal/telegram"
)

const (
	msgWelcome = "Hi! Send me a link to a message in a restricted channel and I will fetch its content for you.\n" +
		"You need to log in with your own Telegram account first: /login"
	msgHelp = "Commands:\n" +
		"/login - connect your Telegram account\n" +
		"/logout - disconnect and forget your session\n" +
		"/status - show whether you are logged in\n" +
		"/cancel - abort an in-progress login\n\n" +
		"Once logged in, just send a t.me message link."
	msgUnknownCommand = "Unknown command. Try /help."
	msgUnknownInput   = "Send a t.me message link, or /help for the command list."
	msgLoginCancelled = "Login cancelled. Start again anytime with /login."
	msgLoggedOut      = "You are logged out and your session has been removed."

	msgStatusLoggedIn    = "You are logged in and ready to relay content."
	msgStatusNotLoggedIn = "You are not logged in. Use /login to connect your account."

	msgBadLink     = "That does not look like a message link. Expected something like https://t.me/c/1234567/89."
	msgJobAccepted = "Got it, fetching the content. I will send it here when it is ready."

	msgLoginSucceeded = "You are logged in. Send me a message link to relay content."
	msgInternalError  = "Something went wrong on my side. Please try again."
)

const statsEntryLimit = 10

// renderStats formats the recent forward-log entries for the owner.
func renderStats(entries []*storage.ForwardLog) string {
	if len(entries) == 0 {
		return "No relays recorded yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Last %d relays:\n", len(entries))
	for _, entry := range entries {
		fmt.Fprintf(&b, "- %s (%s, %d bytes) for @%s\n  %s\n",
			entry.FileName, entry.SourceName, entry.FileSize, entry.Username, entry.MessageLink)
	}
	return strings.TrimRight(b.String(), "\n")
}

// stepPrompt is the question the dialogue asks for one login step.
func stepPrompt(step storage.LoginStep) string {
	switch step {
	case storage.StepAskAPIID:
		return "Send your API ID (the numeric id from my.telegram.org)."
	case storage.StepAskAPIHash:
		return "Now send your API hash."
	case storage.StepAskPhone:
		return "Send your phone number in international format, e.g. +15551234567."
	case storage.StepAskCode:
		return "Telegram sent you a login code. Send it here."
	case storage.StepAskPassword:
		return "Your account has two-step verification. Send your password."
	default:
		return msgInternalError
	}
}

// renderLoginResult turns a dialogue transition into the reply text.
func renderLoginResult(res *auth.Result) string {
	switch res.Outcome {
	case auth.OutcomeAdvanced:
		return stepPrompt(res.Step)
	case auth.OutcomeRetry:
		return retryReasonText(res.Reason) + "\n" + stepPrompt(res.Step)
	case auth.OutcomeAuthenticated:
		return msgLoginSucceeded
	case auth.OutcomeFailed:
		return loginFailureText(res.Reason)
	default:
		return msgInternalError
	}
}

func retryReasonText(reason error) string {
	switch {
	case errors.Is(reason, auth.ErrInvalidInput):
		return "That does not look right."
	case errors.Is(reason, telegram.ErrCodeInvalid):
		return "That code is not valid."
	case errors.Is(reason, telegram.ErrPasswordInvalid):
		return "That password is not correct."
	default:
		return "That did not work, please try again."
	}
}

func loginFailureText(reason error) string {
	switch {
	case errors.Is(reason, auth.ErrTooManyRetries):
		return "Too many invalid attempts. Login aborted, start over with /login."
	case errors.Is(reason, telegram.ErrCodeExpired):
		return "The login code expired. Start over with /login to request a new one."
	case errors.Is(reason, telegram.ErrRateLimited):
		return "Telegram is rate limiting login attempts for this account. Wait a while before trying /login again."
	default:
		return "Login failed. Start over with /login."
	}
}

// loginErrorText covers flow-level errors returned alongside no Result.
func loginErrorText(err error) string {
	switch {
	case errors.Is(err, auth.ErrAlreadyInProgress):
		return "A login is already in progress. Answer the pending question or /cancel first."
	case errors.Is(err, auth.ErrNoAttempt):
		return "There is no login in progress. Start one with /login."
	case errors.Is(err, auth.ErrExpired):
		return "The login attempt expired. Start over with /login."
	default:
		return msgInternalError
	}
}

// submitErrorText covers admission failures of a relay request.
func submitErrorText(err error) string {
	switch {
	case errors.Is(err, relay.ErrNotAuthenticated):
		return msgStatusNotLoggedIn
	case errors.Is(err, relay.ErrSessionInvalidated):
		return "Your Telegram session is no longer valid. Log in again with /login."
	case errors.Is(err, relay.ErrUserBusy):
		return "I am still working on your previous link. One at a time, please."
	case errors.Is(err, relay.ErrQueueFull):
		return "I am at capacity right now. Please try again in a moment."
	default:
		return msgInternalError
	}
}

// jobResultText reports a finished relay job.
func jobResultText(status relay.Status, reason error) string {
	if status == relay.StatusDelivered {
		return "Done! The content is above."
	}

	switch {
	case errors.Is(reason, telegram.ErrAccessDenied):
		return "Your account has no access to that channel, so I cannot fetch the message."
	case errors.Is(reason, telegram.ErrNoMedia):
		return "That message carries no downloadable content."
	case errors.Is(reason, relay.ErrFileTooLarge):
		return "That file is larger than I am allowed to relay."
	case errors.Is(reason, relay.ErrSessionInvalidated):
		return "Your Telegram session is no longer valid. Log in again with /login."
	case errors.Is(reason, relay.ErrNotAuthenticated):
		return msgStatusNotLoggedIn
	case errors.Is(reason, relay.ErrDeliveryFailed):
		return "I fetched the content but could not deliver it. Send the link again to retry."
	default:
		return "I could not relay that message. Please try again later."
	}
}
