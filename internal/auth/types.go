// Package auth drives the interactive relay-identity login dialogue as an
// explicit state machine keyed by user id. Each inbound answer is one
// transition over (current step, input); session material is persisted exactly
// once, on the final successful step.
package auth

import (
	"github.com/pkg/errors"

	"github.com/korosenseiac/Teloks/internal/storage"
)

var (
	// ErrAlreadyInProgress rejects a second concurrent login flow (or a
	// concurrent submission into the one in flight) for the same user.
	ErrAlreadyInProgress = errors.New("login already in progress")

	// ErrNoAttempt is returned when input arrives without an active flow.
	ErrNoAttempt = errors.New("no login in progress")

	// ErrExpired is returned when a submission arrives past the attempt
	// deadline; the attempt is destroyed.
	ErrExpired = errors.New("login attempt expired")

	// ErrTooManyRetries terminates a flow after the configured number of
	// consecutive invalid inputs for one step.
	ErrTooManyRetries = errors.New("too many invalid inputs")

	// ErrInvalidInput marks a shape-invalid answer; the same step is
	// re-prompted.
	ErrInvalidInput = errors.New("invalid input")
)

// Outcome says what a transition did.
type Outcome int

const (
	// OutcomeAdvanced moved the flow to Result.Step.
	OutcomeAdvanced Outcome = iota
	// OutcomeRetry re-prompts the same step; Result.Reason explains why.
	OutcomeRetry
	// OutcomeAuthenticated is terminal success; the session is persisted.
	OutcomeAuthenticated
	// OutcomeFailed is terminal failure; the attempt is destroyed.
	OutcomeFailed
)

// Result is the outward effect of one transition, rendered by the front-end.
type Result struct {
	Outcome Outcome
	Step    storage.LoginStep
	Reason  error
}
