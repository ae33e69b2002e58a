// Package relay owns the lifecycle of relay-identity connections and the
// fetch → stage → deliver pipeline that moves restricted content to the
// requester through the intermediary group.
package relay

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/korosenseiac/Teloks/internal/telegram"
)

var (
	// ErrNotAuthenticated means the user has no usable relay session.
	ErrNotAuthenticated = errors.New("user is not authenticated")

	// ErrSessionInvalidated means the stored credential was revoked
	// externally; the session record has been reset.
	ErrSessionInvalidated = errors.New("stored session was invalidated")

	// ErrUserBusy rejects a submission while the user still has a running
	// job.
	ErrUserBusy = errors.New("a job is already running for this user")

	// ErrQueueFull rejects a submission when the admission queue is at
	// capacity.
	ErrQueueFull = errors.New("job queue is full")

	// ErrFileTooLarge rejects media above the configured ceiling.
	ErrFileTooLarge = errors.New("media exceeds the size limit")

	// ErrFetchFailed is the terminal reason after fetch retries run out.
	ErrFetchFailed = errors.New("failed to fetch source message")

	// ErrStageFailed is the terminal reason after stage retries run out.
	ErrStageFailed = errors.New("failed to stage content")

	// ErrDeliveryFailed is the terminal reason for a failed final copy; the
	// requester may resubmit the link.
	ErrDeliveryFailed = errors.New("failed to deliver staged content")

	// ErrInvalidTransition guards the job state machine.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Status is a relay job's position in pending → fetched → staged → delivered,
// with failed reachable from any non-terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFetched   Status = "fetched"
	StatusStaged    Status = "staged"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

func canTransition(current, next Status) bool {
	switch current {
	case StatusPending:
		return next == StatusFetched || next == StatusFailed
	case StatusFetched:
		return next == StatusStaged || next == StatusFailed
	case StatusStaged:
		return next == StatusDelivered || next == StatusFailed
	default:
		return false
	}
}

// Job is one forward-request execution instance.
type Job struct {
	ID        string
	UserID    int64
	Username  string
	Ref       telegram.Reference
	CreatedAt time.Time

	mu             sync.Mutex
	status         Status
	media          *telegram.Media
	intermediaryID int
	failure        error
}

// Status returns the job's current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Media returns the fetched content descriptor, nil before fetch completes.
func (j *Job) Media() *telegram.Media {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.media
}

// IntermediaryID returns the staged message id, zero before staging.
func (j *Job) IntermediaryID() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.intermediaryID
}

// FailureReason returns the terminal failure, nil unless status is failed.
func (j *Job) FailureReason() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failure
}

// transition enforces monotonic status progression; terminal states are
// immutable.
func (j *Job) transition(next Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.status, next) {
		return errors.Wrapf(ErrInvalidTransition, "from %s to %s", j.status, next)
	}
	j.status = next
	return nil
}

// fail moves the job to its terminal failure state, recording the reason.
// Failing an already-terminal job is a no-op.
func (j *Job) fail(reason error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.Terminal() {
		return
	}
	j.status = StatusFailed
	j.failure = reason
}

func (j *Job) setMedia(media *telegram.Media) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.media = media
}

func (j *Job) setIntermediaryID(id int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.intermediaryID = id
}
