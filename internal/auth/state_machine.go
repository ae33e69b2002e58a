package auth

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/korosenseiac/Teloks/internal/storage"
	"github.com/korosenseiac/Teloks/internal/telegram"
)

// StateMachine walks one user at a time through
// ask_api_id → ask_api_hash → ask_phone → ask_code → [ask_password].
// It owns the per-attempt transport connection and is the only writer of
// LoginAttempt records.
type StateMachine struct {
	attempts   storage.AttemptStore
	sessions   storage.SessionStore
	connector  telegram.Connector
	clock      time2.Clock
	attemptTTL time.Duration
	maxRetries int

	mu       sync.Mutex
	clients  map[int64]telegram.LoginClient
	inFlight map[int64]bool
}

// NewStateMachine creates the login state machine.
func NewStateMachine(
	attempts storage.AttemptStore,
	sessions storage.SessionStore,
	connector telegram.Connector,
	clock time2.Clock,
	attemptTTL time.Duration,
	maxRetries int,
) *StateMachine {
	return &StateMachine{
		attempts:   attempts,
		sessions:   sessions,
		connector:  connector,
		clock:      clock,
		attemptTTL: attemptTTL,
		maxRetries: maxRetries,
		clients:    make(map[int64]telegram.LoginClient),
		inFlight:   make(map[int64]bool),
	}
}

// StartLogin begins a flow for the user. Fails with ErrAlreadyInProgress if
// one is active. Starting over an authenticated session is allowed; the
// stored credential is only replaced on completion.
func (sm *StateMachine) StartLogin(ctx context.Context, userID int64) (*Result, error) {
	now := sm.clock.Now()
	attempt := &storage.LoginAttempt{
		UserID:    userID,
		Step:      storage.StepAskAPIID,
		CreatedAt: now,
		ExpiresAt: now.Add(sm.attemptTTL),
	}

	if err := sm.attempts.CreateAttempt(ctx, attempt, sm.attemptTTL); err != nil {
		if errors.Is(err, storage.ErrAttemptExists) {
			return nil, ErrAlreadyInProgress
		}
		return nil, errors.Wrap(err, "failed to create login attempt")
	}

	sm.syncSessionStatus(ctx, userID, storage.SessionStatusAwaitingCreds)

	log.Info().Int64("user_id", userID).Msg("login flow started")
	return &Result{Outcome: OutcomeAdvanced, Step: storage.StepAskAPIID}, nil
}

// Submit feeds one answer into the user's flow. Submissions for the same user
// are serialized; a second one while the first is in flight is rejected with
// ErrAlreadyInProgress.
func (sm *StateMachine) Submit(ctx context.Context, userID int64, input string) (*Result, error) {
	sm.mu.Lock()
	if sm.inFlight[userID] {
		sm.mu.Unlock()
		return nil, ErrAlreadyInProgress
	}
	sm.inFlight[userID] = true
	sm.mu.Unlock()

	defer func() {
		sm.mu.Lock()
		delete(sm.inFlight, userID)
		sm.mu.Unlock()
	}()

	attempt, err := sm.attempts.GetAttempt(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoAttempt
		}
		return nil, errors.Wrap(err, "failed to load login attempt")
	}

	if sm.clock.Now().After(attempt.ExpiresAt) {
		sm.cleanup(ctx, userID)
		log.Info().Int64("user_id", userID).Msg("login attempt expired")
		return nil, ErrExpired
	}

	switch attempt.Step {
	case storage.StepAskAPIID:
		return sm.submitAPIID(ctx, attempt, input)
	case storage.StepAskAPIHash:
		return sm.submitAPIHash(ctx, attempt, input)
	case storage.StepAskPhone:
		return sm.submitPhone(ctx, attempt, input)
	case storage.StepAskCode:
		return sm.submitCode(ctx, attempt, input)
	case storage.StepAskPassword:
		return sm.submitPassword(ctx, attempt, input)
	default:
		return nil, errors.Errorf("unknown login step %q", attempt.Step)
	}
}

// Cancel tears down any active flow for the user. Idempotent.
func (sm *StateMachine) Cancel(ctx context.Context, userID int64) error {
	sm.cleanup(ctx, userID)

	session, err := sm.sessions.GetSession(ctx, userID)
	if err == nil && !session.Authenticated() {
		session.Status = storage.SessionStatusUnauthenticated
		if err := sm.sessions.PutSession(ctx, session); err != nil {
			return errors.Wrap(err, "failed to reset session status")
		}
	}

	log.Info().Int64("user_id", userID).Msg("login flow cancelled")
	return nil
}

// Active reports whether a login flow is currently in progress for the user.
func (sm *StateMachine) Active(ctx context.Context, userID int64) bool {
	_, err := sm.attempts.GetAttempt(ctx, userID)
	return err == nil
}

func (sm *StateMachine) submitAPIID(ctx context.Context, attempt *storage.LoginAttempt, input string) (*Result, error) {
	if !validAPIID(input) {
		return sm.retryStep(ctx, attempt, errors.Wrap(ErrInvalidInput, "api id must be a number"))
	}

	apiID, err := strconv.Atoi(input)
	if err != nil {
		return sm.retryStep(ctx, attempt, errors.Wrap(ErrInvalidInput, "api id must be a number"))
	}

	attempt.APIID = apiID
	return sm.advance(ctx, attempt, storage.StepAskAPIHash, storage.SessionStatusAwaitingCreds)
}

func (sm *StateMachine) submitAPIHash(ctx context.Context, attempt *storage.LoginAttempt, input string) (*Result, error) {
	if !validAPIHash(input) {
		return sm.retryStep(ctx, attempt, errors.Wrap(ErrInvalidInput, "api hash must not be empty"))
	}

	attempt.APIHash = input
	return sm.advance(ctx, attempt, storage.StepAskPhone, storage.SessionStatusAwaitingPhone)
}

func (sm *StateMachine) submitPhone(ctx context.Context, attempt *storage.LoginAttempt, input string) (*Result, error) {
	phone := sanitizePhone(input)
	if !validPhone(phone) {
		return sm.retryStep(ctx, attempt, errors.Wrap(ErrInvalidInput, "phone number looks malformed"))
	}

	client, err := sm.connector.Connect(ctx, attempt.APIID, attempt.APIHash)
	if err != nil {
		if errors.Is(err, telegram.ErrRateLimited) {
			return sm.fail(ctx, attempt.UserID, err)
		}
		// Ambiguous transport failure: surface as "try again", same step,
		// nothing persisted.
		return &Result{Outcome: OutcomeRetry, Step: attempt.Step, Reason: err}, nil
	}

	codeHash, err := client.SendCode(ctx, phone)
	if err != nil {
		_ = client.Close()
		if errors.Is(err, telegram.ErrRateLimited) {
			return sm.fail(ctx, attempt.UserID, err)
		}
		return &Result{Outcome: OutcomeRetry, Step: attempt.Step, Reason: err}, nil
	}

	sm.mu.Lock()
	sm.clients[attempt.UserID] = client
	sm.mu.Unlock()

	attempt.Phone = phone
	attempt.PhoneCodeHash = codeHash
	return sm.advance(ctx, attempt, storage.StepAskCode, storage.SessionStatusAwaitingCode)
}

func (sm *StateMachine) submitCode(ctx context.Context, attempt *storage.LoginAttempt, input string) (*Result, error) {
	if !validCode(input) {
		return sm.retryStep(ctx, attempt, errors.Wrap(ErrInvalidInput, "code must be 4-6 digits"))
	}

	client := sm.loginClient(attempt.UserID)
	if client == nil {
		// Process restarted mid-flow; the pending code hash is unusable.
		sm.cleanup(ctx, attempt.UserID)
		return nil, ErrExpired
	}

	err := client.SignIn(ctx, attempt.Phone, input, attempt.PhoneCodeHash)
	switch {
	case err == nil:
		return sm.finalize(ctx, attempt, client)
	case errors.Is(err, telegram.ErrPasswordNeeded):
		return sm.advance(ctx, attempt, storage.StepAskPassword, storage.SessionStatusAwaiting2FA)
	case errors.Is(err, telegram.ErrCodeInvalid):
		return sm.retryStep(ctx, attempt, err)
	case errors.Is(err, telegram.ErrCodeExpired), errors.Is(err, telegram.ErrRateLimited):
		return sm.fail(ctx, attempt.UserID, err)
	default:
		return &Result{Outcome: OutcomeRetry, Step: attempt.Step, Reason: err}, nil
	}
}

func (sm *StateMachine) submitPassword(ctx context.Context, attempt *storage.LoginAttempt, input string) (*Result, error) {
	if !validPassword(input) {
		return sm.retryStep(ctx, attempt, errors.Wrap(ErrInvalidInput, "password must not be empty"))
	}

	client := sm.loginClient(attempt.UserID)
	if client == nil {
		sm.cleanup(ctx, attempt.UserID)
		return nil, ErrExpired
	}

	err := client.CheckPassword(ctx, input)
	switch {
	case err == nil:
		return sm.finalize(ctx, attempt, client)
	case errors.Is(err, telegram.ErrPasswordInvalid):
		return sm.retryStep(ctx, attempt, err)
	case errors.Is(err, telegram.ErrRateLimited):
		return sm.fail(ctx, attempt.UserID, err)
	default:
		return &Result{Outcome: OutcomeRetry, Step: attempt.Step, Reason: err}, nil
	}
}

// advance moves the flow to the next step and resets the retry counter.
func (sm *StateMachine) advance(ctx context.Context, attempt *storage.LoginAttempt, next storage.LoginStep, status storage.SessionStatus) (*Result, error) {
	attempt.Step = next
	attempt.Retries = 0
	if err := sm.attempts.UpdateAttempt(ctx, attempt); err != nil {
		return nil, errors.Wrap(err, "failed to update login attempt")
	}

	sm.syncSessionStatus(ctx, attempt.UserID, status)

	log.Info().
		Int64("user_id", attempt.UserID).
		Str("step", string(next)).
		Msg("login flow advanced")
	return &Result{Outcome: OutcomeAdvanced, Step: next}, nil
}

// retryStep counts one invalid input towards the per-step limit and, within
// the limit, re-prompts the same step.
func (sm *StateMachine) retryStep(ctx context.Context, attempt *storage.LoginAttempt, reason error) (*Result, error) {
	attempt.Retries++
	if attempt.Retries > sm.maxRetries {
		return sm.fail(ctx, attempt.UserID, ErrTooManyRetries)
	}

	if err := sm.attempts.UpdateAttempt(ctx, attempt); err != nil {
		return nil, errors.Wrap(err, "failed to update login attempt")
	}
	return &Result{Outcome: OutcomeRetry, Step: attempt.Step, Reason: reason}, nil
}

// fail tears the flow down and reports the terminal reason.
func (sm *StateMachine) fail(ctx context.Context, userID int64, reason error) (*Result, error) {
	sm.cleanup(ctx, userID)

	session, err := sm.sessions.GetSession(ctx, userID)
	if err == nil && !session.Authenticated() {
		session.Status = storage.SessionStatusFailed
		_ = sm.sessions.PutSession(ctx, session)
	}

	log.Warn().Int64("user_id", userID).Err(reason).Msg("login flow failed")
	return &Result{Outcome: OutcomeFailed, Reason: reason}, nil
}

// finalize exports and persists the session credential exactly once, then
// destroys the attempt.
func (sm *StateMachine) finalize(ctx context.Context, attempt *storage.LoginAttempt, client telegram.LoginClient) (*Result, error) {
	blob, err := client.ExportSession(ctx)
	if err != nil {
		return &Result{Outcome: OutcomeRetry, Step: attempt.Step, Reason: err}, nil
	}

	now := sm.clock.Now()
	session := &storage.UserSession{
		UserID:     attempt.UserID,
		Session:    blob,
		APIID:      attempt.APIID,
		APIHash:    attempt.APIHash,
		Status:     storage.SessionStatusAuthenticated,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if existing, err := sm.sessions.GetSession(ctx, attempt.UserID); err == nil {
		session.CreatedAt = existing.CreatedAt
	}

	if err := sm.sessions.PutSession(ctx, session); err != nil {
		return nil, errors.Wrap(err, "failed to persist session")
	}

	sm.cleanup(ctx, attempt.UserID)

	log.Info().Int64("user_id", attempt.UserID).Msg("login flow authenticated")
	return &Result{Outcome: OutcomeAuthenticated}, nil
}

// cleanup destroys the attempt record and closes the per-attempt connection.
func (sm *StateMachine) cleanup(ctx context.Context, userID int64) {
	if err := sm.attempts.DeleteAttempt(ctx, userID); err != nil {
		log.Warn().Int64("user_id", userID).Err(err).Msg("failed to delete login attempt")
	}

	sm.mu.Lock()
	client := sm.clients[userID]
	delete(sm.clients, userID)
	sm.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			log.Warn().Int64("user_id", userID).Err(err).Msg("failed to close login client")
		}
	}
}

func (sm *StateMachine) loginClient(userID int64) telegram.LoginClient {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.clients[userID]
}

// syncSessionStatus tracks flow progress on the stored session record, but
// never touches a record that already carries a live credential: re-login
// only replaces it on completion.
func (sm *StateMachine) syncSessionStatus(ctx context.Context, userID int64, status storage.SessionStatus) {
	session, err := sm.sessions.GetSession(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		session = &storage.UserSession{
			UserID:    userID,
			Status:    storage.SessionStatusUnauthenticated,
			CreatedAt: sm.clock.Now(),
		}
	} else if err != nil {
		log.Warn().Int64("user_id", userID).Err(err).Msg("failed to load session for status sync")
		return
	}

	if session.Authenticated() {
		return
	}

	session.Status = status
	if err := sm.sessions.PutSession(ctx, session); err != nil {
		log.Warn().Int64("user_id", userID).Err(err).Msg("failed to sync session status")
	}
}
