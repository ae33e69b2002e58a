package auth

import (
	"context"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korosenseiac/Teloks/internal/storage"
	"github.com/korosenseiac/Teloks/internal/telegram"
)

type fakeLoginClient struct {
	codeHash    string
	signInErr   error
	passwordErr error
	session     []byte
	closed      bool
}

func (f *fakeLoginClient) SendCode(_ context.Context, _ string) (string, error) {
	return f.codeHash, nil
}

func (f *fakeLoginClient) SignIn(_ context.Context, _, _, _ string) error {
	return f.signInErr
}

func (f *fakeLoginClient) CheckPassword(_ context.Context, _ string) error {
	return f.passwordErr
}

func (f *fakeLoginClient) ExportSession(_ context.Context) ([]byte, error) {
	return f.session, nil
}

func (f *fakeLoginClient) Close() error {
	f.closed = true
	return nil
}

type fakeConnector struct {
	client     *fakeLoginClient
	connectErr error
	connects   int
}

func (f *fakeConnector) Connect(_ context.Context, _ int, _ string) (telegram.LoginClient, error) {
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.client, nil
}

func newTestMachine(t *testing.T, connector telegram.Connector, clock time2.Clock) (*StateMachine, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	sm := NewStateMachine(store, store, connector, clock, 10*time.Minute, 3)
	return sm, store
}

const testUser = int64(777000)

func TestStateMachine_FullFlow(t *testing.T) {
	ctx := context.Background()
	client := &fakeLoginClient{codeHash: "hash123", session: []byte("session-blob")}
	connector := &fakeConnector{client: client}
	sm, store := newTestMachine(t, connector, time2.DefaultClock)

	res, err := sm.StartLogin(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, res.Outcome)
	assert.Equal(t, storage.StepAskAPIID, res.Step)

	res, err = sm.Submit(ctx, testUser, "123456")
	require.NoError(t, err)
	assert.Equal(t, storage.StepAskAPIHash, res.Step)

	res, err = sm.Submit(ctx, testUser, "abcd1234abcd1234")
	require.NoError(t, err)
	assert.Equal(t, storage.StepAskPhone, res.Step)

	res, err = sm.Submit(ctx, testUser, "+1 (000) 000-0000")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, res.Outcome)
	assert.Equal(t, storage.StepAskCode, res.Step)
	assert.Equal(t, 1, connector.connects)

	res, err = sm.Submit(ctx, testUser, "54321")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, res.Outcome)

	session, err := store.GetSession(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, storage.SessionStatusAuthenticated, session.Status)
	assert.Equal(t, []byte("session-blob"), session.Session)
	assert.Equal(t, 123456, session.APIID)
	assert.True(t, client.closed)

	// Attempt is folded into the session and destroyed.
	_, err = store.GetAttempt(ctx, testUser)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStateMachine_TwoFactorFlow(t *testing.T) {
	ctx := context.Background()
	client := &fakeLoginClient{
		codeHash:  "hash123",
		signInErr: telegram.ErrPasswordNeeded,
		session:   []byte("session-blob"),
	}
	connector := &fakeConnector{client: client}
	sm, store := newTestMachine(t, connector, time2.DefaultClock)

	_, err := sm.StartLogin(ctx, testUser)
	require.NoError(t, err)
	for _, input := range []string{"123456", "abcd1234", "+10000000000"} {
		_, err = sm.Submit(ctx, testUser, input)
		require.NoError(t, err)
	}

	res, err := sm.Submit(ctx, testUser, "54321")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, res.Outcome)
	assert.Equal(t, storage.StepAskPassword, res.Step)

	res, err = sm.Submit(ctx, testUser, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, res.Outcome)

	session, err := store.GetSession(ctx, testUser)
	require.NoError(t, err)
	assert.True(t, session.Authenticated())
}

func TestStateMachine_DuplicateStart(t *testing.T) {
	ctx := context.Background()
	sm, _ := newTestMachine(t, &fakeConnector{client: &fakeLoginClient{}}, time2.DefaultClock)

	_, err := sm.StartLogin(ctx, testUser)
	require.NoError(t, err)

	_, err = sm.StartLogin(ctx, testUser)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)
}

func TestStateMachine_InvalidInputRetries(t *testing.T) {
	ctx := context.Background()
	sm, _ := newTestMachine(t, &fakeConnector{client: &fakeLoginClient{}}, time2.DefaultClock)

	_, err := sm.StartLogin(ctx, testUser)
	require.NoError(t, err)

	res, err := sm.Submit(ctx, testUser, "not-a-number")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, res.Outcome)
	assert.Equal(t, storage.StepAskAPIID, res.Step)
	assert.ErrorIs(t, res.Reason, ErrInvalidInput)
}

func TestStateMachine_TooManyInvalidCodes(t *testing.T) {
	ctx := context.Background()
	client := &fakeLoginClient{codeHash: "hash123", signInErr: telegram.ErrCodeInvalid}
	sm, store := newTestMachine(t, &fakeConnector{client: client}, time2.DefaultClock)

	_, err := sm.StartLogin(ctx, testUser)
	require.NoError(t, err)
	for _, input := range []string{"123456", "abcd1234", "+10000000000"} {
		_, err = sm.Submit(ctx, testUser, input)
		require.NoError(t, err)
	}

	var res *Result
	for i := 0; i < 3; i++ {
		res, err = sm.Submit(ctx, testUser, "99999")
		require.NoError(t, err)
		assert.Equal(t, OutcomeRetry, res.Outcome)
	}

	res, err = sm.Submit(ctx, testUser, "99999")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Reason, ErrTooManyRetries)

	// Terminal failure destroys the attempt.
	_, err = store.GetAttempt(ctx, testUser)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStateMachine_ExpiredAttempt(t *testing.T) {
	ctx := context.Background()
	clock := time2.NewMockClock(time.Now())
	sm, store := newTestMachine(t, &fakeConnector{client: &fakeLoginClient{}}, clock)

	_, err := sm.StartLogin(ctx, testUser)
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)

	_, err = sm.Submit(ctx, testUser, "123456")
	assert.ErrorIs(t, err, ErrExpired)

	// No residual attempt.
	_, err = store.GetAttempt(ctx, testUser)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStateMachine_ExpiredCodeIsTerminal(t *testing.T) {
	ctx := context.Background()
	client := &fakeLoginClient{codeHash: "hash123", signInErr: telegram.ErrCodeExpired}
	sm, _ := newTestMachine(t, &fakeConnector{client: client}, time2.DefaultClock)

	_, err := sm.StartLogin(ctx, testUser)
	require.NoError(t, err)
	for _, input := range []string{"123456", "abcd1234", "+10000000000"} {
		_, err = sm.Submit(ctx, testUser, input)
		require.NoError(t, err)
	}

	res, err := sm.Submit(ctx, testUser, "54321")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Reason, telegram.ErrCodeExpired)
	assert.True(t, client.closed)
}

func TestStateMachine_CancelIdempotent(t *testing.T) {
	ctx := context.Background()
	sm, store := newTestMachine(t, &fakeConnector{client: &fakeLoginClient{}}, time2.DefaultClock)

	_, err := sm.StartLogin(ctx, testUser)
	require.NoError(t, err)

	require.NoError(t, sm.Cancel(ctx, testUser))
	require.NoError(t, sm.Cancel(ctx, testUser))

	_, err = store.GetAttempt(ctx, testUser)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// A fresh flow can start after cancellation.
	_, err = sm.StartLogin(ctx, testUser)
	assert.NoError(t, err)
}

func TestStateMachine_SubmitWithoutFlow(t *testing.T) {
	ctx := context.Background()
	sm, _ := newTestMachine(t, &fakeConnector{client: &fakeLoginClient{}}, time2.DefaultClock)

	_, err := sm.Submit(ctx, testUser, "123456")
	assert.ErrorIs(t, err, ErrNoAttempt)
}

func TestStateMachine_ReLoginKeepsOldCredentialUntilSuccess(t *testing.T) {
	ctx := context.Background()
	client := &fakeLoginClient{codeHash: "hash123", session: []byte("new-blob")}
	sm, store := newTestMachine(t, &fakeConnector{client: client}, time2.DefaultClock)

	old := &storage.UserSession{
		UserID:  testUser,
		Session: []byte("old-blob"),
		Status:  storage.SessionStatusAuthenticated,
	}
	require.NoError(t, store.PutSession(ctx, old))

	_, err := sm.StartLogin(ctx, testUser)
	require.NoError(t, err)

	// Mid-flow the stored credential is untouched.
	session, err := store.GetSession(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, []byte("old-blob"), session.Session)
	assert.True(t, session.Authenticated())

	for _, input := range []string{"123456", "abcd1234", "+10000000000"} {
		_, err = sm.Submit(ctx, testUser, input)
		require.NoError(t, err)
	}
	res, err := sm.Submit(ctx, testUser, "54321")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, res.Outcome)

	session, err = store.GetSession(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, []byte("new-blob"), session.Session)
}
