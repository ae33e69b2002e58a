package bot

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korosenseiac/Teloks/internal/auth"
	"github.com/korosenseiac/Teloks/internal/relay"
	"github.com/korosenseiac/Teloks/internal/storage"
	"github.com/korosenseiac/Teloks/internal/telegram"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		loginActive bool
		want        inputKind
	}{
		{"command", "/login", false, inputCommand},
		{"command with args", "/start deep-link", false, inputCommand},
		{"command during login", "/cancel", true, inputCommand},
		{"private link", "https://t.me/c/1234567/89", false, inputContentLink},
		{"public link", "t.me/somechannel/42", false, inputContentLink},
		{"link wins over login answer", "https://t.me/c/1234567/89", true, inputContentLink},
		{"login answer", "123456", true, inputLoginAnswer},
		{"plain text without login", "hello there", false, inputUnknown},
		{"empty", "   ", true, inputUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.text, tt.loginActive))
		})
	}
}

func TestRenderLoginResult(t *testing.T) {
	advanced := renderLoginResult(&auth.Result{
		Outcome: auth.OutcomeAdvanced,
		Step:    storage.StepAskCode,
	})
	assert.Contains(t, advanced, "code")

	retry := renderLoginResult(&auth.Result{
		Outcome: auth.OutcomeRetry,
		Step:    storage.StepAskPhone,
		Reason:  auth.ErrInvalidInput,
	})
	assert.Contains(t, retry, "does not look right")
	assert.Contains(t, retry, "phone number")

	assert.Equal(t, msgLoginSucceeded, renderLoginResult(&auth.Result{
		Outcome: auth.OutcomeAuthenticated,
	}))

	failed := renderLoginResult(&auth.Result{
		Outcome: auth.OutcomeFailed,
		Reason:  auth.ErrTooManyRetries,
	})
	assert.Contains(t, failed, "Too many invalid attempts")
}

func TestEveryStepHasAPrompt(t *testing.T) {
	steps := []storage.LoginStep{
		storage.StepAskAPIID,
		storage.StepAskAPIHash,
		storage.StepAskPhone,
		storage.StepAskCode,
		storage.StepAskPassword,
	}
	for _, step := range steps {
		prompt := stepPrompt(step)
		assert.NotEqual(t, msgInternalError, prompt, "step %s has no prompt", step)
		assert.NotEmpty(t, prompt)
	}
}

func TestSubmitErrorText(t *testing.T) {
	assert.Equal(t, msgStatusNotLoggedIn, submitErrorText(relay.ErrNotAuthenticated))
	assert.Contains(t, submitErrorText(relay.ErrSessionInvalidated), "/login")
	assert.Contains(t, submitErrorText(relay.ErrUserBusy), "previous link")
	assert.Contains(t, submitErrorText(relay.ErrQueueFull), "capacity")
	assert.Equal(t, msgInternalError, submitErrorText(errors.New("boom")))
}

func TestJobResultText(t *testing.T) {
	assert.Contains(t, jobResultText(relay.StatusDelivered, nil), "Done")

	failed := func(reason error) string {
		return jobResultText(relay.StatusFailed, reason)
	}
	assert.Contains(t, failed(telegram.ErrAccessDenied), "no access")
	assert.Contains(t, failed(telegram.ErrNoMedia), "no downloadable content")
	assert.Contains(t, failed(relay.ErrFileTooLarge), "larger")
	assert.Contains(t, failed(relay.ErrDeliveryFailed), "Send the link again")
	assert.NotEmpty(t, failed(errors.New("unspecified")))
}

func TestRenderStats(t *testing.T) {
	assert.Equal(t, "No relays recorded yet.", renderStats(nil))

	text := renderStats([]*storage.ForwardLog{
		{
			FileName:    "clip.mp4",
			FileSize:    2048,
			Username:    "alice",
			SourceName:  "Some Channel",
			MessageLink: "https://t.me/c/1234567/1",
		},
	})
	assert.Contains(t, text, "clip.mp4")
	assert.Contains(t, text, "@alice")
	assert.Contains(t, text, "https://t.me/c/1234567/1")
}

type fakeBot struct {
	updates chan tgbotapi.Update
	sent    chan tgbotapi.Chattable
}

func (f *fakeBot) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent <- c
	return tgbotapi.Message{}, nil
}

// slowDialer blocks every dial until released, standing in for a slow MTProto
// connection establishment.
type slowDialer struct {
	started chan struct{}
	release chan struct{}
}

func (d *slowDialer) Dial(_ context.Context, _ int, _ string, _ []byte) (telegram.RelayClient, error) {
	d.started <- struct{}{}
	<-d.release
	return nil, errors.New("dial aborted")
}

type nopDeliverer struct{}

func (nopDeliverer) Stage(_ context.Context, _ *telegram.Media, _ io.Reader) (int, error) {
	return 1, nil
}

func (nopDeliverer) Deliver(_ context.Context, _ int64, _ int) error {
	return nil
}

func privateMsg(userID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		Text: text,
		From: &tgbotapi.User{ID: userID, UserName: "someone"},
		Chat: &tgbotapi.Chat{ID: userID, Type: "private"},
	}
	// Telegram attaches a bot_command entity to command messages; Command()
	// relies on it being present.
	if strings.HasPrefix(text, "/") {
		msg.Entities = []tgbotapi.MessageEntity{{
			Type:   "bot_command",
			Offset: 0,
			Length: len(strings.SplitN(text, " ", 2)[0]),
		}}
	}
	return tgbotapi.Update{Message: msg}
}

func awaitReply(t *testing.T, sent chan tgbotapi.Chattable) tgbotapi.MessageConfig {
	t.Helper()
	select {
	case c := <-sent:
		msg, ok := c.(tgbotapi.MessageConfig)
		require.True(t, ok, "unexpected chattable %T", c)
		return msg
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a reply")
		return tgbotapi.MessageConfig{}
	}
}

func TestRunServesUsersIndependently(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.PutSession(context.Background(), &storage.UserSession{
		UserID:  1,
		Session: []byte("blob"),
		APIID:   123456,
		APIHash: "hash",
		Status:  storage.SessionStatusAuthenticated,
	}))

	dialer := &slowDialer{started: make(chan struct{}), release: make(chan struct{})}
	manager := relay.NewManager(store, dialer, time2.DefaultClock, time.Minute)
	t.Cleanup(manager.CloseAll)
	pipeline := relay.NewPipeline(manager, nopDeliverer{}, store, relay.PipelineConfig{
		Concurrency: 1,
		QueueDepth:  1,
	})
	login := auth.NewStateMachine(store, store, nil, time2.DefaultClock, time.Minute, 3)

	api := &fakeBot{
		updates: make(chan tgbotapi.Update, 4),
		sent:    make(chan tgbotapi.Chattable, 4),
	}
	frontend := NewFrontend(api, login, pipeline, store, store, store, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go frontend.Run(ctx)

	// First user's link submission blocks inside the relay dial.
	api.updates <- privateMsg(1, "https://t.me/c/1234567/89")
	<-dialer.started

	// A second user's command must still be served while that dial hangs.
	api.updates <- privateMsg(2, "/start")

	reply := awaitReply(t, api.sent)
	assert.Equal(t, int64(2), reply.ChatID)
	assert.Equal(t, msgWelcome, reply.Text)

	close(dialer.release)
	reply = awaitReply(t, api.sent)
	assert.Equal(t, int64(1), reply.ChatID)
}

func TestRetryTextMentionsNextAction(t *testing.T) {
	// Every terminal failure text must tell the user what to do next.
	for _, reason := range []error{
		auth.ErrTooManyRetries,
		telegram.ErrCodeExpired,
		telegram.ErrRateLimited,
		errors.New("anything else"),
	} {
		text := loginFailureText(reason)
		ok := strings.Contains(text, "/login") || strings.Contains(text, "Wait")
		assert.True(t, ok, "failure text %q names no next action", text)
	}
}
