// Package bot is the delivery-identity front-end: it consumes Bot API
// updates, routes each private message into the login dialogue or the relay
// pipeline, and sends the outcome back to the requester.
package bot

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/korosenseiac/Teloks/internal/auth"
	"github.com/korosenseiac/Teloks/internal/relay"
	"github.com/korosenseiac/Teloks/internal/storage"
	"github.com/korosenseiac/Teloks/internal/telegram"
)

// inputKind classifies one inbound private message.
type inputKind int

const (
	inputUnknown inputKind = iota
	inputCommand
	inputContentLink
	inputLoginAnswer
)

// classify decides how to route a message text. Commands win over everything,
// a message link wins over a pending login answer, so a user can always
// escape a stuck dialogue.
func classify(text string, loginActive bool) inputKind {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return inputUnknown
	case strings.HasPrefix(text, "/"):
		return inputCommand
	case telegram.MatchesLink(text):
		return inputContentLink
	case loginActive:
		return inputLoginAnswer
	default:
		return inputUnknown
	}
}

// botClient is the slice of the Bot API client the front-end consumes.
// Satisfied by *tgbotapi.BotAPI.
type botClient interface {
	GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Frontend owns the update loop of the delivery identity.
type Frontend struct {
	api      botClient
	login    *auth.StateMachine
	pipeline *relay.Pipeline
	sessions storage.SessionStore
	users    storage.UserStore
	logs     storage.ForwardLogStore
	ownerID  int64
}

// NewFrontend wires the front-end. Assign NotifyJobDone to the pipeline's
// Done hook before starting either side.
func NewFrontend(
	api botClient,
	login *auth.StateMachine,
	pipeline *relay.Pipeline,
	sessions storage.SessionStore,
	users storage.UserStore,
	logs storage.ForwardLogStore,
	ownerID int64,
) *Frontend {
	return &Frontend{
		api:      api,
		login:    login,
		pipeline: pipeline,
		sessions: sessions,
		users:    users,
		logs:     logs,
		ownerID:  ownerID,
	}
}

// Run consumes updates until ctx is cancelled.
func (f *Frontend) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := f.api.GetUpdatesChan(cfg)

	log.Info().Msg("bot update loop started")

	for {
		select {
		case <-ctx.Done():
			f.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			// Each message gets its own goroutine: a login roundtrip or a
			// relay dial for one user must not stall everyone else's
			// messages. The per-user guards in auth and relay serialize
			// concurrent input from the same user.
			go f.handleMessage(ctx, update.Message)
		}
	}
}

func (f *Frontend) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	// The dialogue is strictly private; group chatter is ignored.
	if !msg.Chat.IsPrivate() {
		return
	}

	userID := msg.From.ID
	text := strings.TrimSpace(msg.Text)

	switch classify(text, f.login.Active(ctx, userID)) {
	case inputCommand:
		f.handleCommand(ctx, msg)
	case inputContentLink:
		f.handleLink(ctx, userID, msg.From.UserName, text)
	case inputLoginAnswer:
		f.handleLoginAnswer(ctx, userID, text)
	default:
		f.reply(userID, msgUnknownInput)
	}
}

func (f *Frontend) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	switch msg.Command() {
	case "start":
		f.upsertUser(ctx, msg.From)
		f.reply(userID, msgWelcome)
	case "help":
		f.reply(userID, msgHelp)
	case "login":
		f.upsertUser(ctx, msg.From)
		res, err := f.login.StartLogin(ctx, userID)
		if err != nil {
			f.reply(userID, loginErrorText(err))
			return
		}
		f.reply(userID, renderLoginResult(res))
	case "cancel":
		if err := f.login.Cancel(ctx, userID); err != nil {
			log.Warn().Int64("user_id", userID).Err(err).Msg("failed to cancel login")
		}
		f.reply(userID, msgLoginCancelled)
	case "logout":
		f.handleLogout(ctx, userID)
	case "status":
		f.handleStatus(ctx, userID)
	case "stats":
		// Owner only; everyone else sees the command as unknown.
		if userID != f.ownerID || f.ownerID == 0 {
			f.reply(userID, msgUnknownCommand)
			return
		}
		f.handleStats(ctx, userID)
	default:
		f.reply(userID, msgUnknownCommand)
	}
}

func (f *Frontend) handleLogout(ctx context.Context, userID int64) {
	if err := f.login.Cancel(ctx, userID); err != nil {
		log.Warn().Int64("user_id", userID).Err(err).Msg("failed to cancel login on logout")
	}
	if err := f.sessions.DeleteSession(ctx, userID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Int64("user_id", userID).Err(err).Msg("failed to delete session")
		f.reply(userID, msgInternalError)
		return
	}
	f.reply(userID, msgLoggedOut)
}

func (f *Frontend) handleStatus(ctx context.Context, userID int64) {
	session, err := f.sessions.GetSession(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		f.reply(userID, msgStatusNotLoggedIn)
	case err != nil:
		log.Warn().Int64("user_id", userID).Err(err).Msg("failed to load session")
		f.reply(userID, msgInternalError)
	case session.Authenticated():
		f.reply(userID, msgStatusLoggedIn)
	default:
		f.reply(userID, msgStatusNotLoggedIn)
	}
}

func (f *Frontend) handleStats(ctx context.Context, userID int64) {
	entries, err := f.logs.ListForwardLogs(ctx, statsEntryLimit)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list forward logs")
		f.reply(userID, msgInternalError)
		return
	}
	f.reply(userID, renderStats(entries))
}

func (f *Frontend) handleLink(ctx context.Context, userID int64, username, text string) {
	ref, err := telegram.ParseReference(text)
	if err != nil {
		f.reply(userID, msgBadLink)
		return
	}

	if _, err := f.pipeline.Submit(ctx, userID, username, ref); err != nil {
		f.reply(userID, submitErrorText(err))
		return
	}
	f.reply(userID, msgJobAccepted)
}

func (f *Frontend) handleLoginAnswer(ctx context.Context, userID int64, text string) {
	res, err := f.login.Submit(ctx, userID, text)
	if err != nil {
		f.reply(userID, loginErrorText(err))
		return
	}
	f.reply(userID, renderLoginResult(res))
}

// NotifyJobDone reports a finished relay job back to its requester. Wire it
// as the pipeline's Done hook.
func (f *Frontend) NotifyJobDone(job *relay.Job) {
	f.reply(job.UserID, jobResultText(job.Status(), job.FailureReason()))
}

func (f *Frontend) upsertUser(ctx context.Context, from *tgbotapi.User) {
	user := &storage.User{
		UserID:     from.ID,
		Username:   from.UserName,
		LastActive: time.Now(),
	}
	if err := f.users.UpsertUser(ctx, user); err != nil {
		log.Warn().Int64("user_id", from.ID).Err(err).Msg("failed to upsert user")
	}
}

func (f *Frontend) reply(userID int64, text string) {
	msg := tgbotapi.NewMessage(userID, text)
	if _, err := f.api.Send(msg); err != nil {
		log.Warn().Int64("user_id", userID).Err(err).Msg("failed to send reply")
	}
}
