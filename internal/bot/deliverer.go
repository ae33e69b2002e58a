package bot

import (
	"context"
	"io"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/korosenseiac/Teloks/internal/telegram"
)

// Deliverer stages fetched content into the intermediary group and copies the
// staged message to the requester, both through the bot identity. Uploads
// stream straight from the reader, so payload never touches disk.
type Deliverer struct {
	api     *tgbotapi.BotAPI
	groupID int64
}

// NewDeliverer creates the bot-identity delivery side.
func NewDeliverer(api *tgbotapi.BotAPI, groupID int64) *Deliverer {
	return &Deliverer{api: api, groupID: groupID}
}

// Stage uploads the content into the intermediary group and returns the
// staged message id.
func (d *Deliverer) Stage(_ context.Context, media *telegram.Media, content io.Reader) (int, error) {
	file := tgbotapi.FileReader{Name: media.Name, Reader: content}

	var sent tgbotapi.Message
	var err error
	if media.IsPhoto {
		sent, err = d.api.Send(tgbotapi.NewPhoto(d.groupID, file))
	} else {
		cfg := tgbotapi.NewDocument(d.groupID, file)
		cfg.Caption = media.Name
		sent, err = d.api.Send(cfg)
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to upload content to intermediary group")
	}

	log.Debug().
		Int("message_id", sent.MessageID).
		Str("file", media.Name).
		Msg("content staged")
	return sent.MessageID, nil
}

// Deliver copies the staged message to the requester. The staged copy carries
// only the caption we set ourselves, so nothing from the source channel leaks
// through.
func (d *Deliverer) Deliver(_ context.Context, requester int64, intermediaryID int) error {
	copyCfg := tgbotapi.NewCopyMessage(requester, d.groupID, intermediaryID)
	if _, err := d.api.CopyMessage(copyCfg); err != nil {
		return errors.Wrap(err, "failed to copy staged message to requester")
	}
	return nil
}
