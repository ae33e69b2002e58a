package telegram

import (
	"context"
	"io"

	"github.com/gotd/contrib/bg"
	"github.com/gotd/td/session"
	gotd "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// GotdDialer materializes authenticated relay clients from stored session
// credentials.
type GotdDialer struct {
	logger *zap.Logger
}

// NewGotdDialer creates a dialer. logger may be nil.
func NewGotdDialer(logger *zap.Logger) *GotdDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GotdDialer{logger: logger}
}

func (d *GotdDialer) Dial(ctx context.Context, apiID int, apiHash string, sess []byte) (RelayClient, error) {
	store := new(session.StorageMemory)
	if err := store.StoreSession(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "failed to load stored session")
	}

	client := gotd.NewClient(apiID, apiHash, gotd.Options{
		SessionStorage: store,
		Logger:         d.logger.Named("relay"),
	})

	stop, err := bg.Connect(client)
	if err != nil {
		return nil, errors.Wrap(classifyRPC(err), "failed to connect relay client")
	}

	status, err := client.Auth().Status(ctx)
	if err != nil {
		_ = stop()
		return nil, errors.Wrap(classifyRPC(err), "failed to check auth status")
	}
	if !status.Authorized {
		_ = stop()
		return nil, ErrNotAuthorized
	}

	return &gotdRelayClient{api: client.API(), stop: stop}, nil
}

type gotdRelayClient struct {
	api  *tg.Client
	stop bg.StopFunc
}

func (rc *gotdRelayClient) FetchMessage(ctx context.Context, ref Reference) (*Media, error) {
	channel, err := rc.resolveChannel(ctx, ref)
	if err != nil {
		return nil, err
	}

	res, err := rc.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: &tg.InputChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash},
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: ref.MsgID}},
	})
	if err != nil {
		return nil, classifyRPC(err)
	}

	msgs, ok := res.(*tg.MessagesChannelMessages)
	if !ok || len(msgs.Messages) == 0 {
		return nil, errors.Wrap(ErrAccessDenied, "message not returned")
	}
	msg, ok := msgs.Messages[0].(*tg.Message)
	if !ok {
		return nil, errors.Wrap(ErrAccessDenied, "message not visible")
	}

	media, err := describeMedia(msg)
	if err != nil {
		return nil, err
	}
	media.SourceName = channel.Title
	return media, nil
}

// resolveChannel turns a reference into a channel with a usable access hash.
// Public references resolve by username; private ones are looked up in the
// relay identity's own dialogs, which is the only place the access hash can
// come from.
func (rc *gotdRelayClient) resolveChannel(ctx context.Context, ref Reference) (*tg.Channel, error) {
	if !ref.Private() {
		res, err := rc.api.ContactsResolveUsername(ctx, ref.Username)
		if err != nil {
			return nil, classifyRPC(err)
		}
		for _, chat := range res.Chats {
			if channel, ok := chat.(*tg.Channel); ok {
				return channel, nil
			}
		}
		return nil, errors.Wrap(ErrAccessDenied, "username does not resolve to a channel")
	}

	dialogs, err := rc.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		Limit:      100,
		OffsetPeer: &tg.InputPeerEmpty{},
	})
	if err != nil {
		return nil, classifyRPC(err)
	}

	var chats []tg.ChatClass
	switch d := dialogs.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	default:
		return nil, errors.Errorf("unexpected dialogs type %T", dialogs)
	}

	for _, chat := range chats {
		if channel, ok := chat.(*tg.Channel); ok && channel.ID == ref.ChannelID {
			return channel, nil
		}
	}
	return nil, errors.Wrap(ErrAccessDenied, "channel not in relay identity dialogs")
}

func describeMedia(msg *tg.Message) (*Media, error) {
	switch m := msg.Media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.AsNotEmpty()
		if !ok {
			return nil, ErrNoMedia
		}
		media := &Media{
			Name: "file",
			Size: doc.Size,
			MIME: doc.MimeType,
			loc:  doc.AsInputDocumentFileLocation(),
		}
		for _, attr := range doc.Attributes {
			if name, ok := attr.(*tg.DocumentAttributeFilename); ok {
				media.Name = name.FileName
			}
		}
		return media, nil

	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.AsNotEmpty()
		if !ok {
			return nil, ErrNoMedia
		}
		var (
			sizeType string
			size     int
		)
		for _, s := range photo.Sizes {
			if ps, ok := s.(*tg.PhotoSize); ok && ps.Size > size {
				sizeType = ps.Type
				size = ps.Size
			}
		}
		if sizeType == "" {
			return nil, ErrNoMedia
		}
		return &Media{
			Name:    "photo.jpg",
			Size:    int64(size),
			MIME:    "image/jpeg",
			IsPhoto: true,
			loc: &tg.InputPhotoFileLocation{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
				ThumbSize:     sizeType,
			},
		}, nil
	}

	return nil, ErrNoMedia
}

func (rc *gotdRelayClient) StreamMedia(ctx context.Context, media *Media, w io.Writer) error {
	if media == nil || media.loc == nil {
		return errors.New("media has no location")
	}

	_, err := downloader.NewDownloader().Download(rc.api, media.loc).Stream(ctx, w)
	if err != nil {
		return classifyRPC(err)
	}
	return nil
}

func (rc *gotdRelayClient) Close() error {
	return rc.stop()
}
