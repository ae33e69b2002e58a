package telegram

import (
	"context"

	"github.com/gotd/contrib/bg"
	"github.com/gotd/td/session"
	gotd "github.com/gotd/td/telegram"
	tgauth "github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// GotdConnector opens throwaway MTProto connections for login flows. Each
// connection keeps its session material in memory until the flow finishes and
// the credential is exported.
type GotdConnector struct {
	logger *zap.Logger
}

// NewGotdConnector creates a connector. logger may be nil.
func NewGotdConnector(logger *zap.Logger) *GotdConnector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GotdConnector{logger: logger}
}

func (c *GotdConnector) Connect(ctx context.Context, apiID int, apiHash string) (LoginClient, error) {
	store := new(session.StorageMemory)
	client := gotd.NewClient(apiID, apiHash, gotd.Options{
		SessionStorage: store,
		Logger:         c.logger.Named("login"),
	})

	stop, err := bg.Connect(client)
	if err != nil {
		return nil, errors.Wrap(classifyRPC(err), "failed to connect login client")
	}

	return &gotdLoginClient{client: client, store: store, stop: stop}, nil
}

type gotdLoginClient struct {
	client *gotd.Client
	store  *session.StorageMemory
	stop   bg.StopFunc
}

func (lc *gotdLoginClient) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := lc.client.Auth().SendCode(ctx, phone, tgauth.SendCodeOptions{})
	if err != nil {
		return "", classifyRPC(err)
	}

	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", errors.Errorf("unexpected sent code type %T", sent)
	}
	return code.PhoneCodeHash, nil
}

func (lc *gotdLoginClient) SignIn(ctx context.Context, phone, code, codeHash string) error {
	if _, err := lc.client.Auth().SignIn(ctx, phone, code, codeHash); err != nil {
		return classifyRPC(err)
	}
	return nil
}

func (lc *gotdLoginClient) CheckPassword(ctx context.Context, password string) error {
	if _, err := lc.client.Auth().Password(ctx, password); err != nil {
		return classifyRPC(err)
	}
	return nil
}

func (lc *gotdLoginClient) ExportSession(ctx context.Context) ([]byte, error) {
	data, err := lc.store.LoadSession(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to export session")
	}
	return data, nil
}

func (lc *gotdLoginClient) Close() error {
	return lc.stop()
}
