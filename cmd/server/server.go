package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dropbox/godropbox/time2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/korosenseiac/Teloks/internal/api"
	"github.com/korosenseiac/Teloks/internal/auth"
	"github.com/korosenseiac/Teloks/internal/bot"
	"github.com/korosenseiac/Teloks/internal/config"
	"github.com/korosenseiac/Teloks/internal/relay"
	"github.com/korosenseiac/Teloks/internal/storage"
	"github.com/korosenseiac/Teloks/internal/telegram"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Starts the relay service",
		Run: func(_ *cobra.Command, _ []string) {
			run()
		},
	}
}

func run() {
	cfg := config.DefaultServerConfigFromEnv()
	initLogger(cfg.Logger)

	if cfg.Telegram.BotToken == "" {
		log.Fatal().Msg("RELAY_BOT_TOKEN is required")
	}
	if cfg.Relay.IntermediaryGroupID == 0 {
		log.Fatal().Msg("RELAY_GROUP_ID is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mongo")
	}
	store := storage.NewMongoStore(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	attempts := storage.NewRedisAttemptStore(redisClient)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize bot api")
	}

	mtprotoLogger := newMTProtoLogger(cfg.Logger)
	login := auth.NewStateMachine(
		attempts,
		store,
		telegram.NewGotdConnector(mtprotoLogger),
		time2.DefaultClock,
		cfg.Login.AttemptTTL,
		cfg.Login.MaxRetries,
	)

	manager := relay.NewManager(
		store,
		telegram.NewGotdDialer(mtprotoLogger),
		time2.DefaultClock,
		cfg.Relay.ClientIdleWindow,
	)

	pipeline := relay.NewPipeline(
		manager,
		bot.NewDeliverer(botAPI, cfg.Relay.IntermediaryGroupID),
		store,
		relay.PipelineConfig{
			IntermediaryGroupID: cfg.Relay.IntermediaryGroupID,
			Concurrency:         cfg.Relay.JobConcurrency,
			QueueDepth:          cfg.Relay.JobQueueDepth,
			TransferRetries:     cfg.Relay.TransferRetries,
			MaxFileBytes:        cfg.Relay.MaxFileBytes,
			ChunkBytes:          cfg.Relay.ChunkBytes,
		},
	)

	frontend := bot.NewFrontend(botAPI, login, pipeline, store, store, store, cfg.Relay.OwnerID)
	pipeline.Done = frontend.NotifyJobDone

	go manager.Run(ctx)
	pipeline.Start(ctx)

	var dashboard *api.Server
	if cfg.Dashboard.Enabled {
		dashboard = api.NewServer(store, cfg.Dashboard.Addr)
		go func() {
			if err := dashboard.Start(); err != nil {
				log.Error().Err(err).Msg("dashboard server exited")
			}
		}()
	}

	log.Info().Msg("relay service started")
	if err := frontend.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("bot update loop exited")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if dashboard != nil {
		if err := dashboard.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("failed to shut down dashboard")
		}
	}
	pipeline.Wait()
	manager.CloseAll()
	if err := redisClient.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close redis client")
	}
	if err := db.Client().Disconnect(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("failed to disconnect from mongo")
	}

	log.Info().Msg("relay service stopped")
}

func initLogger(cfg config.Logger) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.PrettyPrintConsole {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// newMTProtoLogger returns the logger handed to the gotd clients. The MTProto
// traffic log is only interesting when debugging the transport itself.
func newMTProtoLogger(cfg config.Logger) *zap.Logger {
	if cfg.Level != "debug" && cfg.Level != "trace" {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
