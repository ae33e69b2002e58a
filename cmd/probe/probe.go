package probe

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/korosenseiac/Teloks/internal/config"
	"github.com/korosenseiac/Teloks/internal/storage"
	"github.com/korosenseiac/Teloks/internal/util/command"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("probe",
		newMongo(),
		newRedis(),
	)
}

func newMongo() *cobra.Command {
	return &cobra.Command{
		Use:   "mongo",
		Short: "Checks connectivity to the configured Mongo instance",
		Run: func(_ *cobra.Command, _ []string) {
			cfg := config.DefaultServerConfigFromEnv()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			db, err := storage.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
			if err != nil {
				log.Fatal().Err(err).Msg("mongo probe failed")
			}
			defer func() {
				_ = db.Client().Disconnect(ctx)
			}()

			log.Info().Str("database", cfg.Mongo.Database).Msg("mongo probe ok")
		},
	}
}

func newRedis() *cobra.Command {
	return &cobra.Command{
		Use:   "redis",
		Short: "Checks connectivity to the configured Redis instance",
		Run: func(_ *cobra.Command, _ []string) {
			cfg := config.DefaultServerConfigFromEnv()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer client.Close()

			if err := client.Ping(ctx).Err(); err != nil {
				log.Fatal().Err(err).Msg("redis probe failed")
			}
			log.Info().Str("addr", cfg.Redis.Addr).Msg("redis probe ok")
		},
	}
}
