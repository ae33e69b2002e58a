package env

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/korosenseiac/Teloks/internal/config"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Prints the resolved server configuration",
		Run: func(_ *cobra.Command, _ []string) {
			cfg := config.DefaultServerConfigFromEnv()
			cfg.Telegram.BotToken = redact(cfg.Telegram.BotToken)
			cfg.Telegram.AppHash = redact(cfg.Telegram.AppHash)
			cfg.Redis.Password = redact(cfg.Redis.Password)

			out, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				log.Fatal().Err(err).Msg("failed to marshal config")
			}
			fmt.Println(string(out))
		},
	}
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "<redacted>"
}
