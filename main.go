package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/korosenseiac/Teloks/cmd/env"
	"github.com/korosenseiac/Teloks/cmd/probe"
	"github.com/korosenseiac/Teloks/cmd/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "teloks",
		Short: "Relays restricted Telegram content to its requester",
	}

	rootCmd.AddCommand(
		server.New(),
		env.New(),
		probe.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("failed to execute command")
	}
}
