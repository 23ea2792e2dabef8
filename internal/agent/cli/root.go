// Package cli implements the textextract-agent command line interface.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/textextract/textextract/internal/agent/api"
	"github.com/textextract/textextract/internal/agent/credstore"
)

// Version is stamped at build time and sent as X-App-Version.
var Version = "dev"

type app struct {
	store   credstore.Store
	client  *api.Client
	keyring bool
}

// Execute runs the root command.
func Execute() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	a := &app{}
	var apiURL string

	root := &cobra.Command{
		Use:           "textextract-agent",
		Short:         "TextExtract desktop login agent",
		Long:          "Manages the TextExtract session on this machine: browser-based login, logout, and session status.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.store, a.keyring = credstore.Open()
			if !a.keyring {
				slog.Warn("OS keyring unavailable; session will not survive restarts")
			}
			deviceID, err := credstore.DeviceID(a.store)
			if err != nil {
				return err
			}
			a.client = api.New(apiURL, deviceID, Version)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&apiURL, "api-url", api.DefaultBaseURL, "backend base URL")

	root.AddCommand(newLoginCmd(a))
	root.AddCommand(newLogoutCmd(a))
	root.AddCommand(newStatusCmd(a))

	if err := root.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}
