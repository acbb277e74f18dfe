package cmd

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/chatrelay/internal/server"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Presence and direct message relay over websockets",
		Long:          "chatrelay tracks which users are online, relays direct messages between their websocket connections, and appends every relayed message to a durable log.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().String("env-file", ".env", "optional dotenv file read before the environment")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newLogCmd(),
	)

	return rootCmd
}

// loadConfig reads the env file named by --env-file and the environment. A
// missing default .env is skipped; a missing file named on the command line
// is reported.
func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("env-file") {
		if _, err := os.Stat(envFile); errors.Is(err, fs.ErrNotExist) {
			slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)).
				Warn("env file not found; using environment only", "path", envFile)
		}
	}
	return server.LoadConfig(envFile)
}
