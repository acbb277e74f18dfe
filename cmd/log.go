package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/chatrelay/internal/messagelog"
)

func newLogCmd() *cobra.Command {
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect the durable message log",
	}

	logCmd.AddCommand(newLogTailCmd())
	return logCmd
}

func newLogTailCmd() *cobra.Command {
	var (
		limit   int
		backend string
		path    string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent relayed messages as JSON lines",
		Long:  "Print the newest records of the message log, oldest first. A badger log cannot be read while a server holds it open.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts := cfg.MessageLog()
			if cmd.Flags().Changed("backend") {
				opts.Backend = backend
			}
			if cmd.Flags().Changed("path") {
				opts.Path = path
			}
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative, got %d", limit)
			}

			records, err := tailRecords(cmd, opts, limit)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, rec := range records {
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to print, 0 for all")
	cmd.Flags().StringVar(&backend, "backend", "", "message log backend: file or badger (overrides MESSAGE_LOG_BACKEND)")
	cmd.Flags().StringVar(&path, "path", "", "message log file or badger directory (overrides MESSAGE_LOG_PATH)")

	return cmd
}

func tailRecords(cmd *cobra.Command, opts messagelog.Options, limit int) ([]messagelog.Record, error) {
	// Opening creates a missing log; a read-only command must not.
	if _, err := os.Stat(opts.Path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("message log %s does not exist", opts.Path)
	}

	log, err := messagelog.Open(opts, nil)
	if err != nil {
		return nil, fmt.Errorf("open message log: %w", err)
	}
	defer func() { _ = log.Close() }()

	var records []messagelog.Record
	err = log.Each(cmd.Context(), func(rec messagelog.Record) error {
		records = append(records, rec)
		if limit > 0 && len(records) > limit {
			records = records[1:]
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read message log: %w", err)
	}
	return records, nil
}
