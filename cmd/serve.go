package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/chatrelay/internal/logging"
	"github.com/Tyrowin/chatrelay/internal/messagelog"
	"github.com/Tyrowin/chatrelay/internal/server"
)

type serveOptions struct {
	port       string
	logBackend string
	logPath    string
	logLevel   string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay server",
		Long:  "Start the HTTP server with the websocket endpoint. Configuration comes from the environment; flags override it.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.apply(cmd, cfg)
			return runServer(cmd.Context(), *cfg, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.port, "port", "", "listen address, e.g. :8080 (overrides SERVER_PORT)")
	cmd.Flags().StringVar(&opts.logBackend, "log-backend", "", "message log backend: file or badger (overrides MESSAGE_LOG_BACKEND)")
	cmd.Flags().StringVar(&opts.logPath, "log-path", "", "message log file or badger directory (overrides MESSAGE_LOG_PATH)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	return cmd
}

func (o serveOptions) apply(cmd *cobra.Command, cfg *server.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = o.port
	}
	if flags.Changed("log-backend") {
		cfg.MessageLogBackend = o.logBackend
	}
	if flags.Changed("log-path") {
		cfg.MessageLogPath = o.logPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
}

// runServer serves until ctx is cancelled or a termination signal arrives,
// then stops the HTTP server, the hub and relay, and finally the message log.
func runServer(ctx context.Context, cfg server.Config, logOut io.Writer) (err error) {
	log := logging.New(cfg.LogLevel, cfg.LogFormat, logOut)

	sink, err := messagelog.Open(cfg.MessageLog(), log.With("component", "messagelog"))
	if err != nil {
		return fmt.Errorf("open message log: %w", err)
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close message log: %w", closeErr))
		}
	}()

	srv := server.New(cfg, sink, log)
	srv.Start()

	httpServer := server.CreateServer(srv.Config().Port, srv.Routes())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, log)
	}()

	var listenErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			listenErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown requested")
	}

	timeout := srv.Config().ShutdownTimeout
	shutdownErr := server.ShutdownServer(httpServer, timeout, log)
	stopErr := srv.Stop(timeout)
	return errors.Join(listenErr, shutdownErr, stopErr)
}
