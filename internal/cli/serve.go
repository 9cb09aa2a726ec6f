package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/sparked/internal/runtime"
	"github.com/drblury/sparked/internal/runtime/config"
	loggingpkg "github.com/drblury/sparked/internal/runtime/logging"
)

// ShutdownTimeout bounds the disconnect after a stop signal.
const ShutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "serve --config <file>",
		Short: "Run a service until interrupted",
		Long: `Build a service from a YAML config file, connect it and keep it running
until SIGINT or SIGTERM. Logs are written to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, path, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "path to the service config file")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func newLogger(opts *RootOptions, w io.Writer) loggingpkg.ServiceLogger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return loggingpkg.NewSlogServiceLogger(slog.New(handler))
}

// runServe blocks until ctx is done.
func runServe(ctx context.Context, opts *RootOptions, path string, logOut io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}

	logger := newLogger(opts, logOut)
	svc, err := runtime.NewServiceFromConfig(cfg, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "build service", err)
	}
	if err := svc.Connect(ctx); err != nil {
		return WrapExitError(ExitFailure, "connect", err)
	}

	<-ctx.Done()
	logger.Info("Shutting down", loggingpkg.LogFields{"reason": context.Cause(ctx).Error()})

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := svc.Disconnect(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "disconnect", err)
	}
	return nil
}
