package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tay1862/kinsaep-pos-sub005/internal/broadcast"
	"github.com/tay1862/kinsaep-pos-sub005/internal/config"
	"github.com/tay1862/kinsaep-pos-sub005/internal/reconcile"
	"github.com/tay1862/kinsaep-pos-sub005/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the terminal sync daemon",
		Long: `Start the terminal's background sync loop.

The daemon opens the local SQLite store, connects to the shared remote
store and the peer broadcast exchange when configured, and keeps the
replay queue drained so offline mutations reach the remote as soon as
connectivity returns. Without a remote the terminal runs standalone.

Example:
  posd run --config ./pos.yaml
  posd run --config ./pos.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(log)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	local, err := store.OpenSQLite(cfg.Store.LocalPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open local store", err)
	}
	defer func() {
		if closeErr := local.Close(); closeErr != nil {
			log.Error("error closing local store", "error", closeErr)
		}
	}()
	log.Info("local store ready", "path", cfg.Store.LocalPath)

	var remote store.Store
	if pg := cfg.Store.Postgres; pg.Enabled() {
		conn, err := store.ConnectPostgres(ctx, pg.Host, pg.Port, pg.User, pg.Password, pg.Database)
		if err != nil {
			// The remote being down is the normal offline case, not a
			// startup failure. The replay queue covers the gap.
			log.Warn("remote store unreachable, starting offline", "error", err)
		} else {
			if err := conn.EnsureSchema(ctx); err != nil {
				return WrapExitError(ExitCommandError, "failed to prepare remote schema", err)
			}
			defer conn.Close()
			remote = conn
			log.Info("remote store ready", "host", pg.Host)
		}
	}

	var bus broadcast.Bus
	if mq := cfg.Broadcast.AMQP; mq.Enabled() {
		b, err := broadcast.DialAMQP(mq.Host, mq.Port, mq.User, mq.Password, cfg.Terminal.ID, log)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect broadcast exchange", err)
		}
		defer b.Close()
		bus = b
		log.Info("broadcast exchange ready", "host", mq.Host)
	}

	rec := reconcile.New(local, remote, bus, cfg.Terminal.ID, log)
	if bus != nil {
		stop, err := rec.Attach()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to subscribe to broadcasts", err)
		}
		defer stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info("terminal sync loop started", "terminal", cfg.Terminal.ID)
	rec.Run(ctx)
	log.Info("terminal sync loop stopped", "queued", rec.QueueLen())
	return nil
}
