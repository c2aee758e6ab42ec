package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tay1862/kinsaep-pos-sub005/internal/config"
	"github.com/tay1862/kinsaep-pos-sub005/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
}

// ReplayResult reports one reconciliation sweep.
type ReplayResult struct {
	Scanned   int `json:"scanned"`
	Pushed    int `json:"pushed"`
	UpToDate  int `json:"upToDate"`
	Conflicts int `json:"conflicts"`
}

func (r ReplayResult) String() string {
	return fmt.Sprintf("scanned %d orders: %d pushed, %d up to date, %d conflicts (remote newer)",
		r.Scanned, r.Pushed, r.UpToDate, r.Conflicts)
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Push offline orders to the remote store",
		Long: `Sweep the local store and push every order the remote has not
seen yet.

The running daemon replays its queue automatically; this command covers
the cases the in-process queue cannot, such as a terminal that crashed
with mutations still unsynced. The sweep is idempotent: orders whose
revision the remote already holds are skipped, and orders where the
remote is newer are left alone (last writer wins).

Exit codes:
  0 - every order pushed or already up to date
  1 - sweep interrupted mid-push; rerun to finish
  2 - command error (bad config, store unreachable)

Example:
  posd replay --config ./pos.yaml
  posd replay --config ./pos.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplaySweep(opts, cmd)
		},
	}

	return cmd
}

func runReplaySweep(opts *ReplayOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return commandError(out, CodeConfig, "failed to load config", err)
	}
	if !cfg.Store.Postgres.Enabled() {
		return commandError(out, CodeConfig, "no remote store configured; nothing to replay", nil)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	local, err := store.OpenSQLite(cfg.Store.LocalPath)
	if err != nil {
		return commandError(out, CodeStore, "failed to open local store", err)
	}
	defer local.Close()

	pg := cfg.Store.Postgres
	remote, err := store.ConnectPostgres(ctx, pg.Host, pg.Port, pg.User, pg.Password, pg.Database)
	if err != nil {
		return commandError(out, CodeStore, "failed to connect remote store", err)
	}
	defer remote.Close()
	if err := remote.EnsureSchema(ctx); err != nil {
		return commandError(out, CodeStore, "failed to prepare remote schema", err)
	}

	orders, err := local.List(ctx, store.Filter{})
	if err != nil {
		return commandError(out, CodeStore, "failed to list local orders", err)
	}

	result := ReplayResult{Scanned: len(orders)}
	for _, o := range orders {
		stored, err := remote.Get(ctx, o.ID)
		switch {
		case err == nil && stored.Revision >= o.Revision:
			result.UpToDate++
			continue
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return replayInterrupted(out, fmt.Sprintf("failed to read order %s: %v", o.Code, err), result)
		}

		if _, err := remote.Put(ctx, o); err != nil {
			if store.IsConflict(err) {
				// A peer pushed a newer revision between Get and Put.
				result.Conflicts++
				out.VerboseLog("order %s: remote newer, skipped", o.Code)
				continue
			}
			return replayInterrupted(out, fmt.Sprintf("failed to push order %s: %v", o.Code, err), result)
		}
		result.Pushed++
		out.VerboseLog("order %s: pushed revision %d", o.Code, o.Revision)
	}

	return out.Success(result)
}

// commandError reports a setup failure in the configured format before
// exiting with the command-error code.
func commandError(out *OutputFormatter, code, message string, cause error) error {
	var details interface{}
	if cause != nil {
		details = cause.Error()
	}
	_ = out.Error(code, message, details)
	if cause != nil {
		return WrapExitError(ExitCommandError, message, cause)
	}
	return NewExitError(ExitCommandError, message)
}

// replayInterrupted reports a mid-sweep failure with the partial result
// so the operator can see how far the sweep got before rerunning.
func replayInterrupted(out *OutputFormatter, message string, partial ReplayResult) error {
	_ = out.Error(CodeSync, message, partial)
	return NewExitError(ExitFailure, "replay incomplete")
}
