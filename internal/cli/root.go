package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/roach88/pulse/internal/engine"
	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/store"
)

// Environment variables consulted when the matching flag is not set. A .env
// file in the working directory is loaded first; real environment variables
// win over it.
const (
	EnvDatabase    = "PULSE_DB"
	EnvParticipant = "PULSE_PARTICIPANT"
	EnvAddr        = "PULSE_ADDR"
	EnvRedisAddr   = "PULSE_REDIS_ADDR"
)

// DefaultDatabase is used when neither --db nor PULSE_DB is set.
const DefaultDatabase = "pulse.db"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Database string
	As       string // acting participant
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the pulse CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pulse",
		Short: "Pulse - poll and reward ledger",
		Long: `A ledger for polls with escrowed reward pools.

Creators escrow value when opening a poll; respondents answer once each
within the deadline; the pool is split by the poll's reward policy when
the poll closes, less the platform fee.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.loadEnv(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", DefaultDatabase, "path to SQLite database (env "+EnvDatabase+")")
	cmd.PersistentFlags().StringVar(&opts.As, "as", "", "acting participant (env "+EnvParticipant+")")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewRespondCommand(opts))
	cmd.AddCommand(NewFinalizeCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewWhitelistCommand(opts))
	cmd.AddCommand(NewRateCommand(opts))
	cmd.AddCommand(NewFeeCommand(opts))
	cmd.AddCommand(NewPollCommand(opts))
	cmd.AddCommand(NewPollsCommand(opts))
	cmd.AddCommand(NewResponsesCommand(opts))
	cmd.AddCommand(NewTransfersCommand(opts))
	cmd.AddCommand(NewSettleCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadEnv fills unset flags from the environment.
func (o *RootOptions) loadEnv(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return WrapExitError(ExitCommandError, "failed to load .env", err)
	}

	flags := cmd.Flags()
	if !flags.Changed("db") {
		if v := os.Getenv(EnvDatabase); v != "" {
			o.Database = v
		}
	}
	if !flags.Changed("as") {
		if v := os.Getenv(EnvParticipant); v != "" {
			o.As = v
		}
	}
	return nil
}

// formatter returns an OutputFormatter bound to cmd's writers.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger writes to stderr: warnings only, or everything with --verbose.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// caller returns the acting participant or a command error naming the flag.
func (o *RootOptions) caller() (ledger.Participant, error) {
	if o.As == "" {
		return "", NewExitError(ExitCommandError, "--as is required (or set "+EnvParticipant+")")
	}
	return ledger.Participant(o.As), nil
}

// ledgerSession is an open database with an engine on top.
type ledgerSession struct {
	store  *store.Store
	engine *engine.Engine
}

func (s *ledgerSession) Close() error {
	return s.store.Close()
}

// openLedger opens the configured database. Extra options are applied after
// the logger.
func (o *RootOptions) openLedger(ctx context.Context, cmd *cobra.Command, extra ...engine.Option) (*ledgerSession, error) {
	st, err := store.Open(o.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	opts := append([]engine.Option{engine.WithLogger(o.logger(cmd.ErrOrStderr()))}, extra...)
	eng, err := engine.New(ctx, st, opts...)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	return &ledgerSession{store: st, engine: eng}, nil
}
