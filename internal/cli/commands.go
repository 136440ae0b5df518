package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pulse/internal/engine"
	"github.com/roach88/pulse/internal/fingerprint"
	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/manifest"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var owner string
	var fee int

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the platform owner and fee",
		Long: `Initialize a new ledger with its platform owner and fee percentage.

The owner receives the platform fee of every distribution. The fee is at
most 10 percent. A ledger can only be initialized once.

Example:
  pulse init --owner treasury --fee 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				owner = rootOpts.As
			}
			if owner == "" {
				return NewExitError(ExitCommandError, "--owner is required")
			}

			f := rootOpts.formatter(cmd)
			s, err := rootOpts.openLedger(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			cfg, err := s.engine.Initialize(cmd.Context(), ledger.Participant(owner), fee)
			if err != nil {
				return f.LedgerError(err)
			}
			return f.Result(cfg, func(w io.Writer) {
				fmt.Fprintf(w, "initialized: owner=%s fee=%d%%\n", cfg.Owner, cfg.FeePercent)
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "platform owner (defaults to --as)")
	cmd.Flags().IntVar(&fee, "fee", 0, "platform fee percentage (0-10)")

	return cmd
}

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	Manifest          string
	Deadline          string
	Min               int
	Max               int
	RewardType        string
	Fixed             int64
	Escrow            int64
	RequiresWhitelist bool
	DataHash          string
	Question          string
	Options           []string
	Whitelist         []string
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a poll and escrow its reward pool",
		Long: `Create a poll, either from a CUE manifest or from flags.

--deadline accepts a duration from now (90m, 24h) or an RFC 3339 time.
Without --data-hash, the poll data is fingerprinted from --question and
--option.

Examples:
  pulse create --as alice --manifest poll.cue
  pulse create --as alice --deadline 24h --max 10 --reward-type equal_split --escrow 1000
  pulse create --as alice --deadline 1h --max 5 --reward-type fixed_per_response --fixed 20 --escrow 100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "path to a CUE poll manifest")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline as a duration from now or RFC 3339 time")
	cmd.Flags().IntVar(&opts.Min, "min", 1, "minimum responses for a payout")
	cmd.Flags().IntVar(&opts.Max, "max", 0, "maximum responses")
	cmd.Flags().StringVar(&opts.RewardType, "reward-type", string(ledger.EqualSplit), "equal_split|fixed_per_response|weighted_quality")
	cmd.Flags().Int64Var(&opts.Fixed, "fixed", 0, "reward per response (fixed_per_response)")
	cmd.Flags().Int64Var(&opts.Escrow, "escrow", 0, "value to escrow as the reward pool")
	cmd.Flags().BoolVar(&opts.RequiresWhitelist, "requires-whitelist", false, "only whitelisted participants may respond")
	cmd.Flags().StringVar(&opts.DataHash, "data-hash", "", "poll data fingerprint")
	cmd.Flags().StringVar(&opts.Question, "question", "", "poll question (fingerprinted when --data-hash is empty)")
	cmd.Flags().StringArrayVar(&opts.Options, "option", nil, "answer option (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Whitelist, "whitelist", nil, "initial whitelist")
	cmd.MarkFlagsMutuallyExclusive("manifest", "deadline")
	cmd.MarkFlagsMutuallyExclusive("manifest", "data-hash")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := opts.formatter(cmd)

	as, err := opts.caller()
	if err != nil {
		return err
	}

	params, err := opts.params(time.Now())
	if err != nil {
		var cerr *manifest.CompileError
		if errors.As(err, &cerr) {
			return reportManifestError(f, cerr)
		}
		return WrapExitError(ExitCommandError, "invalid poll parameters", err)
	}

	s, err := opts.openLedger(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	out, err := s.engine.CreatePoll(ctx, as, params)
	if err != nil {
		return f.LedgerError(err)
	}

	f.VerboseLog("poll %d escrowed %d", out.Poll.ID, out.Poll.RewardPool)
	return f.Outcome(fmt.Sprintf("created poll %d", out.Poll.ID), out)
}

func (o *CreateOptions) params(now time.Time) (ledger.PollParams, error) {
	whitelist := participantsOf(o.Whitelist)

	if o.Manifest != "" {
		m, err := manifest.LoadFile(o.Manifest)
		if err != nil {
			return ledger.PollParams{}, err
		}
		params, err := m.Params(now)
		if err != nil {
			return ledger.PollParams{}, err
		}
		params.Whitelist = append(params.Whitelist, whitelist...)
		return params, nil
	}

	if o.Deadline == "" {
		return ledger.PollParams{}, errors.New("--deadline or --manifest is required")
	}
	deadline, err := parseDeadline(o.Deadline, now)
	if err != nil {
		return ledger.PollParams{}, err
	}
	rt, err := ledger.ParseRewardType(o.RewardType)
	if err != nil {
		return ledger.PollParams{}, err
	}

	hash := o.DataHash
	if hash == "" {
		hash, err = fingerprint.PollData(o.Question, o.Options)
		if err != nil {
			return ledger.PollParams{}, err
		}
	}

	return ledger.PollParams{
		Deadline:          deadline,
		MinResponses:      o.Min,
		MaxResponses:      o.Max,
		FixedRewardAmount: ledger.Amount(o.Fixed),
		RewardType:        rt,
		RequiresWhitelist: o.RequiresWhitelist || len(whitelist) > 0,
		DataHash:          hash,
		Escrow:            ledger.Amount(o.Escrow),
		Whitelist:         whitelist,
	}, nil
}

// parseDeadline accepts a duration relative to now or an RFC 3339 time.
func parseDeadline(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid deadline %q: want a duration or RFC 3339 time", s)
	}
	return t, nil
}

// NewRespondCommand creates the respond command.
func NewRespondCommand(rootOpts *RootOptions) *cobra.Command {
	var answer, hash string

	cmd := &cobra.Command{
		Use:   "respond <poll>",
		Short: "Submit a response to a poll",
		Long: `Submit the acting participant's response to a poll.

The answer is fingerprinted together with the poll id; pass --hash to
submit a precomputed fingerprint instead. A response that fills the poll
closes it and distributes the pool.

Example:
  pulse respond 0 --as bob --answer "yes"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f := rootOpts.formatter(cmd)

			id, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			as, err := rootOpts.caller()
			if err != nil {
				return err
			}
			if hash == "" {
				hash, err = fingerprint.Answer(id, answer)
				if err != nil {
					return err
				}
			}

			s, err := rootOpts.openLedger(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.engine.SubmitResponse(ctx, id, as, hash)
			if err != nil {
				return f.LedgerError(err)
			}
			summary := fmt.Sprintf("response %d recorded on poll %d", out.Poll.ResponseCount, id)
			if out.Poll.Status == ledger.StatusClosed {
				summary += " (poll closed)"
			}
			return f.Outcome(summary, out)
		},
	}

	cmd.Flags().StringVar(&answer, "answer", "", "answer text")
	cmd.Flags().StringVar(&hash, "hash", "", "precomputed answer fingerprint")
	cmd.MarkFlagsOneRequired("answer", "hash")
	cmd.MarkFlagsMutuallyExclusive("answer", "hash")

	return cmd
}

// NewFinalizeCommand creates the finalize command.
func NewFinalizeCommand(rootOpts *RootOptions) *cobra.Command {
	return pollCommand(rootOpts, pollCommandDef{
		use:   "finalize <poll>",
		short: "Close a poll after its deadline",
		long: `Close an Active poll whose deadline has passed. Anyone may finalize.

If the poll reached its minimum responses the pool is distributed,
otherwise it is refunded to the creator.

Example:
  pulse finalize 0`,
		summary: "finalized poll %d",
		run: func(e *engine.Engine, cmd *cobra.Command, id ledger.PollID, as ledger.Participant) (engine.Outcome, error) {
			return e.Finalize(cmd.Context(), id, as)
		},
	})
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return pollCommand(rootOpts, pollCommandDef{
		use:   "cancel <poll>",
		short: "Cancel a poll and refund its pool",
		long: `Cancel an Active poll. Only the creator may cancel; the whole pool is
refunded to them and no fee is taken.

Example:
  pulse cancel 0 --as alice`,
		summary:       "cancelled poll %d",
		requireCaller: true,
		run: func(e *engine.Engine, cmd *cobra.Command, id ledger.PollID, as ledger.Participant) (engine.Outcome, error) {
			return e.CancelPoll(cmd.Context(), id, as)
		},
	})
}

type pollCommandDef struct {
	use, short, long string
	summary          string
	requireCaller    bool
	run              func(*engine.Engine, *cobra.Command, ledger.PollID, ledger.Participant) (engine.Outcome, error)
}

// pollCommand builds a command whose only argument is a poll id.
func pollCommand(rootOpts *RootOptions, def pollCommandDef) *cobra.Command {
	return &cobra.Command{
		Use:           def.use,
		Short:         def.short,
		Long:          def.long,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			id, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			as := ledger.Participant(rootOpts.As)
			if def.requireCaller {
				if as, err = rootOpts.caller(); err != nil {
					return err
				}
			}

			s, err := rootOpts.openLedger(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := def.run(s.engine, cmd, id, as)
			if err != nil {
				return f.LedgerError(err)
			}
			return f.Outcome(fmt.Sprintf(def.summary, id), out)
		},
	}
}

// NewWhitelistCommand creates the whitelist command group.
func NewWhitelistCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Edit or inspect a poll's whitelist",
	}

	edit := func(use, short string, add bool) *cobra.Command {
		return &cobra.Command{
			Use:           use + " <poll> <participant>...",
			Short:         short,
			Args:          cobra.MinimumNArgs(2),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				f := rootOpts.formatter(cmd)

				id, err := parsePollID(args[0])
				if err != nil {
					return err
				}
				as, err := rootOpts.caller()
				if err != nil {
					return err
				}

				s, err := rootOpts.openLedger(ctx, cmd)
				if err != nil {
					return err
				}
				defer s.Close()

				members := participantsOf(args[1:])
				var out engine.Outcome
				if add {
					out, err = s.engine.AddToWhitelist(ctx, id, as, members)
				} else {
					out, err = s.engine.RemoveFromWhitelist(ctx, id, as, members)
				}
				if err != nil {
					return f.LedgerError(err)
				}
				summary := fmt.Sprintf("whitelist of poll %d updated", id)
				if len(out.Events) == 0 {
					summary = fmt.Sprintf("whitelist of poll %d unchanged", id)
				}
				return f.Outcome(summary, out)
			},
		}
	}

	check := &cobra.Command{
		Use:           "check <poll> <participant>",
		Short:         "Report whether a participant may respond",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			id, err := parsePollID(args[0])
			if err != nil {
				return err
			}

			s, err := rootOpts.openLedger(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			p := ledger.Participant(args[1])
			ok, err := s.engine.IsWhitelisted(cmd.Context(), id, p)
			if err != nil {
				return f.LedgerError(err)
			}
			data := map[string]any{"poll_id": id, "participant": p, "whitelisted": ok}
			return f.Result(data, func(w io.Writer) {
				fmt.Fprintf(w, "%s whitelisted on poll %d: %t\n", p, id, ok)
			})
		},
	}

	cmd.AddCommand(edit("add", "Add participants to a poll's whitelist", true))
	cmd.AddCommand(edit("remove", "Remove participants from a poll's whitelist", false))
	cmd.AddCommand(check)
	return cmd
}

// NewRateCommand creates the rate command.
func NewRateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rate <poll> <respondent> <rating>",
		Short: "Rate a response (weighted_quality polls)",
		Long: `Assign a quality rating from 1 to 10 to a response. Only the poll's
creator may rate, and only while the poll is Active. Rating again
replaces the previous rating.

Example:
  pulse rate 0 bob 8 --as alice`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f := rootOpts.formatter(cmd)

			id, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			rating, err := strconv.Atoi(args[2])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid rating", err)
			}
			as, err := rootOpts.caller()
			if err != nil {
				return err
			}

			s, err := rootOpts.openLedger(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.engine.RateResponse(ctx, id, as, ledger.Participant(args[1]), rating)
			if err != nil {
				return f.LedgerError(err)
			}
			return f.Outcome(fmt.Sprintf("rated %s %d on poll %d", args[1], rating, id), out)
		},
	}
}

// NewFeeCommand creates the fee command.
func NewFeeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fee",
		Short: "Show the platform configuration",
		Long: `Show the platform owner and fee, or change the fee with "fee set".

A new fee applies to distributions from then on, including polls that
were created before the change.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s, err := rootOpts.openLedger(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			cfg, err := s.engine.Platform(cmd.Context())
			if err != nil {
				return f.LedgerError(err)
			}
			return f.Result(cfg, func(w io.Writer) {
				fmt.Fprintf(w, "owner=%s fee=%d%%\n", cfg.Owner, cfg.FeePercent)
			})
		},
	}

	set := &cobra.Command{
		Use:           "set <percent>",
		Short:         "Change the platform fee (owner only)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			pct, err := strconv.Atoi(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid fee", err)
			}
			as, err := rootOpts.caller()
			if err != nil {
				return err
			}

			s, err := rootOpts.openLedger(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.engine.SetPlatformFee(cmd.Context(), as, pct)
			if err != nil {
				return f.LedgerError(err)
			}
			return f.Outcome(fmt.Sprintf("fee set to %d%%", pct), out)
		},
	}

	cmd.AddCommand(set)
	return cmd
}

func parsePollID(s string) (ledger.PollID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, fmt.Sprintf("invalid poll id %q", s), err)
	}
	return ledger.PollID(n), nil
}

func participantsOf(ids []string) []ledger.Participant {
	out := make([]ledger.Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, ledger.Participant(id))
	}
	return out
}

func reportManifestError(f *OutputFormatter, cerr *manifest.CompileError) error {
	details := map[string]any{"field": cerr.Field}
	if cerr.Pos.IsValid() {
		details["file"] = cerr.Pos.Filename()
		details["line"] = cerr.Pos.Line()
		details["column"] = cerr.Pos.Column()
	}
	if err := f.Error(ErrCodeManifest, cerr.Error(), details); err != nil {
		return err
	}
	return &ExitError{Code: ExitCommandError, Message: "invalid manifest", Err: cerr, Reported: true}
}
