package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pulse/internal/engine"
	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/store"
)

// queryCommand opens the ledger, runs fn and closes it again.
func queryCommand(rootOpts *RootOptions, cmd *cobra.Command, fn func(*engine.Engine, *OutputFormatter) error) error {
	f := rootOpts.formatter(cmd)
	s, err := rootOpts.openLedger(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := fn(s.engine, f); err != nil {
		return f.LedgerError(err)
	}
	return nil
}

// NewPollCommand creates the poll command.
func NewPollCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "poll <id>",
		Short:         "Show a poll",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			return queryCommand(rootOpts, cmd, func(e *engine.Engine, f *OutputFormatter) error {
				poll, err := e.GetPoll(cmd.Context(), id)
				if err != nil {
					return err
				}
				return f.Result(poll, func(w io.Writer) { writePoll(w, poll) })
			})
		},
	}
}

func writePoll(w io.Writer, p ledger.Poll) {
	fmt.Fprintf(w, "poll %d (%s)\n", p.ID, p.Status)
	fmt.Fprintf(w, "  creator:     %s\n", p.Creator)
	fmt.Fprintf(w, "  deadline:    %s\n", p.Deadline.Format(time.RFC3339))
	fmt.Fprintf(w, "  reward:      %s pool=%d", p.RewardType, p.RewardPool)
	if p.RewardType == ledger.FixedPerResponse {
		fmt.Fprintf(w, " fixed=%d", p.FixedRewardAmount)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  responses:   %d (min %d, max %d)\n", p.ResponseCount, p.MinResponses, p.MaxResponses)
	fmt.Fprintf(w, "  whitelist:   %t\n", p.RequiresWhitelist)
	fmt.Fprintf(w, "  data hash:   %s\n", p.DataHash)
	for i, r := range p.Respondents {
		fmt.Fprintf(w, "  %3d. %s\n", i+1, r)
	}
}

// NewPollsCommand creates the polls command.
func NewPollsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "polls",
		Short:         "List all polls",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return queryCommand(rootOpts, cmd, func(e *engine.Engine, f *OutputFormatter) error {
				polls, err := e.ListPolls(cmd.Context())
				if err != nil {
					return err
				}
				return f.Result(polls, func(w io.Writer) {
					if len(polls) == 0 {
						fmt.Fprintln(w, "No polls.")
						return
					}
					for _, p := range polls {
						fmt.Fprintf(w, "%d\t%s\t%s\t%d/%d\tpool=%d\n",
							p.ID, p.Status, p.RewardType, p.ResponseCount, p.MaxResponses, p.RewardPool)
					}
				})
			})
		},
	}
}

// NewResponsesCommand creates the responses command.
func NewResponsesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "responses <poll>",
		Short:         "List a poll's responses in submission order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			return queryCommand(rootOpts, cmd, func(e *engine.Engine, f *OutputFormatter) error {
				responses, err := e.Responses(cmd.Context(), id)
				if err != nil {
					return err
				}
				return f.Result(responses, func(w io.Writer) {
					for _, r := range responses {
						rating := "-"
						if r.Rated() {
							rating = strconv.Itoa(r.QualityRating)
						}
						fmt.Fprintf(w, "%d\t%s\trating=%s\t%s\n", r.Position, r.Respondent, rating, r.DataHash)
					}
				})
			})
		},
	}
}

// NewTransfersCommand creates the transfers command.
func NewTransfersCommand(rootOpts *RootOptions) *cobra.Command {
	var pollFlag int64
	var pending bool

	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "List released transfers",
		Long: `List the transfers released from escrow, in seq order.

--pending shows only transfers the settlement layer has not yet consumed
(see "pulse settle").`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.TransferFilter{PendingOnly: pending}
			if pollFlag >= 0 {
				id := ledger.PollID(pollFlag)
				filter.PollID = &id
			}
			return queryCommand(rootOpts, cmd, func(e *engine.Engine, f *OutputFormatter) error {
				transfers, err := e.Transfers(cmd.Context(), filter)
				if err != nil {
					return err
				}
				return f.Result(transfers, func(w io.Writer) {
					for _, tr := range transfers {
						fmt.Fprintf(w, "#%d\tpoll=%d\t%s\t%s\t%d\n", tr.Seq, tr.PollID, tr.Kind, tr.Recipient, tr.Amount)
					}
					fmt.Fprintf(w, "total: %d\n", ledger.SumTransfers(transfers))
				})
			})
		},
	}

	cmd.Flags().Int64Var(&pollFlag, "poll", -1, "only transfers of this poll")
	cmd.Flags().BoolVar(&pending, "pending", false, "only unsettled transfers")

	return cmd
}

// NewSettleCommand creates the settle command.
func NewSettleCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "settle [seq...]",
		Short: "Mark transfers as executed by settlement",
		Long: `Record that the settlement layer has executed the given transfers, so
they no longer appear in "pulse transfers --pending". With --all, every
pending transfer is marked.

Example:
  pulse settle 5 6 7
  pulse settle --all`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return NewExitError(ExitCommandError, "pass transfer seqs or --all")
			}
			seqs := make([]int64, 0, len(args))
			for _, a := range args {
				n, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return WrapExitError(ExitCommandError, fmt.Sprintf("invalid seq %q", a), err)
				}
				seqs = append(seqs, n)
			}

			return queryCommand(rootOpts, cmd, func(e *engine.Engine, f *OutputFormatter) error {
				if all {
					pending, err := e.PendingTransfers(cmd.Context())
					if err != nil {
						return err
					}
					for _, tr := range pending {
						seqs = append(seqs, tr.Seq)
					}
				}
				n, err := e.MarkSettled(cmd.Context(), seqs)
				if err != nil {
					return err
				}
				return f.Result(map[string]int64{"settled": n}, func(w io.Writer) {
					fmt.Fprintf(w, "settled %d transfer(s)\n", n)
				})
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "settle every pending transfer")

	return cmd
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	var after int64
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the event log",
		Long: `Print committed events in seq order.

Example:
  pulse events --after 10 --limit 50
  pulse events --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return queryCommand(rootOpts, cmd, func(e *engine.Engine, f *OutputFormatter) error {
				evs, err := e.Events(cmd.Context(), after, limit)
				if err != nil {
					return err
				}
				return f.Result(evs, func(w io.Writer) {
					if len(evs) == 0 {
						fmt.Fprintln(w, "No events.")
						return
					}
					for _, ev := range evs {
						poll := "-"
						if ev.PollID != nil {
							poll = strconv.FormatUint(uint64(*ev.PollID), 10)
						}
						fmt.Fprintf(w, "#%d\t%s\tpoll=%s\tcmd=%s\n", ev.Seq, ev.Type, poll, ev.CommandID)
					}
				})
			})
		},
	}

	cmd.Flags().Int64Var(&after, "after", 0, "only events with a greater seq")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events to print (0 = all)")

	return cmd
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check value conservation for every poll",
		Long: `Recompute, from the transfer log, what every poll has released.

Terminal polls must have released exactly their reward pool and Active
polls nothing. Exits 1 if any poll fails the check.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var failures int
			err := queryCommand(rootOpts, cmd, func(e *engine.Engine, f *OutputFormatter) error {
				report, err := e.Audit(cmd.Context())
				if err != nil {
					return err
				}
				failures = report.Failures
				return f.Result(report, func(w io.Writer) {
					for _, p := range report.Polls {
						mark := "✓"
						if !p.OK {
							mark = "✗"
						}
						fmt.Fprintf(w, "%s poll %d (%s): pool=%d fee=%d paid=%d refunded=%d",
							mark, p.PollID, p.Status, p.RewardPool, p.Fee, p.PaidOut, p.Refunded)
						if p.Problem != "" {
							fmt.Fprintf(w, " - %s", p.Problem)
						}
						fmt.Fprintln(w)
					}
					fmt.Fprintf(w, "\nescrowed: %d, failures: %d\n", report.Escrowed, report.Failures)
				})
			})
			if err != nil {
				return err
			}
			if failures > 0 {
				return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d poll(s) failed the audit", failures), Reported: true}
			}
			return nil
		},
	}
}
