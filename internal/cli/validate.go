package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/manifest"
)

// ValidationResult summarizes a valid manifest.
type ValidationResult struct {
	Valid        bool   `json:"valid"`
	Question     string `json:"question"`
	RewardType   string `json:"reward_type"`
	Escrow       int64  `json:"escrow"`
	MinResponses int    `json:"min_responses"`
	MaxResponses int    `json:"max_responses"`
	Whitelist    int    `json:"whitelist"`
	DataHash     string `json:"data_hash"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Check a poll manifest without creating the poll",
		Long: `Compile a CUE poll manifest and check it against the poll schema.

Errors carry the CUE source position. Nothing is written to the ledger.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	var params ledger.PollParams
	m, err := manifest.LoadFile(path)
	if err == nil {
		params, err = m.Params(time.Now())
	}
	if err != nil {
		var cerr *manifest.CompileError
		if errors.As(err, &cerr) {
			return reportManifestError(f, cerr)
		}
		return WrapExitError(ExitCommandError, "failed to load manifest", err)
	}

	result := ValidationResult{
		Valid:        true,
		Question:     m.Question,
		RewardType:   string(params.RewardType),
		Escrow:       int64(params.Escrow),
		MinResponses: params.MinResponses,
		MaxResponses: params.MaxResponses,
		Whitelist:    len(m.Whitelist),
		DataHash:     params.DataHash,
	}
	return f.Result(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s\n", path)
		fmt.Fprintf(w, "  %s, escrow %d, %d-%d responses\n",
			result.RewardType, result.Escrow, result.MinResponses, result.MaxResponses)
	})
}
