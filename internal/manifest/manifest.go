package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/pulse/internal/fingerprint"
	"github.com/roach88/pulse/internal/ledger"
)

//go:embed schema.cue
var schemaSource string

// Manifest is a decoded, schema-checked poll definition.
type Manifest struct {
	Question          string   `json:"question"`
	Options           []string `json:"options"`
	Deadline          string   `json:"deadline,omitempty"`
	Duration          string   `json:"duration,omitempty"`
	MinResponses      int      `json:"min_responses"`
	MaxResponses      int      `json:"max_responses"`
	RewardType        string   `json:"reward_type"`
	RewardPool        int64    `json:"reward_pool,omitempty"`
	FixedReward       int64    `json:"fixed_reward,omitempty"`
	RequiresWhitelist bool     `json:"requires_whitelist"`
	Whitelist         []string `json:"whitelist,omitempty"`

	pos token.Pos
}

// LoadFile reads and compiles the manifest at path.
func LoadFile(path string) (*Manifest, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Load(path, src)
}

// Load compiles src, checks its poll value against the schema and decodes it.
// filename is only used in error positions.
func Load(filename string, src []byte) (*Manifest, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	pollVal := v.LookupPath(cue.ParsePath("poll"))
	if !pollVal.Exists() {
		return nil, &CompileError{
			Field:   "poll",
			Message: "poll is required",
			Pos:     v.Pos(),
		}
	}

	unified := schema.LookupPath(cue.ParsePath("#Poll")).Unify(pollVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	m := &Manifest{pos: pollVal.Pos()}
	if err := unified.Decode(m); err != nil {
		return nil, formatCUEError(err)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return m, nil
}

// check enforces the cross-field rules the schema leaves open.
func (m *Manifest) check() error {
	switch {
	case m.Deadline == "" && m.Duration == "":
		return m.errorf("deadline", "one of deadline or duration is required")
	case m.Deadline != "" && m.Duration != "":
		return m.errorf("deadline", "deadline and duration are mutually exclusive")
	}
	if m.Deadline != "" {
		if _, err := time.Parse(time.RFC3339, m.Deadline); err != nil {
			return m.errorf("deadline", fmt.Sprintf("invalid RFC 3339 time %q", m.Deadline))
		}
	}
	if m.Duration != "" {
		d, err := time.ParseDuration(m.Duration)
		if err != nil || d <= 0 {
			return m.errorf("duration", fmt.Sprintf("invalid positive duration %q", m.Duration))
		}
	}

	if ledger.RewardType(m.RewardType) == ledger.FixedPerResponse {
		if m.FixedReward == 0 {
			return m.errorf("fixed_reward", "fixed_reward is required for fixed_per_response")
		}
	} else {
		if m.FixedReward != 0 {
			return m.errorf("fixed_reward", "fixed_reward only applies to fixed_per_response")
		}
		if m.RewardPool == 0 {
			return m.errorf("reward_pool", "reward_pool is required")
		}
	}

	if len(m.Whitelist) > 0 && !m.RequiresWhitelist {
		return m.errorf("whitelist", "whitelist given but requires_whitelist is false")
	}
	return nil
}

// DataHash fingerprints the question and options.
func (m *Manifest) DataHash() (string, error) {
	return fingerprint.PollData(m.Question, m.Options)
}

// Params converts the manifest into creation parameters. A relative
// duration is resolved against now. For fixed_per_response polls without an
// explicit pool, the escrow is fixed_reward * max_responses.
func (m *Manifest) Params(now time.Time) (ledger.PollParams, error) {
	hash, err := m.DataHash()
	if err != nil {
		return ledger.PollParams{}, fmt.Errorf("fingerprint poll data: %w", err)
	}

	var deadline time.Time
	if m.Duration != "" {
		d, err := time.ParseDuration(m.Duration)
		if err != nil {
			return ledger.PollParams{}, m.errorf("duration", err.Error())
		}
		deadline = now.Add(d)
	} else {
		deadline, err = time.Parse(time.RFC3339, m.Deadline)
		if err != nil {
			return ledger.PollParams{}, m.errorf("deadline", err.Error())
		}
	}

	escrow := ledger.Amount(m.RewardPool)
	if ledger.RewardType(m.RewardType) == ledger.FixedPerResponse && escrow == 0 {
		escrow = ledger.Amount(m.FixedReward) * ledger.Amount(m.MaxResponses)
	}

	params := ledger.PollParams{
		Deadline:          deadline,
		MinResponses:      m.MinResponses,
		MaxResponses:      m.MaxResponses,
		FixedRewardAmount: ledger.Amount(m.FixedReward),
		RewardType:        ledger.RewardType(m.RewardType),
		RequiresWhitelist: m.RequiresWhitelist,
		DataHash:          hash,
		Escrow:            escrow,
	}
	if len(m.Whitelist) > 0 {
		params.Whitelist = m.Participants()
	}
	return params, nil
}

// Participants returns the initial whitelist.
func (m *Manifest) Participants() []ledger.Participant {
	out := make([]ledger.Participant, len(m.Whitelist))
	for i, p := range m.Whitelist {
		out[i] = ledger.Participant(p)
	}
	return out
}

func (m *Manifest) errorf(field, msg string) error {
	return &CompileError{Field: "poll." + field, Message: msg, Pos: m.pos}
}

// CompileError represents a manifest error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: strings.TrimSpace(errors.Details(first, nil)),
			Pos:     positions[0],
		}
	}
	return err
}
