package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pulse/internal/ledger"
)

// Scenario is a scripted run against a fresh ledger.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Owner is the platform owner. Defaults to "owner".
	Owner string `yaml:"owner,omitempty"`

	// FeePercent is the platform fee at initialization.
	FeePercent int `yaml:"fee_percent"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one command or clock movement.
type Step struct {
	Op string `yaml:"op"`

	// As is the calling participant.
	As string `yaml:"as,omitempty"`

	Poll ledger.PollID `yaml:"poll,omitempty"`

	// create_poll. Deadline is a duration relative to the current wall
	// clock. Manifest replaces every other creation field.
	Manifest          string `yaml:"manifest,omitempty"`
	Deadline          string `yaml:"deadline,omitempty"`
	Min               int    `yaml:"min,omitempty"`
	Max               int    `yaml:"max,omitempty"`
	RewardType        string `yaml:"reward_type,omitempty"`
	Fixed             int64  `yaml:"fixed,omitempty"`
	Escrow            int64  `yaml:"escrow,omitempty"`
	RequiresWhitelist bool   `yaml:"requires_whitelist,omitempty"`
	DataHash          string `yaml:"data_hash,omitempty"`

	// whitelist_add, whitelist_remove
	Participants []string `yaml:"participants,omitempty"`

	// rate
	Respondent string `yaml:"respondent,omitempty"`
	Rating     int    `yaml:"rating,omitempty"`

	// set_fee
	Fee int `yaml:"fee,omitempty"`

	// advance
	By string `yaml:"by,omitempty"`

	// ExpectError is the ledger error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step operations.
const (
	OpCreatePoll      = "create_poll"
	OpSubmit          = "submit"
	OpFinalize        = "finalize"
	OpCancel          = "cancel"
	OpWhitelistAdd    = "whitelist_add"
	OpWhitelistRemove = "whitelist_remove"
	OpRate            = "rate"
	OpSetFee          = "set_fee"
	OpAdvance         = "advance"
)

// Assertion checks the ledger after all steps ran.
type Assertion struct {
	Type string `yaml:"type"`

	Poll        *ledger.PollID `yaml:"poll,omitempty"`
	Status      string         `yaml:"status,omitempty"`
	Count       *int           `yaml:"count,omitempty"`
	Participant string         `yaml:"participant,omitempty"`
	Amount      *int64         `yaml:"amount,omitempty"`
	Event       string         `yaml:"event,omitempty"`
	Events      []string       `yaml:"events,omitempty"`
	Fee         *int           `yaml:"fee,omitempty"`

	// Transfers lists the expected releases of Poll (transfers assertion).
	Transfers []ExpectedTransfer `yaml:"transfers,omitempty"`
}

// ExpectedTransfer is one release in a transfers assertion.
type ExpectedTransfer struct {
	Recipient string `yaml:"recipient"`
	Amount    int64  `yaml:"amount"`
	Kind      string `yaml:"kind"`
}

// Assertion type constants.
const (
	AssertPollStatus    = "poll_status"
	AssertResponseCount = "response_count"
	AssertTransfers     = "transfers"
	AssertBalance       = "balance"
	AssertConservation  = "conservation"
	AssertEventCount    = "event_count"
	AssertEventOrder    = "event_order"
	AssertFeePercent    = "fee_percent"
)

// LoadScenario reads and parses a scenario YAML file. Manifest paths are
// resolved relative to the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range scenario.Steps {
		m := scenario.Steps[i].Manifest
		if m != "" && !filepath.IsAbs(m) {
			scenario.Steps[i].Manifest = filepath.Join(base, m)
		}
	}
	for i, step := range scenario.Steps {
		if step.Manifest == "" {
			continue
		}
		if _, err := os.Stat(step.Manifest); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: steps[%d]: manifest not found: %s", i, step.Manifest)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML. Manifest paths are left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml and *.yml file in dir, sorted by file
// name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios found in %s", dir)
	}

	scenarios := make([]*Scenario, 0, len(paths))
	names := make(map[string]string)
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if prev, dup := names[s.Name]; dup {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", filepath.Base(p), s.Name, prev)
		}
		names[s.Name] = filepath.Base(p)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step) error {
	needsCaller := true
	switch st.Op {
	case "":
		return fmt.Errorf("steps[%d]: op is required", i)
	case OpCreatePoll:
		if st.Manifest == "" {
			if st.Deadline == "" {
				return fmt.Errorf("steps[%d]: create_poll requires deadline or manifest", i)
			}
			if _, err := time.ParseDuration(st.Deadline); err != nil {
				return fmt.Errorf("steps[%d]: invalid deadline %q: %w", i, st.Deadline, err)
			}
		}
	case OpSubmit, OpCancel, OpFinalize, OpSetFee:
	case OpWhitelistAdd, OpWhitelistRemove:
		if len(st.Participants) == 0 {
			return fmt.Errorf("steps[%d]: %s requires participants", i, st.Op)
		}
	case OpRate:
		if st.Respondent == "" {
			return fmt.Errorf("steps[%d]: rate requires respondent", i)
		}
	case OpAdvance:
		needsCaller = false
		if _, err := time.ParseDuration(st.By); err != nil {
			return fmt.Errorf("steps[%d]: invalid advance %q: %w", i, st.By, err)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, st.Op)
	}

	if needsCaller && st.As == "" && st.Op != OpFinalize {
		return fmt.Errorf("steps[%d]: %s requires as", i, st.Op)
	}
	if st.ExpectError != "" && !validErrorCode(st.ExpectError) {
		return fmt.Errorf("steps[%d]: unknown error code %q", i, st.ExpectError)
	}
	return nil
}

func validErrorCode(code string) bool {
	for _, c := range ledger.ErrorCodes {
		if string(c) == code {
			return true
		}
	}
	return false
}

func validateAssertion(i int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	case AssertPollStatus:
		if a.Poll == nil || a.Status == "" {
			return fmt.Errorf("assertions[%d]: poll_status requires poll and status", i)
		}
	case AssertResponseCount:
		if a.Poll == nil || a.Count == nil {
			return fmt.Errorf("assertions[%d]: response_count requires poll and count", i)
		}
	case AssertTransfers:
		if a.Poll == nil {
			return fmt.Errorf("assertions[%d]: transfers requires poll", i)
		}
	case AssertBalance:
		if a.Participant == "" || a.Amount == nil {
			return fmt.Errorf("assertions[%d]: balance requires participant and amount", i)
		}
	case AssertConservation:
	case AssertEventCount:
		if a.Event == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: event_count requires event and count", i)
		}
	case AssertEventOrder:
		if len(a.Events) < 2 {
			return fmt.Errorf("assertions[%d]: event_order requires at least 2 events", i)
		}
	case AssertFeePercent:
		if a.Fee == nil {
			return fmt.Errorf("assertions[%d]: fee_percent requires fee", i)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
