package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/pulse/internal/engine"
	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/manifest"
	"github.com/roach88/pulse/internal/store"
	"github.com/roach88/pulse/internal/testutil"
)

// DefaultOwner is the platform owner when a scenario names none.
const DefaultOwner = "owner"

// Harness executes one scenario against its own ledger.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.FakeClock
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. A step that behaves
// differently from what the scenario expects is recorded as a result error
// and the run continues; the returned error is reserved for infrastructure
// failures.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewFakeClock(testutil.Epoch)
	eng, err := engine.New(ctx, st,
		engine.WithWallClock(clock),
		engine.WithCommandIDs(testutil.NewSequentialIDs(scenario.Name)),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	owner := scenario.Owner
	if owner == "" {
		owner = DefaultOwner
	}
	if _, err := eng.Initialize(ctx, ledger.Participant(owner), scenario.FeePercent); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	h := &Harness{
		store:  st,
		engine: eng,
		clock:  clock,
		logger: logger,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}

	for _, msg := range EvaluateAssertions(ctx, eng, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep runs one step and records its trace. Ledger errors are
// compared with the step's expect_error; anything else is returned.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	trace := StepTrace{Step: i, Op: step.Op, As: step.As}

	if step.Op == OpAdvance {
		d, err := time.ParseDuration(step.By)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		result.Trace = append(result.Trace, trace)
		return nil
	}

	out, err := h.dispatch(ctx, step)
	code := ledger.CodeOf(err)
	if err != nil && code == "" {
		return err
	}

	switch {
	case err != nil && step.ExpectError == "":
		result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", i, step.Op, err))
	case err != nil && string(code) != step.ExpectError:
		result.AddError(fmt.Sprintf("step %d (%s): expected %s, got %v", i, step.Op, step.ExpectError, err))
	case err == nil && step.ExpectError != "":
		result.AddError(fmt.Sprintf("step %d (%s): expected %s, got success", i, step.Op, step.ExpectError))
	}

	if err != nil {
		trace.Error = string(code)
	}
	for _, ev := range out.Events {
		trace.Events = append(trace.Events, EventTrace{Seq: ev.Seq, Type: ev.Type})
	}
	for _, tr := range out.Transfers {
		trace.Transfers = append(trace.Transfers, TransferTrace{
			Seq:       tr.Seq,
			Recipient: tr.Recipient,
			Amount:    tr.Amount,
			Kind:      tr.Kind,
		})
	}
	result.Trace = append(result.Trace, trace)

	h.logger.Debug("scenario step", "step", i, "op", step.Op, "as", step.As, "error", code)
	return nil
}

func (h *Harness) dispatch(ctx context.Context, step Step) (engine.Outcome, error) {
	as := ledger.Participant(step.As)
	switch step.Op {
	case OpCreatePoll:
		params, err := h.pollParams(step)
		if err != nil {
			return engine.Outcome{}, err
		}
		return h.engine.CreatePoll(ctx, as, params)
	case OpSubmit:
		hash := step.DataHash
		if hash == "" {
			hash = "answer:" + step.As
		}
		return h.engine.SubmitResponse(ctx, step.Poll, as, hash)
	case OpFinalize:
		return h.engine.Finalize(ctx, step.Poll, as)
	case OpCancel:
		return h.engine.CancelPoll(ctx, step.Poll, as)
	case OpWhitelistAdd:
		return h.engine.AddToWhitelist(ctx, step.Poll, as, participants(step.Participants))
	case OpWhitelistRemove:
		return h.engine.RemoveFromWhitelist(ctx, step.Poll, as, participants(step.Participants))
	case OpRate:
		return h.engine.RateResponse(ctx, step.Poll, as, ledger.Participant(step.Respondent), step.Rating)
	case OpSetFee:
		return h.engine.SetPlatformFee(ctx, as, step.Fee)
	default:
		return engine.Outcome{}, fmt.Errorf("unknown op %q", step.Op)
	}
}

// pollParams builds creation parameters from the step or its manifest.
func (h *Harness) pollParams(step Step) (ledger.PollParams, error) {
	now := h.clock.Now()
	if step.Manifest != "" {
		m, err := manifest.LoadFile(step.Manifest)
		if err != nil {
			return ledger.PollParams{}, err
		}
		return m.Params(now)
	}

	d, err := time.ParseDuration(step.Deadline)
	if err != nil {
		return ledger.PollParams{}, err
	}
	minResponses := step.Min
	if minResponses == 0 {
		minResponses = 1
	}
	hash := step.DataHash
	if hash == "" {
		hash = "poll:" + step.As
	}
	return ledger.PollParams{
		Deadline:          now.Add(d),
		MinResponses:      minResponses,
		MaxResponses:      step.Max,
		FixedRewardAmount: ledger.Amount(step.Fixed),
		RewardType:        ledger.RewardType(step.RewardType),
		RequiresWhitelist: step.RequiresWhitelist,
		DataHash:          hash,
		Escrow:            ledger.Amount(step.Escrow),
	}, nil
}

func participants(ids []string) []ledger.Participant {
	out := make([]ledger.Participant, len(ids))
	for i, id := range ids {
		out[i] = ledger.Participant(id)
	}
	return out
}
