package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pulse/internal/events"
	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/store"
	"github.com/roach88/pulse/internal/testutil"
)

const (
	owner   = ledger.Participant("owner")
	creator = ledger.Participant("creator")
)

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *store.Store
	eng   *Engine
	clock *testutil.FakeClock
	bus   *events.Bus
}

// setupEngine creates an initialized ledger on a temp database with a fake
// wall clock at testutil.Epoch and the given platform fee.
func setupEngine(t *testing.T, feePercent int) *harness {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: s,
		clock: testutil.NewFakeClock(testutil.Epoch),
		bus:   events.NewBus(),
	}
	h.eng, err = New(h.ctx, s,
		WithWallClock(h.clock),
		WithCommandIDs(testutil.NewSequentialIDs("cmd")),
		WithPublisher(h.bus),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	_, err = h.eng.Initialize(h.ctx, owner, feePercent)
	require.NoError(t, err)
	return h
}

// params returns valid PollParams for rt with a one hour deadline.
func (h *harness) params(rt ledger.RewardType, min, max int, escrow ledger.Amount) ledger.PollParams {
	return ledger.PollParams{
		Deadline:     h.clock.Now().Add(time.Hour),
		MinResponses: min,
		MaxResponses: max,
		RewardType:   rt,
		DataHash:     "poll-data",
		Escrow:       escrow,
	}
}

func (h *harness) create(p ledger.PollParams) ledger.PollID {
	h.t.Helper()
	out, err := h.eng.CreatePoll(h.ctx, creator, p)
	require.NoError(h.t, err)
	return out.Poll.ID
}

func (h *harness) submit(id ledger.PollID, who ledger.Participant) Outcome {
	h.t.Helper()
	out, err := h.eng.SubmitResponse(h.ctx, id, who, "answer-"+string(who))
	require.NoError(h.t, err)
	return out
}

// payouts maps recipient -> amount for transfers of kind.
func payouts(ts []ledger.Transfer, kind ledger.TransferKind) map[ledger.Participant]ledger.Amount {
	out := map[ledger.Participant]ledger.Amount{}
	for _, tr := range ts {
		if tr.Kind == kind {
			out[tr.Recipient] += tr.Amount
		}
	}
	return out
}

func eventTypes(evs []ledger.Event) []ledger.EventType {
	out := make([]ledger.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}
