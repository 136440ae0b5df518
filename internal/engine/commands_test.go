package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pulse/internal/events"
	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/store"
)

func TestCreatePoll_EscrowsPool(t *testing.T) {
	h := setupEngine(t, 0)

	out, err := h.eng.CreatePoll(h.ctx, creator, h.params(ledger.EqualSplit, 1, 3, 100))
	require.NoError(t, err)

	require.NotNil(t, out.Poll)
	assert.Equal(t, ledger.PollID(0), out.Poll.ID, "ids start at zero")
	assert.Equal(t, ledger.Amount(100), out.Poll.RewardPool)
	assert.Equal(t, ledger.StatusActive, out.Poll.Status)
	assert.Empty(t, out.Transfers, "escrow releases nothing")
	assert.Equal(t, []ledger.EventType{ledger.EventPollCreated}, eventTypes(out.Events))

	stored, err := h.eng.GetPoll(h.ctx, out.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(100), stored.RewardPool)
	assert.Equal(t, ledger.StatusActive, stored.Status)
	assert.Equal(t, creator, stored.Creator)

	second := h.create(h.params(ledger.WeightedQuality, 1, 2, 50))
	assert.Equal(t, ledger.PollID(1), second)
}

func TestCreatePoll_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h *harness, p *ledger.PollParams)
		msg    string
	}{
		{
			name:   "past deadline",
			mutate: func(h *harness, p *ledger.PollParams) { p.Deadline = h.clock.Now().Add(-time.Minute) },
			msg:    "invalid deadline",
		},
		{
			name:   "deadline now",
			mutate: func(h *harness, p *ledger.PollParams) { p.Deadline = h.clock.Now() },
			msg:    "invalid deadline",
		},
		{
			name:   "zero max",
			mutate: func(_ *harness, p *ledger.PollParams) { p.MinResponses, p.MaxResponses = 0, 0 },
			msg:    "invalid response bounds",
		},
		{
			name:   "min above max",
			mutate: func(_ *harness, p *ledger.PollParams) { p.MinResponses, p.MaxResponses = 4, 3 },
			msg:    "invalid response bounds",
		},
		{
			name:   "unknown reward type",
			mutate: func(_ *harness, p *ledger.PollParams) { p.RewardType = "lottery" },
			msg:    "unknown reward type",
		},
		{
			name:   "no pool",
			mutate: func(_ *harness, p *ledger.PollParams) { p.Escrow = 0 },
			msg:    "must provide reward pool",
		},
		{
			name: "fixed without amount",
			mutate: func(_ *harness, p *ledger.PollParams) {
				p.RewardType = ledger.FixedPerResponse
				p.FixedRewardAmount = 0
			},
			msg: "fixed reward amount must be positive",
		},
		{
			name: "fixed escrow mismatch",
			mutate: func(_ *harness, p *ledger.PollParams) {
				p.RewardType = ledger.FixedPerResponse
				p.FixedRewardAmount = 10
				p.Escrow = 29
			},
			msg: "must equal fixed reward",
		},
		{
			name:   "deadline past storable range",
			mutate: func(_ *harness, p *ledger.PollParams) { p.Deadline = time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC) },
			msg:    "invalid deadline",
		},
		{
			name:   "empty whitelist entry",
			mutate: func(_ *harness, p *ledger.PollParams) { p.Whitelist = []ledger.Participant{"alice", " "} },
			msg:    "empty participant",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupEngine(t, 0)
			p := h.params(ledger.EqualSplit, 1, 3, 30)
			tt.mutate(h, &p)

			_, err := h.eng.CreatePoll(h.ctx, creator, p)
			require.Error(t, err)
			assert.True(t, ledger.IsInvalidArgument(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.msg)

			count, err := h.eng.PollCount(h.ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(0), count, "failed create must not consume an id")

			evs, err := h.eng.Events(h.ctx, 0, 0)
			require.NoError(t, err)
			assert.Empty(t, evs)
		})
	}
}

func TestCreatePoll_FailureDoesNotConsumeID(t *testing.T) {
	h := setupEngine(t, 0)
	bad := h.params(ledger.EqualSplit, 1, 1, 10)
	bad.Deadline = h.clock.Now().Add(-time.Second)

	_, err := h.eng.CreatePoll(h.ctx, creator, bad)
	require.Error(t, err)

	id := h.create(h.params(ledger.EqualSplit, 1, 1, 10))
	assert.Equal(t, ledger.PollID(0), id)
}

func TestCreatePoll_LatestDeadline(t *testing.T) {
	h := setupEngine(t, 0)
	p := h.params(ledger.EqualSplit, 1, 1, 10)
	p.Deadline = ledger.LatestDeadline

	id := h.create(p)
	stored, err := h.eng.GetPoll(h.ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.Deadline.Equal(ledger.LatestDeadline))

	h.clock.Advance(100 * 365 * 24 * time.Hour)
	h.submit(id, "alice")
}

func TestCreatePoll_InitialWhitelist(t *testing.T) {
	h := setupEngine(t, 0)
	p := h.params(ledger.EqualSplit, 1, 2, 20)
	p.RequiresWhitelist = true
	p.Whitelist = []ledger.Participant{"alice", "bob", "alice"}

	out, err := h.eng.CreatePoll(h.ctx, creator, p)
	require.NoError(t, err)
	assert.Equal(t, []ledger.EventType{ledger.EventPollCreated, ledger.EventWhitelistUpdated}, eventTypes(out.Events))
	assert.Equal(t, out.Events[0].Seq+1, out.Events[1].Seq)
	assert.Equal(t, out.CommandID, out.Events[1].CommandID)

	payload, ok := out.Events[1].Payload.(ledger.WhitelistUpdatedPayload)
	require.True(t, ok)
	assert.Equal(t, []ledger.Participant{"alice", "bob"}, payload.Added)

	ok, err = h.eng.IsWhitelisted(h.ctx, out.Poll.ID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.eng.SubmitResponse(h.ctx, out.Poll.ID, "carol", "x")
	assert.True(t, ledger.IsUnauthorized(err), "got %v", err)
}

func TestCommandLogs_AfterCommit(t *testing.T) {
	h := setupEngine(t, 0)
	buf := &bytes.Buffer{}
	h.eng.logger = slog.New(slog.NewTextHandler(buf, nil))

	bad := h.params(ledger.EqualSplit, 1, 1, 10)
	bad.Whitelist = []ledger.Participant{""}
	_, err := h.eng.CreatePoll(h.ctx, creator, bad)
	require.Error(t, err)
	assert.NotContains(t, buf.String(), "poll created")

	out, err := h.eng.CreatePoll(h.ctx, creator, h.params(ledger.EqualSplit, 1, 1, 10))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "msg=\"poll created\"")
	assert.Contains(t, buf.String(), "command_id="+out.CommandID)
}

func TestCreatePoll_FixedIgnoredForOtherTypes(t *testing.T) {
	h := setupEngine(t, 0)
	p := h.params(ledger.EqualSplit, 1, 2, 40)
	p.FixedRewardAmount = 7

	out, err := h.eng.CreatePoll(h.ctx, creator, p)
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(0), out.Poll.FixedRewardAmount)
}

func TestSubmitResponse_Records(t *testing.T) {
	h := setupEngine(t, 0)
	id := h.create(h.params(ledger.EqualSplit, 1, 3, 90))

	out := h.submit(id, "alice")
	assert.Equal(t, ledger.StatusActive, out.Poll.Status)
	assert.Equal(t, 1, out.Poll.ResponseCount)
	assert.Equal(t, []ledger.EventType{ledger.EventResponseSubmitted}, eventTypes(out.Events))

	resp, err := h.eng.GetResponse(h.ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, "answer-alice", resp.DataHash)
	assert.Equal(t, 0, resp.Position)
	assert.Equal(t, 0, resp.QualityRating)
	assert.True(t, resp.SubmittedAt.Equal(h.clock.Now()))

	responded, err := h.eng.HasResponded(h.ctx, id, "alice")
	require.NoError(t, err)
	assert.True(t, responded)

	responded, err = h.eng.HasResponded(h.ctx, id, "bob")
	require.NoError(t, err)
	assert.False(t, responded)
}

func TestSubmitResponse_Duplicate(t *testing.T) {
	h := setupEngine(t, 0)
	id := h.create(h.params(ledger.EqualSplit, 1, 3, 90))
	h.submit(id, "alice")

	_, err := h.eng.SubmitResponse(h.ctx, id, "alice", "again")
	require.Error(t, err)
	assert.True(t, ledger.IsDuplicateAction(err), "got %v", err)

	poll, err := h.eng.GetPoll(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, poll.ResponseCount)

	resp, err := h.eng.GetResponse(h.ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, "answer-alice", resp.DataHash, "first answer kept")
}

func TestSubmitResponse_Expired(t *testing.T) {
	h := setupEngine(t, 0)
	id := h.create(h.params(ledger.EqualSplit, 1, 3, 90))

	h.clock.Advance(time.Hour)
	h.submit(id, "alice") // at the deadline is still open

	h.clock.Advance(time.Nanosecond)
	_, err := h.eng.SubmitResponse(h.ctx, id, "bob", "late")
	require.Error(t, err)
	assert.True(t, ledger.IsExpired(err), "got %v", err)
}

func TestSubmitResponse_NotFound(t *testing.T) {
	h := setupEngine(t, 0)

	_, err := h.eng.SubmitResponse(h.ctx, 42, "alice", "x")
	require.Error(t, err)
	assert.True(t, ledger.IsNotFound(err))
}

func TestSubmitResponse_Whitelist(t *testing.T) {
	h := setupEngine(t, 0)
	p := h.params(ledger.EqualSplit, 1, 3, 90)
	p.RequiresWhitelist = true
	id := h.create(p)

	_, err := h.eng.SubmitResponse(h.ctx, id, "alice", "x")
	require.Error(t, err)
	assert.True(t, ledger.IsUnauthorized(err), "got %v", err)

	_, err = h.eng.AddToWhitelist(h.ctx, id, creator, []ledger.Participant{"alice"})
	require.NoError(t, err)
	h.submit(id, "alice")

	_, err = h.eng.RemoveFromWhitelist(h.ctx, id, creator, []ledger.Participant{"alice"})
	require.NoError(t, err)

	responded, err := h.eng.HasResponded(h.ctx, id, "alice")
	require.NoError(t, err)
	assert.True(t, responded, "removal keeps existing responses")
}

func TestSubmitResponse_ClosedPoll(t *testing.T) {
	h := setupEngine(t, 0)
	id := h.create(h.params(ledger.EqualSplit, 1, 1, 10))
	h.submit(id, "alice")

	_, err := h.eng.SubmitResponse(h.ctx, id, "bob", "x")
	require.Error(t, err)
	assert.True(t, ledger.IsInvalidState(err), "got %v", err)
}

func TestSubmitResponse_AutoClose(t *testing.T) {
	h := setupEngine(t, 0)
	id := h.create(h.params(ledger.EqualSplit, 1, 3, 100))

	h.submit(id, "alice")
	h.submit(id, "bob")
	out := h.submit(id, "carol")

	assert.Equal(t, ledger.StatusClosed, out.Poll.Status)
	require.NotNil(t, out.Poll.ClosedAt)
	assert.Equal(t,
		[]ledger.EventType{ledger.EventResponseSubmitted, ledger.EventPollClosed},
		eventTypes(out.Events))
	assert.Equal(t, map[ledger.Participant]ledger.Amount{
		"alice": 34, "bob": 33, "carol": 33,
	}, payouts(out.Transfers, ledger.TransferPayout))

	all, err := h.eng.Events(h.ctx, 0, 0)
	require.NoError(t, err)
	closed := 0
	for _, ev := range all {
		if ev.Type == ledger.EventPollClosed {
			closed++
		}
	}
	assert.Equal(t, 1, closed, "distribution fires exactly once")
}

func TestSubmitResponse_SeqOrder(t *testing.T) {
	h := setupEngine(t, 0)
	id := h.create(h.params(ledger.EqualSplit, 1, 2, 10))
	h.submit(id, "alice")
	out := h.submit(id, "bob")

	// response event, then payouts, then the close event
	require.Len(t, out.Events, 2)
	require.Len(t, out.Transfers, 2)
	assert.Less(t, out.Events[0].Seq, out.Transfers[0].Seq)
	assert.Less(t, out.Transfers[0].Seq, out.Transfers[1].Seq)
	assert.Less(t, out.Transfers[1].Seq, out.Events[1].Seq)
	for _, tr := range out.Transfers {
		assert.Equal(t, out.CommandID, tr.CommandID)
		assert.Equal(t, id, tr.PollID)
		assert.False(t, tr.Settled)
	}
}

func TestFinalize(t *testing.T) {
	t.Run("before deadline", func(t *testing.T) {
		h := setupEngine(t, 0)
		id := h.create(h.params(ledger.EqualSplit, 1, 3, 90))
		h.submit(id, "alice")

		_, err := h.eng.Finalize(h.ctx, id, "anyone")
		require.Error(t, err)
		assert.True(t, ledger.IsInvalidState(err), "got %v", err)
	})

	t.Run("quorum met", func(t *testing.T) {
		h := setupEngine(t, 5)
		id := h.create(h.params(ledger.EqualSplit, 2, 5, 1000))
		h.submit(id, "alice")
		h.submit(id, "bob")
		h.clock.Advance(2 * time.Hour)

		out, err := h.eng.Finalize(h.ctx, id, "anyone")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusClosed, out.Poll.Status)
		assert.Equal(t, map[ledger.Participant]ledger.Amount{owner: 50},
			payouts(out.Transfers, ledger.TransferFee))
		assert.Equal(t, map[ledger.Participant]ledger.Amount{"alice": 475, "bob": 475},
			payouts(out.Transfers, ledger.TransferPayout))
		assert.Empty(t, payouts(out.Transfers, ledger.TransferRefund))
	})

	t.Run("quorum missed refunds creator", func(t *testing.T) {
		h := setupEngine(t, 5)
		id := h.create(h.params(ledger.EqualSplit, 3, 5, 1000))
		h.submit(id, "alice")
		h.clock.Advance(2 * time.Hour)

		out, err := h.eng.Finalize(h.ctx, id, "alice")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusClosed, out.Poll.Status)
		assert.Equal(t, map[ledger.Participant]ledger.Amount{creator: 1000},
			payouts(out.Transfers, ledger.TransferRefund))
		assert.Empty(t, payouts(out.Transfers, ledger.TransferFee), "no fee on refunds")

		payload, ok := out.Events[0].Payload.(ledger.PollClosedPayload)
		require.True(t, ok)
		assert.False(t, payload.QuorumMet)
		assert.Equal(t, ledger.Amount(1000), payload.Refunded)
	})

	t.Run("twice", func(t *testing.T) {
		h := setupEngine(t, 0)
		id := h.create(h.params(ledger.EqualSplit, 1, 5, 10))
		h.clock.Advance(2 * time.Hour)
		_, err := h.eng.Finalize(h.ctx, id, "anyone")
		require.NoError(t, err)

		_, err = h.eng.Finalize(h.ctx, id, "anyone")
		require.Error(t, err)
		assert.True(t, ledger.IsInvalidState(err))
	})
}

func TestFixedPerResponse_PartialFill(t *testing.T) {
	h := setupEngine(t, 5)
	p := h.params(ledger.FixedPerResponse, 1, 10, 100)
	p.FixedRewardAmount = 10
	id := h.create(p)

	for _, who := range []ledger.Participant{"a", "b", "c", "d"} {
		h.submit(id, who)
	}
	h.clock.Advance(2 * time.Hour)

	out, err := h.eng.Finalize(h.ctx, id, "anyone")
	require.NoError(t, err)
	assert.Equal(t, map[ledger.Participant]ledger.Amount{"a": 10, "b": 10, "c": 10, "d": 10},
		payouts(out.Transfers, ledger.TransferPayout))
	assert.Equal(t, map[ledger.Participant]ledger.Amount{creator: 60},
		payouts(out.Transfers, ledger.TransferRefund))
	assert.Empty(t, payouts(out.Transfers, ledger.TransferFee))
}

func TestWeightedQuality(t *testing.T) {
	t.Run("ratings", func(t *testing.T) {
		h := setupEngine(t, 0)
		id := h.create(h.params(ledger.WeightedQuality, 1, 3, 100))
		h.submit(id, "alice")
		h.submit(id, "bob")
		_, err := h.eng.RateResponse(h.ctx, id, creator, "alice", 8)
		require.NoError(t, err)
		_, err = h.eng.RateResponse(h.ctx, id, creator, "bob", 2)
		require.NoError(t, err)
		h.clock.Advance(2 * time.Hour)

		out, err := h.eng.Finalize(h.ctx, id, "anyone")
		require.NoError(t, err)
		assert.Equal(t, map[ledger.Participant]ledger.Amount{"alice": 80, "bob": 20},
			payouts(out.Transfers, ledger.TransferPayout))
	})

	t.Run("no ratings", func(t *testing.T) {
		h := setupEngine(t, 0)
		id := h.create(h.params(ledger.WeightedQuality, 1, 2, 100))
		h.submit(id, "alice")
		out := h.submit(id, "bob")

		assert.Equal(t, map[ledger.Participant]ledger.Amount{"alice": 50, "bob": 50},
			payouts(out.Transfers, ledger.TransferPayout))
	})
}

func TestCancelPoll(t *testing.T) {
	t.Run("refunds creator", func(t *testing.T) {
		h := setupEngine(t, 5)
		id := h.create(h.params(ledger.EqualSplit, 1, 3, 300))

		out, err := h.eng.CancelPoll(h.ctx, id, creator)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCancelled, out.Poll.Status)
		assert.Equal(t, map[ledger.Participant]ledger.Amount{creator: 300},
			payouts(out.Transfers, ledger.TransferRefund))
		assert.Equal(t, []ledger.EventType{ledger.EventPollCancelled}, eventTypes(out.Events))
	})

	t.Run("not creator", func(t *testing.T) {
		h := setupEngine(t, 0)
		id := h.create(h.params(ledger.EqualSplit, 1, 3, 300))

		_, err := h.eng.CancelPoll(h.ctx, id, "mallory")
		require.Error(t, err)
		assert.True(t, ledger.IsUnauthorized(err))
	})

	t.Run("after first response", func(t *testing.T) {
		h := setupEngine(t, 0)
		id := h.create(h.params(ledger.EqualSplit, 1, 3, 300))
		h.submit(id, "alice")

		_, err := h.eng.CancelPoll(h.ctx, id, creator)
		require.Error(t, err)
		assert.True(t, ledger.IsInvalidState(err))
		assert.Contains(t, err.Error(), "cannot cancel with responses")
	})

	t.Run("already cancelled", func(t *testing.T) {
		h := setupEngine(t, 0)
		id := h.create(h.params(ledger.EqualSplit, 1, 3, 300))
		_, err := h.eng.CancelPoll(h.ctx, id, creator)
		require.NoError(t, err)

		_, err = h.eng.CancelPoll(h.ctx, id, creator)
		require.Error(t, err)
		assert.True(t, ledger.IsInvalidState(err))

		_, err = h.eng.SubmitResponse(h.ctx, id, "alice", "x")
		require.Error(t, err)
		assert.True(t, ledger.IsInvalidState(err))
	})

	t.Run("missing poll", func(t *testing.T) {
		h := setupEngine(t, 0)
		_, err := h.eng.CancelPoll(h.ctx, 7, creator)
		require.Error(t, err)
		assert.True(t, ledger.IsNotFound(err))
	})
}

func TestWhitelistEdits(t *testing.T) {
	h := setupEngine(t, 0)
	p := h.params(ledger.EqualSplit, 1, 3, 30)
	p.RequiresWhitelist = true
	id := h.create(p)

	out, err := h.eng.AddToWhitelist(h.ctx, id, creator, []ledger.Participant{"alice", "bob"})
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	payload := out.Events[0].Payload.(ledger.WhitelistUpdatedPayload)
	assert.ElementsMatch(t, []ledger.Participant{"alice", "bob"}, payload.Added)

	out, err = h.eng.AddToWhitelist(h.ctx, id, creator, []ledger.Participant{"alice"})
	require.NoError(t, err)
	assert.Empty(t, out.Events, "re-adding is a no-op")

	ok, err := h.eng.IsWhitelisted(h.ctx, id, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.eng.RemoveFromWhitelist(h.ctx, id, creator, []ledger.Participant{"bob", "nobody"})
	require.NoError(t, err)
	ok, err = h.eng.IsWhitelisted(h.ctx, id, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.eng.AddToWhitelist(h.ctx, id, "mallory", []ledger.Participant{"mallory"})
	require.Error(t, err)
	assert.True(t, ledger.IsUnauthorized(err))

	_, err = h.eng.AddToWhitelist(h.ctx, id, creator, []ledger.Participant{""})
	require.Error(t, err)
	assert.True(t, ledger.IsInvalidArgument(err))
}

func TestIsWhitelisted_OpenPoll(t *testing.T) {
	h := setupEngine(t, 0)
	id := h.create(h.params(ledger.EqualSplit, 1, 3, 30))

	ok, err := h.eng.IsWhitelisted(h.ctx, id, "anyone")
	require.NoError(t, err)
	assert.True(t, ok, "polls without a whitelist admit everyone")
}

func TestRateResponse(t *testing.T) {
	setup := func(t *testing.T) (*harness, ledger.PollID) {
		h := setupEngine(t, 0)
		id := h.create(h.params(ledger.WeightedQuality, 1, 3, 30))
		h.submit(id, "alice")
		return h, id
	}

	for _, rating := range []int{0, -1, 11, 100} {
		t.Run(fmt.Sprintf("rejects %d", rating), func(t *testing.T) {
			h, id := setup(t)
			_, err := h.eng.RateResponse(h.ctx, id, creator, "alice", rating)
			require.Error(t, err)
			assert.True(t, ledger.IsInvalidArgument(err), "got %v", err)
		})
	}

	t.Run("overwrites", func(t *testing.T) {
		h, id := setup(t)
		_, err := h.eng.RateResponse(h.ctx, id, creator, "alice", 3)
		require.NoError(t, err)
		_, err = h.eng.RateResponse(h.ctx, id, creator, "alice", 9)
		require.NoError(t, err)

		resp, err := h.eng.GetResponse(h.ctx, id, "alice")
		require.NoError(t, err)
		assert.Equal(t, 9, resp.QualityRating)
	})

	t.Run("not creator", func(t *testing.T) {
		h, id := setup(t)
		_, err := h.eng.RateResponse(h.ctx, id, "alice", "alice", 10)
		require.Error(t, err)
		assert.True(t, ledger.IsUnauthorized(err))
	})

	t.Run("no response", func(t *testing.T) {
		h, id := setup(t)
		_, err := h.eng.RateResponse(h.ctx, id, creator, "bob", 5)
		require.Error(t, err)
		assert.True(t, ledger.IsNotFound(err))
	})

	t.Run("closed poll", func(t *testing.T) {
		h, id := setup(t)
		h.clock.Advance(2 * time.Hour)
		_, err := h.eng.Finalize(h.ctx, id, "anyone")
		require.NoError(t, err)

		_, err = h.eng.RateResponse(h.ctx, id, creator, "alice", 5)
		require.Error(t, err)
		assert.True(t, ledger.IsInvalidState(err))
	})
}

func TestSetPlatformFee(t *testing.T) {
	h := setupEngine(t, 0)

	_, err := h.eng.SetPlatformFee(h.ctx, owner, 11)
	require.Error(t, err)
	assert.True(t, ledger.IsInvalidArgument(err))

	_, err = h.eng.SetPlatformFee(h.ctx, "mallory", 5)
	require.Error(t, err)
	assert.True(t, ledger.IsUnauthorized(err))

	out, err := h.eng.SetPlatformFee(h.ctx, owner, 10)
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.Nil(t, out.Events[0].PollID)
	assert.Equal(t, ledger.PlatformFeeUpdatedPayload{Previous: 0, Current: 10}, out.Events[0].Payload)

	pct, err := h.eng.PlatformFeePercent(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, pct)
}

func TestSetPlatformFee_NotRetroactive(t *testing.T) {
	h := setupEngine(t, 0)
	id := h.create(h.params(ledger.EqualSplit, 1, 1, 100))
	h.submit(id, "alice")

	_, err := h.eng.SetPlatformFee(h.ctx, owner, 10)
	require.NoError(t, err)

	next := h.create(h.params(ledger.EqualSplit, 1, 1, 100))
	out := h.submit(next, "bob")
	assert.Equal(t, map[ledger.Participant]ledger.Amount{owner: 10},
		payouts(out.Transfers, ledger.TransferFee))

	first, err := h.eng.Transfers(h.ctx, store.TransferFilter{PollID: &id})
	require.NoError(t, err)
	assert.Equal(t, map[ledger.Participant]ledger.Amount{"alice": 100},
		payouts(first, ledger.TransferPayout))
	assert.Empty(t, payouts(first, ledger.TransferFee))
}

func TestInitialize(t *testing.T) {
	h := setupEngine(t, 3)

	_, err := h.eng.Initialize(h.ctx, "someone-else", 0)
	require.Error(t, err)
	assert.True(t, ledger.IsInvalidState(err))

	cfg, err := h.eng.Platform(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, cfg.Owner)
	assert.Equal(t, 3, cfg.FeePercent)
}

func TestUninitializedLedger(t *testing.T) {
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	eng, err := New(ctx, s)
	require.NoError(t, err)

	_, err = eng.CreatePoll(ctx, creator, ledger.PollParams{
		Deadline: time.Now().Add(time.Hour), MinResponses: 1, MaxResponses: 1,
		RewardType: ledger.EqualSplit, Escrow: 1,
	})
	require.Error(t, err)
	assert.True(t, ledger.IsInvalidState(err))
	assert.Contains(t, err.Error(), "ledger not initialized")

	_, err = eng.Initialize(ctx, "", 0)
	require.Error(t, err)
	assert.True(t, ledger.IsInvalidArgument(err))

	_, err = eng.Initialize(ctx, owner, 11)
	require.Error(t, err)
	assert.True(t, ledger.IsInvalidArgument(err))
}

func TestPublisher_ReceivesCommittedEvents(t *testing.T) {
	h := setupEngine(t, 0)
	sub := h.bus.Subscribe(events.Filter{})
	defer sub.Close()

	id := h.create(h.params(ledger.EqualSplit, 1, 1, 10))
	_, err := h.eng.SubmitResponse(h.ctx, id, "", "x")
	require.Error(t, err, "rejected commands publish nothing")
	h.submit(id, "alice")

	ctx, cancel := context.WithTimeout(h.ctx, time.Second)
	defer cancel()
	var got []ledger.EventType
	for i := 0; i < 3; i++ {
		ev, err := sub.Next(ctx)
		require.NoError(t, err)
		got = append(got, ev.Type)
	}
	assert.Equal(t, []ledger.EventType{
		ledger.EventPollCreated, ledger.EventResponseSubmitted, ledger.EventPollClosed,
	}, got)
	assert.Equal(t, 0, sub.Pending())
}

func TestConcurrentSubmissions(t *testing.T) {
	h := setupEngine(t, 5)
	const maxResponses = 10
	id := h.create(h.params(ledger.EqualSplit, 1, maxResponses, 1001))

	var wg sync.WaitGroup
	errs := make(chan error, 3*maxResponses)
	for i := 0; i < 3*maxResponses; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.eng.SubmitResponse(h.ctx, id, ledger.Participant(fmt.Sprintf("p%02d", i)), "x")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, ledger.IsInvalidState(err), "late submissions see a closed poll: %v", err)
	}
	assert.Equal(t, maxResponses, ok)

	poll, err := h.eng.GetPoll(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusClosed, poll.Status)
	assert.Equal(t, maxResponses, poll.ResponseCount)

	report, err := h.eng.Audit(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Failures)

	evs, err := h.eng.Events(h.ctx, 0, 0)
	require.NoError(t, err)
	closed := 0
	for i, ev := range evs {
		if i > 0 {
			assert.Greater(t, ev.Seq, evs[i-1].Seq)
		}
		if ev.Type == ledger.EventPollClosed {
			closed++
		}
	}
	assert.Equal(t, 1, closed)
}

func TestConservation_AllPolicies(t *testing.T) {
	for _, fee := range []int{0, 3, 10} {
		for _, rt := range ledger.ValidRewardTypes {
			for n := 0; n <= 4; n++ {
				t.Run(fmt.Sprintf("%s/fee%d/n%d", rt, fee, n), func(t *testing.T) {
					h := setupEngine(t, fee)
					p := h.params(rt, 1, 5, 997)
					if rt == ledger.FixedPerResponse {
						p.FixedRewardAmount = 199
						p.Escrow = 995
					}
					id := h.create(p)
					for i := 0; i < n; i++ {
						who := ledger.Participant(fmt.Sprintf("r%d", i))
						h.submit(id, who)
						if rt == ledger.WeightedQuality {
							_, err := h.eng.RateResponse(h.ctx, id, creator, who, i*3%10+1)
							require.NoError(t, err)
						}
					}
					h.clock.Advance(2 * time.Hour)
					out, err := h.eng.Finalize(h.ctx, id, "anyone")
					require.NoError(t, err)

					assert.Equal(t, p.Escrow, ledger.SumTransfers(out.Transfers))
					report, err := h.eng.Audit(h.ctx)
					require.NoError(t, err)
					assert.Zero(t, report.Failures)
				})
			}
		}
	}
}

func TestAudit(t *testing.T) {
	h := setupEngine(t, 0)
	open := h.create(h.params(ledger.EqualSplit, 1, 3, 70))
	closed := h.create(h.params(ledger.EqualSplit, 1, 1, 30))
	h.submit(closed, "alice")

	report, err := h.eng.Audit(h.ctx)
	require.NoError(t, err)
	require.Len(t, report.Polls, 2)
	assert.Equal(t, ledger.Amount(70), report.Escrowed)
	assert.Zero(t, report.Failures)
	assert.Equal(t, open, report.Polls[0].PollID)
	assert.Equal(t, ledger.Amount(30), report.Polls[1].Released)
	assert.True(t, report.Polls[1].OK)
}

func TestAuditPoll_DetectsShortfall(t *testing.T) {
	p := ledger.Poll{ID: 3, RewardPool: 100, Status: ledger.StatusClosed}
	a := auditPoll(p, []ledger.Transfer{{Amount: 60, Kind: ledger.TransferPayout}})
	assert.False(t, a.OK)
	assert.Equal(t, "released 60 of pool 100", a.Problem)

	p.Status = ledger.StatusActive
	a = auditPoll(p, []ledger.Transfer{{Amount: 1, Kind: ledger.TransferPayout}})
	assert.False(t, a.OK)
}

func TestSettlement(t *testing.T) {
	h := setupEngine(t, 0)
	id := h.create(h.params(ledger.EqualSplit, 1, 2, 10))
	h.submit(id, "alice")
	h.submit(id, "bob")

	pending, err := h.eng.PendingTransfers(h.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	n, err := h.eng.MarkSettled(h.ctx, []int64{pending[0].Seq})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err = h.eng.PendingTransfers(h.ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestNew_ResumesClock(t *testing.T) {
	h := setupEngine(t, 0)
	id := h.create(h.params(ledger.EqualSplit, 1, 1, 10))
	h.submit(id, "alice")
	last := h.eng.Clock().Current()
	require.Greater(t, last, int64(0))

	reopened, err := New(h.ctx, h.store, WithWallClock(h.clock))
	require.NoError(t, err)
	assert.Equal(t, last, reopened.Clock().Current())

	// A stale engine sharing the database catches up before stamping.
	next := h.create(h.params(ledger.EqualSplit, 1, 1, 10))
	out, err := reopened.SubmitResponse(h.ctx, next, "bob", "x")
	require.NoError(t, err)
	assert.Greater(t, out.Events[0].Seq, h.eng.Clock().Current())
}

func TestQueries_NotFound(t *testing.T) {
	h := setupEngine(t, 0)

	_, err := h.eng.GetPoll(h.ctx, 9)
	assert.True(t, ledger.IsNotFound(err))
	_, err = h.eng.GetPollResponses(h.ctx, 9)
	assert.True(t, ledger.IsNotFound(err))
	_, err = h.eng.Responses(h.ctx, 9)
	assert.True(t, ledger.IsNotFound(err))
	_, err = h.eng.GetResponse(h.ctx, 9, "alice")
	assert.True(t, ledger.IsNotFound(err))
}

func TestGetPollResponses_Order(t *testing.T) {
	h := setupEngine(t, 0)
	id := h.create(h.params(ledger.EqualSplit, 1, 5, 10))
	for _, who := range []ledger.Participant{"zed", "amy", "kim"} {
		h.submit(id, who)
	}

	got, err := h.eng.GetPollResponses(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Participant{"zed", "amy", "kim"}, got)

	polls, err := h.eng.ListPolls(h.ctx)
	require.NoError(t, err)
	require.Len(t, polls, 1)
}
