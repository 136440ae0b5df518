package engine

import (
	"context"
	"errors"

	"github.com/roach88/pulse/internal/access"
	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/platform"
	"github.com/roach88/pulse/internal/store"
)

// GetPoll returns a poll with its respondents in submission order.
func (e *Engine) GetPoll(ctx context.Context, id ledger.PollID) (ledger.Poll, error) {
	var poll ledger.Poll
	err := e.view(ctx, func(tx *store.Tx) error {
		var err error
		poll, err = tx.GetPoll(ctx, id)
		return err
	})
	return poll, err
}

// GetResponse returns one respondent's response.
func (e *Engine) GetResponse(ctx context.Context, pollID ledger.PollID, respondent ledger.Participant) (ledger.Response, error) {
	var resp ledger.Response
	err := e.view(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetPoll(ctx, pollID); err != nil {
			return err
		}
		var err error
		resp, err = tx.GetResponse(ctx, pollID, respondent)
		return err
	})
	return resp, err
}

// GetPollResponses returns the poll's respondents in submission order.
func (e *Engine) GetPollResponses(ctx context.Context, pollID ledger.PollID) ([]ledger.Participant, error) {
	poll, err := e.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	return poll.Respondents, nil
}

// Responses returns the full response records of a poll in submission order.
func (e *Engine) Responses(ctx context.Context, pollID ledger.PollID) ([]ledger.Response, error) {
	var out []ledger.Response
	err := e.view(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetPoll(ctx, pollID); err != nil {
			return err
		}
		var err error
		out, err = tx.Responses(ctx, pollID)
		return err
	})
	return out, err
}

// IsWhitelisted reports whether participant may respond to the poll. Polls
// without a whitelist admit everyone.
func (e *Engine) IsWhitelisted(ctx context.Context, pollID ledger.PollID, participant ledger.Participant) (bool, error) {
	var ok bool
	err := e.view(ctx, func(tx *store.Tx) error {
		poll, err := tx.GetPoll(ctx, pollID)
		if err != nil {
			return err
		}
		wl, err := tx.Whitelist(ctx, pollID)
		if err != nil {
			return err
		}
		ok = access.IsWhitelisted(poll, wl, participant)
		return nil
	})
	return ok, err
}

// HasResponded reports whether participant has answered the poll.
func (e *Engine) HasResponded(ctx context.Context, pollID ledger.PollID, participant ledger.Participant) (bool, error) {
	var ok bool
	err := e.view(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetPoll(ctx, pollID); err != nil {
			return err
		}
		var err error
		ok, err = tx.HasResponse(ctx, pollID, participant)
		return err
	})
	return ok, err
}

// Platform returns the platform configuration.
func (e *Engine) Platform(ctx context.Context) (platform.Config, error) {
	var cfg platform.Config
	err := e.view(ctx, func(tx *store.Tx) error {
		var err error
		cfg, err = tx.Platform(ctx)
		if errors.Is(err, store.ErrNotInitialized) {
			return ledger.Errorf(ledger.ErrCodeInvalidState, "ledger not initialized")
		}
		return err
	})
	return cfg, err
}

// PlatformFeePercent returns the fee applied to the next distribution.
func (e *Engine) PlatformFeePercent(ctx context.Context) (int, error) {
	cfg, err := e.Platform(ctx)
	return cfg.FeePercent, err
}

// PollCount returns how many polls have been created.
func (e *Engine) PollCount(ctx context.Context) (uint64, error) {
	var n uint64
	err := e.view(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.PollCount(ctx)
		return err
	})
	return n, err
}

// ListPolls returns every poll ordered by id, without respondents.
func (e *Engine) ListPolls(ctx context.Context) ([]ledger.Poll, error) {
	var polls []ledger.Poll
	err := e.view(ctx, func(tx *store.Tx) error {
		var err error
		polls, err = tx.ListPolls(ctx)
		return err
	})
	return polls, err
}

// Transfers returns transfers matching f in seq order.
func (e *Engine) Transfers(ctx context.Context, f store.TransferFilter) ([]ledger.Transfer, error) {
	var out []ledger.Transfer
	err := e.view(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.Transfers(ctx, f)
		return err
	})
	return out, err
}

// PendingTransfers returns transfers not yet consumed by settlement.
func (e *Engine) PendingTransfers(ctx context.Context) ([]ledger.Transfer, error) {
	return e.Transfers(ctx, store.TransferFilter{PendingOnly: true})
}

// MarkSettled records that settlement has executed the given transfers.
// Returns the number newly settled.
func (e *Engine) MarkSettled(ctx context.Context, seqs []int64) (int64, error) {
	var n int64
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.MarkSettled(ctx, seqs)
		return err
	})
	if err == nil && n > 0 {
		e.logger.Info("transfers settled", "count", n)
	}
	return n, err
}

// Events returns events with seq > afterSeq (limit <= 0 means all).
func (e *Engine) Events(ctx context.Context, afterSeq int64, limit int) ([]ledger.Event, error) {
	var out []ledger.Event
	err := e.view(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.Events(ctx, afterSeq, limit)
		return err
	})
	return out, err
}
