package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/pulse/internal/ledger"
)

const pollColumns = `id, creator, created_at, deadline, min_responses, max_responses,
	reward_type, fixed_reward_amount, requires_whitelist, data_hash, reward_pool,
	status, response_count, closed_at`

// GetPoll returns the poll with its respondents in submission order.
// Returns a ledger NotFound error if the poll does not exist.
func (t *Tx) GetPoll(ctx context.Context, id ledger.PollID) (ledger.Poll, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = ?`, int64(id))
	poll, err := scanPoll(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Poll{}, ledger.NewPollNotFound(id)
	}
	if err != nil {
		return ledger.Poll{}, fmt.Errorf("get poll %d: %w", id, err)
	}

	poll.Respondents, err = t.respondents(ctx, id)
	if err != nil {
		return ledger.Poll{}, err
	}
	return poll, nil
}

// PutPoll inserts a poll or updates its mutable fields (status,
// response_count, closed_at). Respondents are derived from responses and are
// not written here.
func (t *Tx) PutPoll(ctx context.Context, p ledger.Poll) error {
	var closedAt sql.NullInt64
	if p.ClosedAt != nil {
		closedAt = sql.NullInt64{Int64: toNanos(*p.ClosedAt), Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO polls (`+pollColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			response_count = excluded.response_count,
			closed_at = excluded.closed_at
	`,
		int64(p.ID),
		string(p.Creator),
		toNanos(p.CreatedAt),
		toNanos(p.Deadline),
		p.MinResponses,
		p.MaxResponses,
		string(p.RewardType),
		int64(p.FixedRewardAmount),
		boolToInt(p.RequiresWhitelist),
		p.DataHash,
		int64(p.RewardPool),
		string(p.Status),
		p.ResponseCount,
		closedAt,
	)
	if err != nil {
		return fmt.Errorf("put poll %d: %w", p.ID, err)
	}
	return nil
}

// ListPolls returns every poll ordered by id, without respondents.
func (t *Tx) ListPolls(ctx context.Context) ([]ledger.Poll, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+pollColumns+` FROM polls ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()

	polls := []ledger.Poll{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		polls = append(polls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate polls: %w", err)
	}
	return polls, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPoll(s scanner) (ledger.Poll, error) {
	var (
		p                                    ledger.Poll
		id, createdAt, deadline, fixed, pool int64
		creator, rewardType, status          string
		whitelist                            int
		closedAt                             sql.NullInt64
	)
	err := s.Scan(&id, &creator, &createdAt, &deadline, &p.MinResponses, &p.MaxResponses,
		&rewardType, &fixed, &whitelist, &p.DataHash, &pool,
		&status, &p.ResponseCount, &closedAt)
	if err != nil {
		return ledger.Poll{}, err
	}
	p.ID = ledger.PollID(id)
	p.Creator = ledger.Participant(creator)
	p.CreatedAt = fromNanos(createdAt)
	p.Deadline = fromNanos(deadline)
	p.RewardType = ledger.RewardType(rewardType)
	p.FixedRewardAmount = ledger.Amount(fixed)
	p.RequiresWhitelist = whitelist != 0
	p.RewardPool = ledger.Amount(pool)
	p.Status = ledger.Status(status)
	if closedAt.Valid {
		ts := fromNanos(closedAt.Int64)
		p.ClosedAt = &ts
	}
	p.Respondents = []ledger.Participant{}
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
