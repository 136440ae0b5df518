package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/pulse/internal/ledger"
)

// GetResponse returns one participant's response to a poll.
// Returns a ledger NotFound error if there is none.
func (t *Tx) GetResponse(ctx context.Context, pollID ledger.PollID, respondent ledger.Participant) (ledger.Response, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT poll_id, respondent, position, data_hash, quality_rating, submitted_at
		FROM responses
		WHERE poll_id = ? AND respondent = ?
	`, int64(pollID), string(respondent))
	r, err := scanResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Response{}, ledger.NewResponseNotFound(pollID, respondent)
	}
	if err != nil {
		return ledger.Response{}, fmt.Errorf("get response: %w", err)
	}
	return r, nil
}

// HasResponse reports whether respondent has answered the poll.
func (t *Tx) HasResponse(ctx context.Context, pollID ledger.PollID, respondent ledger.Participant) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM responses WHERE poll_id = ? AND respondent = ?
	`, int64(pollID), string(respondent)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has response: %w", err)
	}
	return n > 0, nil
}

// PutResponse inserts a response or updates its quality rating. Submission
// fields (position, data hash, time) are never overwritten.
func (t *Tx) PutResponse(ctx context.Context, r ledger.Response) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO responses (poll_id, respondent, position, data_hash, quality_rating, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(poll_id, respondent) DO UPDATE SET
			quality_rating = excluded.quality_rating
	`,
		int64(r.PollID),
		string(r.Respondent),
		r.Position,
		r.DataHash,
		r.QualityRating,
		toNanos(r.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("put response: %w", err)
	}
	return nil
}

// Responses returns every response to a poll in submission order.
// Returns an empty slice (not nil) if there are none.
func (t *Tx) Responses(ctx context.Context, pollID ledger.PollID) ([]ledger.Response, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT poll_id, respondent, position, data_hash, quality_rating, submitted_at
		FROM responses
		WHERE poll_id = ?
		ORDER BY position ASC
	`, int64(pollID))
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	responses := []ledger.Response{}
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return responses, nil
}

// respondents returns the respondent identifiers of a poll in submission order.
func (t *Tx) respondents(ctx context.Context, pollID ledger.PollID) ([]ledger.Participant, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT respondent FROM responses WHERE poll_id = ? ORDER BY position ASC
	`, int64(pollID))
	if err != nil {
		return nil, fmt.Errorf("query respondents: %w", err)
	}
	defer rows.Close()

	out := []ledger.Participant{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan respondent: %w", err)
		}
		out = append(out, ledger.Participant(p))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate respondents: %w", err)
	}
	return out, nil
}

func scanResponse(s scanner) (ledger.Response, error) {
	var (
		r                   ledger.Response
		pollID, submittedAt int64
		respondent          string
	)
	if err := s.Scan(&pollID, &respondent, &r.Position, &r.DataHash, &r.QualityRating, &submittedAt); err != nil {
		return ledger.Response{}, err
	}
	r.PollID = ledger.PollID(pollID)
	r.Respondent = ledger.Participant(respondent)
	r.SubmittedAt = fromNanos(submittedAt)
	return r, nil
}
