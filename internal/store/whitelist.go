package store

import (
	"context"
	"fmt"

	"github.com/roach88/pulse/internal/ledger"
)

// Whitelist returns the participants admitted to a poll.
func (t *Tx) Whitelist(ctx context.Context, pollID ledger.PollID) (ledger.Whitelist, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT participant FROM whitelist WHERE poll_id = ? ORDER BY participant ASC
	`, int64(pollID))
	if err != nil {
		return nil, fmt.Errorf("query whitelist: %w", err)
	}
	defer rows.Close()

	wl := ledger.Whitelist{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan whitelist: %w", err)
		}
		wl[ledger.Participant(p)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate whitelist: %w", err)
	}
	return wl, nil
}

// WhitelistContains reports whether participant is on the poll's whitelist.
func (t *Tx) WhitelistContains(ctx context.Context, pollID ledger.PollID, participant ledger.Participant) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM whitelist WHERE poll_id = ? AND participant = ?
	`, int64(pollID), string(participant)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("whitelist contains: %w", err)
	}
	return n > 0, nil
}

// AddWhitelist admits participants to a poll. Already-present entries are
// ignored; the newly added participants are returned in argument order.
func (t *Tx) AddWhitelist(ctx context.Context, pollID ledger.PollID, participants []ledger.Participant) ([]ledger.Participant, error) {
	var added []ledger.Participant
	for _, p := range participants {
		result, err := t.tx.ExecContext(ctx, `
			INSERT INTO whitelist (poll_id, participant) VALUES (?, ?)
			ON CONFLICT(poll_id, participant) DO NOTHING
		`, int64(pollID), string(p))
		if err != nil {
			return nil, fmt.Errorf("add whitelist: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			added = append(added, p)
		}
	}
	return added, nil
}

// RemoveWhitelist drops participants from a poll's whitelist. Absent entries
// are ignored; the actually removed participants are returned.
func (t *Tx) RemoveWhitelist(ctx context.Context, pollID ledger.PollID, participants []ledger.Participant) ([]ledger.Participant, error) {
	var removed []ledger.Participant
	for _, p := range participants {
		result, err := t.tx.ExecContext(ctx, `
			DELETE FROM whitelist WHERE poll_id = ? AND participant = ?
		`, int64(pollID), string(p))
		if err != nil {
			return nil, fmt.Errorf("remove whitelist: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			removed = append(removed, p)
		}
	}
	return removed, nil
}
