package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/platform"
)

// Tx is a ledger transaction. It is only valid inside the Update or View
// callback that received it.
type Tx struct {
	tx *sql.Tx
}

// ErrNotInitialized is returned by Platform before the ledger has an owner.
var ErrNotInitialized = errors.New("ledger not initialized")

// Platform returns the platform configuration row.
// Returns ErrNotInitialized if InitPlatform has never run.
func (t *Tx) Platform(ctx context.Context) (platform.Config, error) {
	var cfg platform.Config
	var owner string
	err := t.tx.QueryRowContext(ctx, `
		SELECT owner, fee_percent FROM platform WHERE id = 1
	`).Scan(&owner, &cfg.FeePercent)
	if errors.Is(err, sql.ErrNoRows) {
		return platform.Config{}, ErrNotInitialized
	}
	if err != nil {
		return platform.Config{}, fmt.Errorf("read platform: %w", err)
	}
	cfg.Owner = ledger.Participant(owner)
	return cfg, nil
}

// InitPlatform inserts the platform configuration row.
// Returns inserted=false if the row already exists.
func (t *Tx) InitPlatform(ctx context.Context, cfg platform.Config) (inserted bool, err error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO platform (id, owner, fee_percent) VALUES (1, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, string(cfg.Owner), cfg.FeePercent)
	if err != nil {
		return false, fmt.Errorf("init platform: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("init platform: rows affected: %w", err)
	}
	return n > 0, nil
}

// SetFeePercent updates the platform fee.
func (t *Tx) SetFeePercent(ctx context.Context, pct int) error {
	result, err := t.tx.ExecContext(ctx, `UPDATE platform SET fee_percent = ? WHERE id = 1`, pct)
	if err != nil {
		return fmt.Errorf("set fee: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotInitialized
	}
	return nil
}

// NextPollID allocates the next poll id. The counter only advances if the
// surrounding transaction commits, so ids of rejected commands are never
// consumed.
func (t *Tx) NextPollID(ctx context.Context) (ledger.PollID, error) {
	var next int64
	err := t.tx.QueryRowContext(ctx, `
		UPDATE counters SET next_poll_id = next_poll_id + 1 WHERE id = 1
		RETURNING next_poll_id - 1
	`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next poll id: %w", err)
	}
	return ledger.PollID(next), nil
}

// PollCount returns the number of poll ids allocated so far.
func (t *Tx) PollCount(ctx context.Context) (uint64, error) {
	var n int64
	if err := t.tx.QueryRowContext(ctx, `SELECT next_poll_id FROM counters WHERE id = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("poll count: %w", err)
	}
	return uint64(n), nil
}

// LastSeq returns the highest seq used by any transfer or event, or 0 for an
// empty ledger. The engine resumes its logical clock from here.
func (t *Tx) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT MAX(seq) FROM transfers), 0),
			COALESCE((SELECT MAX(seq) FROM events), 0)
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}
