package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/pulse/internal/ledger"
)

// TransferFilter narrows a transfer query. The zero value matches everything.
type TransferFilter struct {
	PollID      *ledger.PollID
	PendingOnly bool
}

// AppendTransfers records released value. Each transfer must already carry
// its seq and command id.
func (t *Tx) AppendTransfers(ctx context.Context, transfers []ledger.Transfer) error {
	for _, tr := range transfers {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO transfers (seq, command_id, poll_id, recipient, amount, kind, settled)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			tr.Seq,
			tr.CommandID,
			int64(tr.PollID),
			string(tr.Recipient),
			int64(tr.Amount),
			string(tr.Kind),
			boolToInt(tr.Settled),
		)
		if err != nil {
			return fmt.Errorf("append transfer seq=%d: %w", tr.Seq, err)
		}
	}
	return nil
}

// Transfers returns transfers matching f ordered by seq.
// Returns an empty slice (not nil) if none match.
func (t *Tx) Transfers(ctx context.Context, f TransferFilter) ([]ledger.Transfer, error) {
	var (
		where []string
		args  []any
	)
	if f.PollID != nil {
		where = append(where, "poll_id = ?")
		args = append(args, int64(*f.PollID))
	}
	if f.PendingOnly {
		where = append(where, "settled = 0")
	}
	query := `SELECT seq, command_id, poll_id, recipient, amount, kind, settled FROM transfers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	transfers := []ledger.Transfer{}
	for rows.Next() {
		var (
			tr                      ledger.Transfer
			pollID, amount, settled int64
			recipient, kind         string
		)
		if err := rows.Scan(&tr.Seq, &tr.CommandID, &pollID, &recipient, &amount, &kind, &settled); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		tr.PollID = ledger.PollID(pollID)
		tr.Recipient = ledger.Participant(recipient)
		tr.Amount = ledger.Amount(amount)
		tr.Kind = ledger.TransferKind(kind)
		tr.Settled = settled != 0
		transfers = append(transfers, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return transfers, nil
}

// MarkSettled flags transfers as consumed by the settlement layer.
// Returns how many were newly settled; unknown or already-settled seqs are
// ignored.
func (t *Tx) MarkSettled(ctx context.Context, seqs []int64) (int64, error) {
	var total int64
	for _, seq := range seqs {
		result, err := t.tx.ExecContext(ctx, `
			UPDATE transfers SET settled = 1 WHERE seq = ? AND settled = 0
		`, seq)
		if err != nil {
			return 0, fmt.Errorf("mark settled seq=%d: %w", seq, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("mark settled: rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}
