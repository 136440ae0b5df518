package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/pulse/internal/fingerprint"
	"github.com/roach88/pulse/internal/ledger"
)

// AppendEvents writes events to the log. Payloads are stored as canonical
// JSON so the persisted log is byte-stable across replays.
func (t *Tx) AppendEvents(ctx context.Context, events []ledger.Event) error {
	for _, ev := range events {
		payload, err := fingerprint.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("append event seq=%d: %w", ev.Seq, err)
		}
		var pollID sql.NullInt64
		if ev.PollID != nil {
			pollID = sql.NullInt64{Int64: int64(*ev.PollID), Valid: true}
		}
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO events (seq, command_id, type, poll_id, payload)
			VALUES (?, ?, ?, ?, ?)
		`, ev.Seq, ev.CommandID, string(ev.Type), pollID, string(payload))
		if err != nil {
			return fmt.Errorf("append event seq=%d: %w", ev.Seq, err)
		}
	}
	return nil
}

// Events returns events with seq > afterSeq in seq order. A limit <= 0 means
// no limit. Payloads are returned as json.RawMessage.
func (t *Tx) Events(ctx context.Context, afterSeq int64, limit int) ([]ledger.Event, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT seq, command_id, type, poll_id, payload
		FROM events
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ledger.Event{}
	for rows.Next() {
		var (
			ev      ledger.Event
			typ     string
			pollID  sql.NullInt64
			payload string
		)
		if err := rows.Scan(&ev.Seq, &ev.CommandID, &typ, &pollID, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = ledger.EventType(typ)
		if pollID.Valid {
			id := ledger.PollID(pollID.Int64)
			ev.PollID = &id
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
