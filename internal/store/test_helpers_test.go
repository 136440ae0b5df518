package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pulse/internal/ledger"
)

var testTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestPoll creates an active EqualSplit poll with minimal required fields.
func createTestPoll(id ledger.PollID, creator ledger.Participant) ledger.Poll {
	return ledger.Poll{
		ID:           id,
		Creator:      creator,
		CreatedAt:    testTime,
		Deadline:     testTime.Add(time.Hour),
		MinResponses: 1,
		MaxResponses: 3,
		RewardType:   ledger.EqualSplit,
		RewardPool:   100,
		Status:       ledger.StatusActive,
		DataHash:     "hash",
	}
}

// update runs fn in a write transaction and fails the test on error.
func update(t *testing.T, s *Store, fn func(context.Context, *Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx *Tx) error { return fn(ctx, tx) }))
}

// view runs fn in a read transaction and fails the test on error.
func view(t *testing.T, s *Store, fn func(context.Context, *Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.View(ctx, func(tx *Tx) error { return fn(ctx, tx) }))
}
