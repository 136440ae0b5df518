package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/platform"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	tables := []string{"counters", "platform", "polls", "responses", "whitelist", "transfers", "events"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	update(t, s, func(ctx context.Context, tx *Tx) error {
		return tx.PutPoll(ctx, createTestPoll(0, "alice"))
	})
	view(t, s, func(ctx context.Context, tx *Tx) error {
		_, err := tx.GetPoll(ctx, 0)
		return err
	})
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx *Tx) error {
		if _, err := tx.NextPollID(ctx); err != nil {
			return err
		}
		if err := tx.PutPoll(ctx, createTestPoll(0, "alice")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	view(t, s, func(ctx context.Context, tx *Tx) error {
		_, err := tx.GetPoll(ctx, 0)
		assert.True(t, ledger.IsNotFound(err))
		n, err := tx.PollCount(ctx)
		assert.Equal(t, uint64(0), n, "rolled-back id is not consumed")
		return err
	})
}

func TestPlatform(t *testing.T) {
	s := createTestStore(t)

	view(t, s, func(ctx context.Context, tx *Tx) error {
		_, err := tx.Platform(ctx)
		assert.ErrorIs(t, err, ErrNotInitialized)
		return nil
	})

	update(t, s, func(ctx context.Context, tx *Tx) error {
		inserted, err := tx.InitPlatform(ctx, platform.Config{Owner: "owner", FeePercent: 5})
		assert.True(t, inserted)
		return err
	})
	update(t, s, func(ctx context.Context, tx *Tx) error {
		inserted, err := tx.InitPlatform(ctx, platform.Config{Owner: "other", FeePercent: 1})
		assert.False(t, inserted, "second init is ignored")
		return err
	})
	update(t, s, func(ctx context.Context, tx *Tx) error {
		return tx.SetFeePercent(ctx, 7)
	})

	view(t, s, func(ctx context.Context, tx *Tx) error {
		cfg, err := tx.Platform(ctx)
		assert.Equal(t, platform.Config{Owner: "owner", FeePercent: 7}, cfg)
		return err
	})
}

func TestPlatform_FeeCheckConstraint(t *testing.T) {
	s := createTestStore(t)
	update(t, s, func(ctx context.Context, tx *Tx) error {
		_, err := tx.InitPlatform(ctx, platform.Config{Owner: "owner"})
		return err
	})

	err := s.Update(context.Background(), func(tx *Tx) error {
		return tx.SetFeePercent(context.Background(), 11)
	})
	assert.Error(t, err)
}

func TestNextPollID_Sequential(t *testing.T) {
	s := createTestStore(t)

	for want := ledger.PollID(0); want < 3; want++ {
		update(t, s, func(ctx context.Context, tx *Tx) error {
			id, err := tx.NextPollID(ctx)
			assert.Equal(t, want, id)
			return err
		})
	}

	view(t, s, func(ctx context.Context, tx *Tx) error {
		n, err := tx.PollCount(ctx)
		assert.Equal(t, uint64(3), n)
		return err
	})
}

func TestLastSeq(t *testing.T) {
	s := createTestStore(t)

	view(t, s, func(ctx context.Context, tx *Tx) error {
		seq, err := tx.LastSeq(ctx)
		assert.Equal(t, int64(0), seq)
		return err
	})

	update(t, s, func(ctx context.Context, tx *Tx) error {
		if err := tx.PutPoll(ctx, createTestPoll(0, "alice")); err != nil {
			return err
		}
		if err := tx.AppendTransfers(ctx, []ledger.Transfer{
			{Seq: 4, CommandID: "c", PollID: 0, Recipient: "alice", Amount: 1, Kind: ledger.TransferRefund},
		}); err != nil {
			return err
		}
		return tx.AppendEvents(ctx, []ledger.Event{
			{Seq: 9, CommandID: "c", Type: ledger.EventPollCancelled, Payload: ledger.PollCancelledPayload{Refund: 1}},
		})
	})

	view(t, s, func(ctx context.Context, tx *Tx) error {
		seq, err := tx.LastSeq(ctx)
		assert.Equal(t, int64(9), seq)
		return err
	})
}
