package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/leaderboard-ledger/internal/config"
	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/store"
	"github.com/leaderboard-ledger/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(&config.SQLiteConfig{Path: path, BusyTimeout: 5 * time.Second}, store.DefaultMaxConflictRetries, logger)
	require.NoError(t, err)
	return s
}

func TestStore_Contract(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	defer s.Close()

	storetest.Run(t, s)
}

func TestOpen_RequiresPath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := Open(&config.SQLiteConfig{Path: "  "}, 0, logger)
	assert.Error(t, err)
}

func TestOpen_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s := openTestStore(t, path)
	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.PutPlayer(ctx, domain.NewPlayerRecord("bob", time.Unix(1700000000, 0)))
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	defer s.Close()
	err = s.View(ctx, func(tx store.Tx) error {
		p, err := tx.Player(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000), p.LastPlayedAt.Unix())
		return nil
	})
	require.NoError(t, err)
}

func TestParseCounter(t *testing.T) {
	v, err := parseCounter("18446744073709551615")
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), v)

	_, err = parseCounter("-1")
	assert.Error(t, err)
}

func TestView_DoesNotWaitForWriter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	defer s.Close()

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return tx.PutLeaderboard(ctx, domain.NewGlobalLeaderboard("admin"))
	}))

	locked := make(chan struct{})
	release := make(chan struct{})
	writerDone := make(chan error, 1)
	go func() {
		writerDone <- s.Update(ctx, func(tx store.Tx) error {
			board, err := tx.Leaderboard(ctx)
			if err != nil {
				return err
			}
			board.RecordPlayer()
			if err := tx.PutLeaderboard(ctx, board); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	viewDone := make(chan error, 1)
	go func() {
		viewDone <- s.View(ctx, func(tx store.Tx) error {
			board, err := tx.Leaderboard(ctx)
			if err != nil {
				return err
			}
			assert.Equal(t, uint64(0), board.TotalPlayers)
			return nil
		})
	}()

	select {
	case err := <-viewDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("view blocked behind an open write transaction")
	}

	close(release)
	require.NoError(t, <-writerDone)
}
