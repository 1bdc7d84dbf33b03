package badger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/leaderboard-ledger/internal/config"
	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/store"
	"github.com/leaderboard-ledger/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_InMemory(t *testing.T) {
	s, err := Open(&config.BadgerConfig{InMemory: true}, store.DefaultMaxConflictRetries, testLogger())
	require.NoError(t, err)
	defer s.Close()

	storetest.Run(t, s)
}

func TestStore_ReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	cfg := &config.BadgerConfig{Path: filepath.Join(t.TempDir(), "ledger"), SyncWrites: true}

	s, err := Open(cfg, store.DefaultMaxConflictRetries, testLogger())
	require.NoError(t, err)
	err = s.Update(ctx, func(tx store.Tx) error {
		return tx.PutLeaderboard(ctx, domain.NewGlobalLeaderboard("admin"))
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(cfg, store.DefaultMaxConflictRetries, testLogger())
	require.NoError(t, err)
	defer s.Close()

	err = s.View(ctx, func(tx store.Tx) error {
		g, err := tx.Leaderboard(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.Identity("admin"), g.Administrator)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_PingAfterClose(t *testing.T) {
	s, err := Open(&config.BadgerConfig{InMemory: true}, 0, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Error(t, s.Ping(context.Background()))
}
