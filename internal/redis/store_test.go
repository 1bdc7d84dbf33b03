package redis

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/leaderboard-ledger/internal/config"
	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/store"
	"github.com/leaderboard-ledger/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaderboardCodec(t *testing.T) {
	top := domain.Identity("alice")
	g := &domain.GlobalLeaderboard{
		Administrator: "admin",
		TotalPlayers:  2,
		TotalGames:    ^uint64(0),
		TopScore:      ^uint64(0) - 1,
		TopPlayer:     &top,
	}

	fields := make(map[string]string)
	for k, v := range encodeLeaderboard(g) {
		fields[k] = v.(string)
	}
	got, err := decodeLeaderboard(fields)
	require.NoError(t, err)
	assert.Equal(t, g, got)

	delete(fields, fieldTopPlayer)
	got, err = decodeLeaderboard(fields)
	require.NoError(t, err)
	assert.Nil(t, got.TopPlayer)
}

func TestLeaderboardCodec_OmitsEmptyChampion(t *testing.T) {
	fields := encodeLeaderboard(domain.NewGlobalLeaderboard("admin"))
	_, ok := fields[fieldTopPlayer]
	assert.False(t, ok)
}

func TestPlayerCodec(t *testing.T) {
	p := &domain.PlayerRecord{
		Owner:        "bob",
		HighScore:    42,
		TotalGames:   7,
		LastPlayedAt: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
	}

	fields := make(map[string]string)
	for k, v := range encodePlayer(p) {
		fields[k] = v.(string)
	}
	got, err := decodePlayer(fields)
	require.NoError(t, err)
	assert.Equal(t, p.Owner, got.Owner)
	assert.Equal(t, p.HighScore, got.HighScore)
	assert.Equal(t, p.TotalGames, got.TotalGames)
	assert.True(t, p.LastPlayedAt.Equal(got.LastPlayedAt))
}

func TestDecode_RejectsCorruptCounters(t *testing.T) {
	_, err := decodeLeaderboard(map[string]string{
		fieldAdministrator: "admin",
		fieldTotalPlayers:  "many",
	})
	assert.Error(t, err)
}

// TestStore_Contract runs against a live server when LEDGER_TEST_REDIS_ADDR
// is set. Database 15 is flushed first.
func TestStore_Contract(t *testing.T) {
	addr := os.Getenv("LEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEDGER_TEST_REDIS_ADDR not set")
	}

	cfg := config.DefaultConfig().Store.Redis
	cfg.Addr = addr
	cfg.DB = 15
	s, err := NewStore(&cfg, store.DefaultMaxConflictRetries, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.client.FlushDB(context.Background()).Err())

	storetest.Run(t, s)
}
