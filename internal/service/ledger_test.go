package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/leaderboard-ledger/internal/badger"
	"github.com/leaderboard-ledger/internal/config"
	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/metrics"
	"github.com/leaderboard-ledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu        sync.Mutex
	topScores []domain.LeaderboardSnapshot
	players   []domain.PlayerRecord
}

func (n *recordingNotifier) BroadcastTopScore(snap domain.LeaderboardSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topScores = append(n.topScores, snap)
}

func (n *recordingNotifier) BroadcastPlayerUpdate(player domain.PlayerRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.players = append(n.players, player)
}

func newTestService(t *testing.T, maxRetries int, opts ...Option) *LedgerService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := badger.Open(&config.BadgerConfig{InMemory: true}, maxRetries, logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithMetrics(metrics.NewManager()),
	}, opts...)
	return NewLedgerService(st, logger, opts...)
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.DefaultMaxConflictRetries)

	require.NoError(t, svc.Initialize(ctx, "admin"))

	snap, err := svc.QueryLeaderboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.LeaderboardSnapshot{}, *snap)

	err = svc.Initialize(ctx, "intruder")
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	err = svc.store.View(ctx, func(tx store.Tx) error {
		g, err := tx.Leaderboard(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.Identity("admin"), g.Administrator)
		return nil
	})
	require.NoError(t, err)
}

func TestQueryLeaderboard_NotInitialized(t *testing.T) {
	svc := newTestService(t, store.DefaultMaxConflictRetries)

	_, err := svc.QueryLeaderboard(context.Background())
	assert.ErrorIs(t, err, domain.ErrLeaderboardNotInitialized)
}

func TestRegisterPlayer(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.DefaultMaxConflictRetries)

	_, err := svc.RegisterPlayer(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrLeaderboardNotInitialized)

	require.NoError(t, svc.Initialize(ctx, "admin"))

	player, err := svc.RegisterPlayer(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("alice"), player.Owner)
	assert.Zero(t, player.HighScore)
	assert.Zero(t, player.TotalGames)
	assert.Equal(t, testNow, player.LastPlayedAt)

	_, err = svc.RegisterPlayer(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrPlayerAlreadyRegistered)

	snap, err := svc.QueryLeaderboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.TotalPlayers)

	stored, err := svc.GetPlayer(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, *player, *stored)
}

func TestSubmitScore_Rejections(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.DefaultMaxConflictRetries)

	_, err := svc.SubmitScore(ctx, "alice", domain.ScoreSubmission{Score: 10})
	assert.ErrorIs(t, err, domain.ErrLeaderboardNotInitialized)

	require.NoError(t, svc.Initialize(ctx, "admin"))

	_, err = svc.SubmitScore(ctx, "alice", domain.ScoreSubmission{Score: 10})
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)

	_, err = svc.RegisterPlayer(ctx, "alice")
	require.NoError(t, err)
	_, err = svc.RegisterPlayer(ctx, "bob")
	require.NoError(t, err)

	tests := []struct {
		name   string
		caller domain.Identity
		sub    domain.ScoreSubmission
		want   error
	}{
		{"zero score", "alice", domain.ScoreSubmission{Score: 0}, domain.ErrInvalidScore},
		{"on behalf of another player", "bob", domain.ScoreSubmission{Player: "alice", Score: 50}, domain.ErrUnauthorized},
		{"empty caller", "", domain.ScoreSubmission{Score: 50}, domain.ErrUnauthorized},
		{"blank caller", "   ", domain.ScoreSubmission{Score: 50}, domain.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SubmitScore(ctx, tt.caller, tt.sub)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	snap, err := svc.QueryLeaderboard(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.TotalGames)
	assert.Zero(t, snap.TopScore)
	assert.Nil(t, snap.TopPlayer)

	alice, err := svc.GetPlayer(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, alice.TotalGames)
	assert.Zero(t, alice.HighScore)
}

func TestSubmitScore_ExplicitSelf(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.DefaultMaxConflictRetries)
	require.NoError(t, svc.Initialize(ctx, "admin"))
	_, err := svc.RegisterPlayer(ctx, "alice")
	require.NoError(t, err)

	res, err := svc.SubmitScore(ctx, "alice", domain.ScoreSubmission{Player: "alice", Score: 5})
	require.NoError(t, err)
	assert.True(t, res.PersonalBest)
	assert.True(t, res.NewTopScore)
}

func TestSubmitScore_TieKeepsFirstChampion(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc := newTestService(t, store.DefaultMaxConflictRetries, WithNotifier(notifier))

	require.NoError(t, svc.Initialize(ctx, "A"))
	_, err := svc.RegisterPlayer(ctx, "A")
	require.NoError(t, err)
	_, err = svc.RegisterPlayer(ctx, "B")
	require.NoError(t, err)

	res, err := svc.SubmitScore(ctx, "A", domain.ScoreSubmission{Score: 100})
	require.NoError(t, err)
	assert.True(t, res.NewTopScore)
	assert.Equal(t, uint64(100), res.Leaderboard.TopScore)
	assert.Equal(t, domain.Identity("A"), *res.Leaderboard.TopPlayer)

	res, err = svc.SubmitScore(ctx, "B", domain.ScoreSubmission{Score: 100})
	require.NoError(t, err)
	assert.True(t, res.PersonalBest)
	assert.False(t, res.NewTopScore)
	assert.Equal(t, domain.Identity("A"), *res.Leaderboard.TopPlayer)

	res, err = svc.SubmitScore(ctx, "B", domain.ScoreSubmission{Score: 150})
	require.NoError(t, err)
	assert.True(t, res.NewTopScore)

	snap, err := svc.QueryLeaderboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.TotalPlayers)
	assert.Equal(t, uint64(3), snap.TotalGames)
	assert.Equal(t, uint64(150), snap.TopScore)
	require.NotNil(t, snap.TopPlayer)
	assert.Equal(t, domain.Identity("B"), *snap.TopPlayer)

	a, err := svc.GetPlayer(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), a.HighScore)
	b, err := svc.GetPlayer(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, uint64(150), b.HighScore)
	assert.Equal(t, uint64(2), b.TotalGames)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Len(t, notifier.players, 3)
	assert.Len(t, notifier.topScores, 2)
}

func TestSubmitScore_LowerScoreStillCountsGame(t *testing.T) {
	ctx := context.Background()
	clock := testNow
	svc := newTestService(t, store.DefaultMaxConflictRetries, WithClock(func() time.Time { return clock }))
	require.NoError(t, svc.Initialize(ctx, "admin"))
	_, err := svc.RegisterPlayer(ctx, "alice")
	require.NoError(t, err)

	_, err = svc.SubmitScore(ctx, "alice", domain.ScoreSubmission{Score: 80})
	require.NoError(t, err)

	clock = testNow.Add(time.Hour)
	res, err := svc.SubmitScore(ctx, "alice", domain.ScoreSubmission{Score: 30})
	require.NoError(t, err)
	assert.False(t, res.PersonalBest)
	assert.False(t, res.NewTopScore)
	assert.Equal(t, uint64(80), res.Player.HighScore)
	assert.Equal(t, uint64(2), res.Player.TotalGames)
	assert.Equal(t, clock, res.Player.LastPlayedAt)
	assert.Equal(t, uint64(2), res.Leaderboard.TotalGames)
}

func TestSubmitScore_RandomSequences(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.DefaultMaxConflictRetries)
	require.NoError(t, svc.Initialize(ctx, "admin"))

	players := []domain.Identity{"p1", "p2", "p3", "p4"}
	for _, p := range players {
		_, err := svc.RegisterPlayer(ctx, p)
		require.NoError(t, err)
	}

	rng := rand.New(rand.NewSource(42))
	best := make(map[domain.Identity]uint64)
	var (
		top      uint64
		champion domain.Identity
		games    uint64
	)
	for i := 0; i < 200; i++ {
		p := players[rng.Intn(len(players))]
		score := uint64(rng.Intn(50) + 1)
		_, err := svc.SubmitScore(ctx, p, domain.ScoreSubmission{Score: score})
		require.NoError(t, err)

		games++
		if score > best[p] {
			best[p] = score
		}
		if score > top {
			top, champion = score, p
		}
	}

	snap, err := svc.QueryLeaderboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, games, snap.TotalGames)
	assert.Equal(t, uint64(len(players)), snap.TotalPlayers)
	assert.Equal(t, top, snap.TopScore)
	require.NotNil(t, snap.TopPlayer)
	assert.Equal(t, champion, *snap.TopPlayer)

	for _, p := range players {
		rec, err := svc.GetPlayer(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, best[p], rec.HighScore, "player %s", p)
	}
}

func TestSubmitScore_ConcurrentWritersSerialize(t *testing.T) {
	ctx := context.Background()
	const writers = 16
	svc := newTestService(t, 2*writers)
	require.NoError(t, svc.Initialize(ctx, "admin"))

	for i := 0; i < writers; i++ {
		_, err := svc.RegisterPlayer(ctx, domain.Identity(fmt.Sprintf("player-%d", i)))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := domain.Identity(fmt.Sprintf("player-%d", i))
			_, err := svc.SubmitScore(ctx, caller, domain.ScoreSubmission{Score: uint64(100 + i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := svc.QueryLeaderboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(writers), snap.TotalGames)
	assert.Equal(t, uint64(100+writers-1), snap.TopScore)
	require.NotNil(t, snap.TopPlayer)
	assert.Equal(t, domain.Identity(fmt.Sprintf("player-%d", writers-1)), *snap.TopPlayer)
	assert.NoError(t, (&domain.GlobalLeaderboard{
		TotalGames: snap.TotalGames,
		TopScore:   snap.TopScore,
		TopPlayer:  snap.TopPlayer,
	}).Validate())
}

func TestGetPlayer_NotFound(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.DefaultMaxConflictRetries)

	_, err := svc.GetPlayer(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)

	_, err = svc.GetPlayer(ctx, "")
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestInitialize_RejectsEmptyCaller(t *testing.T) {
	svc := newTestService(t, store.DefaultMaxConflictRetries)

	err := svc.Initialize(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
