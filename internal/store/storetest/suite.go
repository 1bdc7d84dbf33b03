// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errAbort = errors.New("abort")

// Run exercises s against the store contract. s must be empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	played := time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC)

	t.Run("MissingRecords", func(t *testing.T) {
		err := s.View(ctx, func(tx store.Tx) error {
			_, err := tx.Leaderboard(ctx)
			assert.ErrorIs(t, err, store.ErrNotFound)
			_, err = tx.Player(ctx, "nobody")
			assert.ErrorIs(t, err, store.ErrNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("AbortedUpdateWritesNothing", func(t *testing.T) {
		err := s.Update(ctx, func(tx store.Tx) error {
			require.NoError(t, tx.PutLeaderboard(ctx, domain.NewGlobalLeaderboard("admin")))
			require.NoError(t, tx.PutPlayer(ctx, domain.NewPlayerRecord("alice", played)))
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)

		err = s.View(ctx, func(tx store.Tx) error {
			_, err := tx.Leaderboard(ctx)
			assert.ErrorIs(t, err, store.ErrNotFound)
			_, err = tx.Player(ctx, "alice")
			assert.ErrorIs(t, err, store.ErrNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		err := s.Update(ctx, func(tx store.Tx) error {
			g := domain.NewGlobalLeaderboard("admin")
			g.RecordPlayer()
			if err := tx.PutLeaderboard(ctx, g); err != nil {
				return err
			}
			return tx.PutPlayer(ctx, domain.NewPlayerRecord("alice", played))
		})
		require.NoError(t, err)

		err = s.View(ctx, func(tx store.Tx) error {
			g, err := tx.Leaderboard(ctx)
			require.NoError(t, err)
			assert.Equal(t, domain.Identity("admin"), g.Administrator)
			assert.Equal(t, uint64(1), g.TotalPlayers)
			assert.Nil(t, g.TopPlayer)

			p, err := tx.Player(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, domain.Identity("alice"), p.Owner)
			assert.Zero(t, p.HighScore)
			assert.True(t, played.Equal(p.LastPlayedAt), "last_played_at %v", p.LastPlayedAt)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("LargeValuesAndChampion", func(t *testing.T) {
		const huge = ^uint64(0)
		err := s.Update(ctx, func(tx store.Tx) error {
			g, err := tx.Leaderboard(ctx)
			if err != nil {
				return err
			}
			p, err := tx.Player(ctx, "alice")
			if err != nil {
				return err
			}
			p.RecordScore(huge, played.Add(time.Second))
			g.RecordScore(p.Owner, huge)
			if err := tx.PutPlayer(ctx, p); err != nil {
				return err
			}
			return tx.PutLeaderboard(ctx, g)
		})
		require.NoError(t, err)

		err = s.View(ctx, func(tx store.Tx) error {
			g, err := tx.Leaderboard(ctx)
			require.NoError(t, err)
			assert.Equal(t, huge, g.TopScore)
			require.NotNil(t, g.TopPlayer)
			assert.Equal(t, domain.Identity("alice"), *g.TopPlayer)
			assert.NoError(t, g.Validate())

			p, err := tx.Player(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, huge, p.HighScore)
			assert.Equal(t, uint64(1), p.TotalGames)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("ConcurrentIncrementsSerialize", func(t *testing.T) {
		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.Update(ctx, func(tx store.Tx) error {
					g, err := tx.Leaderboard(ctx)
					if err != nil {
						return err
					}
					g.RecordPlayer()
					return tx.PutLeaderboard(ctx, g)
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		err := s.View(ctx, func(tx store.Tx) error {
			g, err := tx.Leaderboard(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(1+writers), g.TotalPlayers)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}
