package main

import (
	"math/rand"
	"testing"

	"github.com/leaderboard-ledger/internal/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlayers_Deterministic(t *testing.T) {
	a := newPlayers(50, 7)
	b := newPlayers(50, 7)
	require.Len(t, a, 50)
	assert.Equal(t, a, b)

	seen := make(map[string]bool)
	for _, id := range a {
		require.True(t, id.Valid())
		assert.False(t, seen[string(id)], "duplicate identity %s", id)
		seen[string(id)] = true
	}
	assert.NotEqual(t, a, newPlayers(50, 8))
}

func TestNextScore(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, n := range []int{1, 20, 100} {
		players := newPlayers(n, 1)
		for i := 0; i < 500; i++ {
			msg := nextScore(rng, players)
			assert.Equal(t, kafka.MessageTypeScore, msg.Type)
			assert.Contains(t, players, msg.PlayerID)
			assert.NotZero(t, msg.Score)
		}
	}
}
