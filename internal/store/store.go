// Package store defines the durable keyed record store the ledger runs on.
//
// A Store exposes transactions over two record kinds: the singleton global
// leaderboard and one player record per identity. Every Update commits all of
// its writes or none of them.
package store

import (
	"context"
	"errors"

	"github.com/leaderboard-ledger/internal/domain"
)

// Sentinel errors shared by every backend.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("transaction conflict")
)

// DefaultMaxConflictRetries bounds how often a backend re-runs a transaction
// that lost a commit race.
const DefaultMaxConflictRetries = 8

// Tx reads and stages writes inside one transaction.
type Tx interface {
	// Leaderboard returns the global record or ErrNotFound.
	Leaderboard(ctx context.Context) (*domain.GlobalLeaderboard, error)
	PutLeaderboard(ctx context.Context, g *domain.GlobalLeaderboard) error

	// Player returns the record owned by id or ErrNotFound.
	Player(ctx context.Context, id domain.Identity) (*domain.PlayerRecord, error)
	PutPlayer(ctx context.Context, p *domain.PlayerRecord) error
}

// Store runs transactions against a backend.
type Store interface {
	// Update runs fn in a read-write transaction. If fn returns an error
	// nothing is written and the error is returned as is. A commit that
	// races another writer re-runs fn on fresh state; ErrConflict is returned
	// once the retries are exhausted.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}
