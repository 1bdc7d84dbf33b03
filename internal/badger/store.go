// Package badger implements the record store on an embedded Badger database.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/leaderboard-ledger/internal/config"
	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/store"
)

// Store wraps a Badger database instance.
type Store struct {
	db         *badger.DB
	logger     *slog.Logger
	maxRetries int
}

// Open opens (or creates) the database described by cfg.
func Open(cfg *config.BadgerConfig, maxRetries int, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Disable Badger's internal logging
	opts.SyncWrites = cfg.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &Store{
		db:         db,
		logger:     logger,
		maxRetries: maxRetries,
	}
	if err := s.writeSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("badger database opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return s, nil
}

// writeSchema records the layout version the first time the database is used.
func (s *Store) writeSchema() error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(store.SchemaKey()))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("reading schema version: %w", err)
		}
		return txn.Set([]byte(store.SchemaKey()), []byte(store.SchemaVersion))
	})
}

// Close gracefully closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is still open.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger db is closed")
	}
	return nil
}

// Update runs fn in a read-write transaction, re-running it when Badger
// detects that another transaction committed a key fn read.
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	return store.RetryOnConflict(ctx, s.maxRetries, isConflict, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return fn(&tx{txn: txn})
		})
	})
}

// View runs fn in a read-only transaction.
func (s *Store) View(_ context.Context, fn func(tx store.Tx) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	})
}

func isConflict(err error) bool {
	return errors.Is(err, badger.ErrConflict)
}

type tx struct {
	txn *badger.Txn
}

func (t *tx) Leaderboard(_ context.Context) (*domain.GlobalLeaderboard, error) {
	var g domain.GlobalLeaderboard
	if err := t.get(store.LeaderboardKey(), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (t *tx) PutLeaderboard(_ context.Context, g *domain.GlobalLeaderboard) error {
	return t.set(store.LeaderboardKey(), g)
}

func (t *tx) Player(_ context.Context, id domain.Identity) (*domain.PlayerRecord, error) {
	var p domain.PlayerRecord
	if err := t.get(store.PlayerKey(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) PutPlayer(_ context.Context, p *domain.PlayerRecord) error {
	return t.set(store.PlayerKey(p.Owner), p)
}

// get retrieves a value by key.
func (t *tx) get(key string, dest any) error {
	item, err := t.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dest)
	})
}

// set stores a value by key.
func (t *tx) set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return t.txn.Set([]byte(key), data)
}
