package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leaderboard-ledger/internal/config"
	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/store"
	"github.com/redis/go-redis/v9"
)

// Store keeps ledger records in Redis hashes. Updates use optimistic
// locking: every key read in an update is WATCHed and the buffered writes
// are applied in a single MULTI/EXEC.
type Store struct {
	client     *redis.Client
	logger     *slog.Logger
	maxRetries int
}

// NewStore creates a new Redis record store
func NewStore(cfg *config.RedisConfig, maxRetries int, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	if err := client.SetNX(ctx, store.SchemaKey(), store.SchemaVersion, 0).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("writing schema version: %w", err)
	}

	logger.Info("connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	return &Store{
		client:     client,
		logger:     logger,
		maxRetries: maxRetries,
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Update runs fn with watched reads and commits its writes atomically. A
// write by another client to any watched key aborts the EXEC and fn is run
// again.
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	return store.RetryOnConflict(ctx, s.maxRetries, isConflict, func() error {
		return s.client.Watch(ctx, func(rtx *redis.Tx) error {
			t := newTx(rtx, rtx)
			if err := fn(t); err != nil {
				return err
			}
			if !t.dirty() {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				t.flush(ctx, pipe)
				return nil
			})
			return err
		})
	})
}

// View runs fn against the current state without locking.
func (s *Store) View(_ context.Context, fn func(tx store.Tx) error) error {
	return fn(newTx(s.client, nil))
}

func isConflict(err error) bool {
	return errors.Is(err, redis.TxFailedErr)
}

// tx buffers writes until EXEC and serves reads of buffered records from
// the buffer.
type tx struct {
	reader  redis.Cmdable
	watcher *redis.Tx

	leaderboard *domain.GlobalLeaderboard
	players     map[domain.Identity]*domain.PlayerRecord
}

func newTx(reader redis.Cmdable, watcher *redis.Tx) *tx {
	return &tx{
		reader:  reader,
		watcher: watcher,
		players: make(map[domain.Identity]*domain.PlayerRecord),
	}
}

func (t *tx) dirty() bool {
	return t.leaderboard != nil || len(t.players) > 0
}

func (t *tx) flush(ctx context.Context, pipe redis.Pipeliner) {
	if t.leaderboard != nil {
		key := store.LeaderboardKey()
		pipe.HSet(ctx, key, encodeLeaderboard(t.leaderboard))
		if t.leaderboard.TopPlayer == nil {
			pipe.HDel(ctx, key, fieldTopPlayer)
		}
	}
	for _, p := range t.players {
		pipe.HSet(ctx, store.PlayerKey(p.Owner), encodePlayer(p))
	}
}

// hgetAll reads a hash, WATCHing it first when running inside an update.
func (t *tx) hgetAll(ctx context.Context, key string) (map[string]string, error) {
	if t.watcher != nil {
		if err := t.watcher.Watch(ctx, key).Err(); err != nil {
			return nil, fmt.Errorf("watching %s: %w", key, err)
		}
	}
	fields, err := t.reader.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return fields, nil
}

func (t *tx) Leaderboard(ctx context.Context) (*domain.GlobalLeaderboard, error) {
	if t.leaderboard != nil {
		g := *t.leaderboard
		return &g, nil
	}
	fields, err := t.hgetAll(ctx, store.LeaderboardKey())
	if err != nil {
		return nil, err
	}
	return decodeLeaderboard(fields)
}

func (t *tx) PutLeaderboard(_ context.Context, g *domain.GlobalLeaderboard) error {
	if t.watcher == nil {
		return errors.New("redis: write in read-only transaction")
	}
	c := *g
	t.leaderboard = &c
	return nil
}

func (t *tx) Player(ctx context.Context, id domain.Identity) (*domain.PlayerRecord, error) {
	if p, ok := t.players[id]; ok {
		c := *p
		return &c, nil
	}
	fields, err := t.hgetAll(ctx, store.PlayerKey(id))
	if err != nil {
		return nil, err
	}
	return decodePlayer(fields)
}

func (t *tx) PutPlayer(_ context.Context, p *domain.PlayerRecord) error {
	if t.watcher == nil {
		return errors.New("redis: write in read-only transaction")
	}
	c := *p
	t.players[p.Owner] = &c
	return nil
}
