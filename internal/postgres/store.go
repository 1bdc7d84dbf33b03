package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaderboard-ledger/internal/config"
	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/store"
)

// Store provides a PostgreSQL-backed record store. Counters are NUMERIC(20,0)
// so the full uint64 range survives.
type Store struct {
	pool       *pgxpool.Pool
	logger     *slog.Logger
	maxRetries int
}

// NewStore creates a connection pool and runs migrations
func NewStore(ctx context.Context, cfg *config.PostgresConfig, maxRetries int, logger *slog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{
		pool:       pool,
		logger:     logger,
		maxRetries: maxRetries,
	}
	if err := s.RunMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (s *Store) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS ledger_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS global_leaderboard (
			id SMALLINT PRIMARY KEY CHECK (id = 1),
			administrator TEXT NOT NULL,
			total_players NUMERIC(20,0) NOT NULL DEFAULT 0,
			total_games NUMERIC(20,0) NOT NULL DEFAULT 0,
			top_score NUMERIC(20,0) NOT NULL DEFAULT 0,
			top_player TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS player_records (
			record_key VARCHAR(128) PRIMARY KEY,
			owner TEXT NOT NULL UNIQUE,
			high_score NUMERIC(20,0) NOT NULL DEFAULT 0,
			total_games NUMERIC(20,0) NOT NULL DEFAULT 0,
			last_played_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_meta (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		store.SchemaKey(), store.SchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("writing schema version: %w", err)
	}

	s.logger.Info("database migrations completed")
	return nil
}

// Update runs fn in a SERIALIZABLE transaction. Serialization failures and
// deadlocks re-run fn.
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	return store.RetryOnConflict(ctx, s.maxRetries, isRetryable, func() error {
		return pgx.BeginTxFunc(ctx, s.pool, opts, func(pgTx pgx.Tx) error {
			return fn(&tx{pgTx: pgTx, forUpdate: true})
		})
	})
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return pgx.BeginTxFunc(ctx, s.pool, opts, func(pgTx pgx.Tx) error {
		return fn(&tx{pgTx: pgTx})
	})
}

// isRetryable reports serialization failures, deadlocks and the unique
// violation two racing first inserts produce.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

type tx struct {
	pgTx      pgx.Tx
	forUpdate bool
}

func (t *tx) lockClause() string {
	if t.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (t *tx) Leaderboard(ctx context.Context) (*domain.GlobalLeaderboard, error) {
	query := `
		SELECT administrator, total_players::text, total_games::text, top_score::text, top_player
		FROM global_leaderboard
		WHERE id = 1` + t.lockClause()

	var (
		admin               string
		players, games, top string
		topPlayer           pgtype.Text
	)
	err := t.pgTx.QueryRow(ctx, query).Scan(&admin, &players, &games, &top, &topPlayer)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting leaderboard: %w", err)
	}

	g := &domain.GlobalLeaderboard{Administrator: domain.Identity(admin)}
	if g.TotalPlayers, err = parseNumeric(players); err != nil {
		return nil, err
	}
	if g.TotalGames, err = parseNumeric(games); err != nil {
		return nil, err
	}
	if g.TopScore, err = parseNumeric(top); err != nil {
		return nil, err
	}
	if topPlayer.Valid {
		id := domain.Identity(topPlayer.String)
		g.TopPlayer = &id
	}
	return g, nil
}

func (t *tx) PutLeaderboard(ctx context.Context, g *domain.GlobalLeaderboard) error {
	query := `
		INSERT INTO global_leaderboard (id, administrator, total_players, total_games, top_score, top_player)
		VALUES (1, $1, $2::numeric, $3::numeric, $4::numeric, $5)
		ON CONFLICT (id)
		DO UPDATE SET
			administrator = EXCLUDED.administrator,
			total_players = EXCLUDED.total_players,
			total_games = EXCLUDED.total_games,
			top_score = EXCLUDED.top_score,
			top_player = EXCLUDED.top_player
	`
	_, err := t.pgTx.Exec(ctx, query,
		g.Administrator.String(),
		formatNumeric(g.TotalPlayers),
		formatNumeric(g.TotalGames),
		formatNumeric(g.TopScore),
		topPlayerText(g.TopPlayer),
	)
	if err != nil {
		return fmt.Errorf("upserting leaderboard: %w", err)
	}
	return nil
}

func (t *tx) Player(ctx context.Context, id domain.Identity) (*domain.PlayerRecord, error) {
	query := `
		SELECT owner, high_score::text, total_games::text, last_played_at
		FROM player_records
		WHERE record_key = $1` + t.lockClause()

	var (
		owner       string
		high, games string
		p           domain.PlayerRecord
	)
	err := t.pgTx.QueryRow(ctx, query, store.PlayerKey(id)).Scan(&owner, &high, &games, &p.LastPlayedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}

	p.Owner = domain.Identity(owner)
	p.LastPlayedAt = p.LastPlayedAt.UTC()
	if p.HighScore, err = parseNumeric(high); err != nil {
		return nil, err
	}
	if p.TotalGames, err = parseNumeric(games); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) PutPlayer(ctx context.Context, p *domain.PlayerRecord) error {
	query := `
		INSERT INTO player_records (record_key, owner, high_score, total_games, last_played_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5)
		ON CONFLICT (record_key)
		DO UPDATE SET
			high_score = EXCLUDED.high_score,
			total_games = EXCLUDED.total_games,
			last_played_at = EXCLUDED.last_played_at
	`
	_, err := t.pgTx.Exec(ctx, query,
		store.PlayerKey(p.Owner),
		p.Owner.String(),
		formatNumeric(p.HighScore),
		formatNumeric(p.TotalGames),
		p.LastPlayedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting player: %w", err)
	}
	return nil
}

func topPlayerText(id *domain.Identity) pgtype.Text {
	if id == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: id.String(), Valid: true}
}

func formatNumeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseNumeric(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decoding numeric %q: %w", s, err)
	}
	return v, nil
}
