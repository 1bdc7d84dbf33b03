// Package sqlite provides a SQLite-backed record store.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/leaderboard-ledger/internal/config"
	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/store"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

// Store persists ledger records in SQLite.
type Store struct {
	sqlDB      *sql.DB
	logger     *slog.Logger
	maxRetries int
}

// Open opens a SQLite store and applies the embedded schema.
func Open(cfg *config.SQLiteConfig, maxRetries int, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	// Writable transactions take the write lock at BEGIN so read-modify-write
	// sequences cannot interleave. Read-only ones begin deferred.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		filepath.Clean(cfg.Path), busy.Milliseconds(),
	)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrate(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("sqlite database opened", "path", cfg.Path)
	return &Store{sqlDB: sqlDB, logger: logger, maxRetries: maxRetries}, nil
}

func migrate(sqlDB *sql.DB) error {
	if _, err := sqlDB.Exec(schema); err != nil {
		return err
	}
	_, err := sqlDB.Exec(
		`INSERT INTO ledger_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
		store.SchemaKey(), store.SchemaVersion,
	)
	return err
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Update runs fn inside an immediate transaction and commits it when fn
// succeeds. Lock timeouts are retried.
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	return store.RetryOnConflict(ctx, s.maxRetries, isBusy, func() error {
		return s.inTx(ctx, fn, true)
	})
}

// View runs fn inside a read-only transaction that is always rolled back.
// It reads a WAL snapshot and does not wait for writers.
func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.inTx(ctx, fn, false)
}

func (s *Store) inTx(ctx context.Context, fn func(tx store.Tx) error, commit bool) error {
	sqlTx, err := s.sqlDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: !commit})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&tx{sqlTx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if !commit {
		return sqlTx.Rollback()
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

type tx struct {
	sqlTx *sql.Tx
}

func (t *tx) Leaderboard(ctx context.Context) (*domain.GlobalLeaderboard, error) {
	var (
		admin               string
		players, games, top string
		topPlayer           sql.NullString
	)
	err := t.sqlTx.QueryRowContext(ctx,
		`SELECT administrator, total_players, total_games, top_score, top_player
		   FROM global_leaderboard WHERE id = 1`,
	).Scan(&admin, &players, &games, &top, &topPlayer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	g := &domain.GlobalLeaderboard{Administrator: domain.Identity(admin)}
	if g.TotalPlayers, err = parseCounter(players); err != nil {
		return nil, err
	}
	if g.TotalGames, err = parseCounter(games); err != nil {
		return nil, err
	}
	if g.TopScore, err = parseCounter(top); err != nil {
		return nil, err
	}
	if topPlayer.Valid {
		id := domain.Identity(topPlayer.String)
		g.TopPlayer = &id
	}
	return g, nil
}

func (t *tx) PutLeaderboard(ctx context.Context, g *domain.GlobalLeaderboard) error {
	var topPlayer sql.NullString
	if g.TopPlayer != nil {
		topPlayer = sql.NullString{String: g.TopPlayer.String(), Valid: true}
	}
	_, err := t.sqlTx.ExecContext(ctx,
		`INSERT INTO global_leaderboard (id, administrator, total_players, total_games, top_score, top_player)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   administrator = excluded.administrator,
		   total_players = excluded.total_players,
		   total_games = excluded.total_games,
		   top_score = excluded.top_score,
		   top_player = excluded.top_player`,
		g.Administrator.String(),
		formatCounter(g.TotalPlayers),
		formatCounter(g.TotalGames),
		formatCounter(g.TopScore),
		topPlayer,
	)
	if err != nil {
		return fmt.Errorf("put leaderboard: %w", err)
	}
	return nil
}

func (t *tx) Player(ctx context.Context, id domain.Identity) (*domain.PlayerRecord, error) {
	var (
		owner        string
		high, games  string
		lastPlayedAt int64
	)
	err := t.sqlTx.QueryRowContext(ctx,
		`SELECT owner, high_score, total_games, last_played_at
		   FROM player_records WHERE record_key = ?`,
		store.PlayerKey(id),
	).Scan(&owner, &high, &games, &lastPlayedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get player: %w", err)
	}

	p := &domain.PlayerRecord{
		Owner:        domain.Identity(owner),
		LastPlayedAt: fromNanos(lastPlayedAt),
	}
	if p.HighScore, err = parseCounter(high); err != nil {
		return nil, err
	}
	if p.TotalGames, err = parseCounter(games); err != nil {
		return nil, err
	}
	return p, nil
}

func (t *tx) PutPlayer(ctx context.Context, p *domain.PlayerRecord) error {
	_, err := t.sqlTx.ExecContext(ctx,
		`INSERT INTO player_records (record_key, owner, high_score, total_games, last_played_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(record_key) DO UPDATE SET
		   high_score = excluded.high_score,
		   total_games = excluded.total_games,
		   last_played_at = excluded.last_played_at`,
		store.PlayerKey(p.Owner),
		p.Owner.String(),
		formatCounter(p.HighScore),
		formatCounter(p.TotalGames),
		toNanos(p.LastPlayedAt),
	)
	if err != nil {
		return fmt.Errorf("put player: %w", err)
	}
	return nil
}

func formatCounter(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseCounter(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode counter %q: %w", s, err)
	}
	return v, nil
}

func toNanos(value time.Time) int64 {
	return value.UTC().UnixNano()
}

func fromNanos(value int64) time.Time {
	return time.Unix(0, value).UTC()
}
