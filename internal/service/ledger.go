package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/metrics"
	"github.com/leaderboard-ledger/internal/store"
)

// Operation names used in logs and metrics.
const (
	OpInitialize       = "initialize"
	OpRegisterPlayer   = "register_player"
	OpSubmitScore      = "submit_score"
	OpQueryLeaderboard = "query_leaderboard"
	OpGetPlayer        = "get_player"
)

// Notifier receives committed changes. Implementations must not block.
type Notifier interface {
	BroadcastTopScore(snap domain.LeaderboardSnapshot)
	BroadcastPlayerUpdate(player domain.PlayerRecord)
}

// LedgerService applies the ledger operations to a record store. Every
// mutating operation runs as one store transaction.
type LedgerService struct {
	store    store.Store
	logger   *slog.Logger
	metrics  *metrics.Manager
	notifier Notifier
	now      func() time.Time
}

// Option configures a LedgerService
type Option func(*LedgerService)

// WithClock overrides the time source used for last_played_at
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) {
		s.now = now
	}
}

// WithMetrics records operation metrics on m
func WithMetrics(m *metrics.Manager) Option {
	return func(s *LedgerService) {
		s.metrics = m
	}
}

// WithNotifier sets the receiver of committed changes
func WithNotifier(n Notifier) Option {
	return func(s *LedgerService) {
		s.notifier = n
	}
}

// NewLedgerService creates a new ledger service
func NewLedgerService(st store.Store, logger *slog.Logger, opts ...Option) *LedgerService {
	s := &LedgerService{
		store:  st,
		logger: logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetNotifier sets the notifier after construction, for receivers that need
// the service themselves
func (s *LedgerService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Initialize creates the global leaderboard with caller as administrator
func (s *LedgerService) Initialize(ctx context.Context, caller domain.Identity) (err error) {
	defer s.observe(OpInitialize, time.Now(), &err)

	if !caller.Valid() {
		return domain.ErrUnauthorized
	}

	err = s.store.Update(ctx, func(tx store.Tx) error {
		_, err := tx.Leaderboard(ctx)
		switch {
		case err == nil:
			return domain.ErrAlreadyInitialized
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("reading leaderboard: %w", err)
		}
		return tx.PutLeaderboard(ctx, domain.NewGlobalLeaderboard(caller))
	})
	if err != nil {
		return err
	}

	s.logger.Info("leaderboard initialized", "administrator", caller)
	return nil
}

// RegisterPlayer creates the caller's player record and counts it on the
// leaderboard
func (s *LedgerService) RegisterPlayer(ctx context.Context, caller domain.Identity) (_ *domain.PlayerRecord, err error) {
	defer s.observe(OpRegisterPlayer, time.Now(), &err)

	if !caller.Valid() {
		return nil, domain.ErrUnauthorized
	}

	var player *domain.PlayerRecord
	err = s.store.Update(ctx, func(tx store.Tx) error {
		board, err := loadLeaderboard(ctx, tx)
		if err != nil {
			return err
		}

		_, err = tx.Player(ctx, caller)
		switch {
		case err == nil:
			return domain.ErrPlayerAlreadyRegistered
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("reading player: %w", err)
		}

		player = domain.NewPlayerRecord(caller, s.now())
		board.RecordPlayer()
		if err := tx.PutPlayer(ctx, player); err != nil {
			return err
		}
		return tx.PutLeaderboard(ctx, board)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("player registered", "player", caller)
	return player, nil
}

// SubmitScore records a score for the caller. The submission may only name
// the caller.
func (s *LedgerService) SubmitScore(ctx context.Context, caller domain.Identity, sub domain.ScoreSubmission) (_ *domain.SubmitResult, err error) {
	defer s.observe(OpSubmitScore, time.Now(), &err)

	if !caller.Valid() {
		return nil, domain.ErrUnauthorized
	}
	if sub.Player != "" && sub.Player != caller {
		return nil, domain.ErrUnauthorized
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	var result *domain.SubmitResult
	err = s.store.Update(ctx, func(tx store.Tx) error {
		board, err := loadLeaderboard(ctx, tx)
		if err != nil {
			return err
		}

		player, err := tx.Player(ctx, caller)
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrPlayerNotFound
		}
		if err != nil {
			return fmt.Errorf("reading player: %w", err)
		}
		if player.Owner != caller {
			return domain.ErrUnauthorized
		}

		personalBest := player.RecordScore(sub.Score, s.now())
		topScore := board.RecordScore(caller, sub.Score)
		if err := tx.PutPlayer(ctx, player); err != nil {
			return err
		}
		if err := tx.PutLeaderboard(ctx, board); err != nil {
			return err
		}

		// fn may run again after a commit race; only the last run counts.
		result = &domain.SubmitResult{
			Player:       *player,
			Leaderboard:  board.Snapshot(),
			PersonalBest: personalBest,
			NewTopScore:  topScore,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("score submitted", "player", caller, "score", sub.Score)
	if result.PersonalBest {
		s.logger.Info("new high score", "player", caller, "score", sub.Score)
		s.metrics.IncPersonalBest()
	}
	if result.NewTopScore {
		s.logger.Info("new top score", "player", caller, "score", sub.Score)
		s.metrics.IncTopScoreChange()
	}
	s.metrics.SetSnapshot(result.Leaderboard)
	s.notify(result)
	return result, nil
}

// QueryLeaderboard returns the current leaderboard aggregates
func (s *LedgerService) QueryLeaderboard(ctx context.Context) (_ *domain.LeaderboardSnapshot, err error) {
	defer s.observe(OpQueryLeaderboard, time.Now(), &err)

	var snap domain.LeaderboardSnapshot
	err = s.store.View(ctx, func(tx store.Tx) error {
		board, err := loadLeaderboard(ctx, tx)
		if err != nil {
			return err
		}
		snap = board.Snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetPlayer returns the player record owned by id
func (s *LedgerService) GetPlayer(ctx context.Context, id domain.Identity) (_ *domain.PlayerRecord, err error) {
	defer s.observe(OpGetPlayer, time.Now(), &err)

	if !id.Valid() {
		return nil, domain.ErrPlayerNotFound
	}

	var player *domain.PlayerRecord
	err = s.store.View(ctx, func(tx store.Tx) error {
		p, err := tx.Player(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrPlayerNotFound
		}
		if err != nil {
			return fmt.Errorf("reading player: %w", err)
		}
		player = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return player, nil
}

// Ping checks that the record store is reachable
func (s *LedgerService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func loadLeaderboard(ctx context.Context, tx store.Tx) (*domain.GlobalLeaderboard, error) {
	board, err := tx.Leaderboard(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrLeaderboardNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("reading leaderboard: %w", err)
	}
	return board, nil
}

func (s *LedgerService) notify(result *domain.SubmitResult) {
	if s.notifier == nil {
		return
	}
	s.notifier.BroadcastPlayerUpdate(result.Player)
	if result.NewTopScore {
		s.notifier.BroadcastTopScore(result.Leaderboard)
	}
}

func (s *LedgerService) observe(op string, start time.Time, errp *error) {
	s.metrics.ObserveOperation(op, *errp, time.Since(start))
}
