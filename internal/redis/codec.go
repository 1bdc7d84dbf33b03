package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/leaderboard-ledger/internal/domain"
)

const (
	fieldAdministrator = "administrator"
	fieldTotalPlayers  = "total_players"
	fieldTotalGames    = "total_games"
	fieldTopScore      = "top_score"
	fieldTopPlayer     = "top_player"

	fieldOwner        = "owner"
	fieldHighScore    = "high_score"
	fieldLastPlayedAt = "last_played_at"
)

func encodeLeaderboard(g *domain.GlobalLeaderboard) map[string]interface{} {
	fields := map[string]interface{}{
		fieldAdministrator: g.Administrator.String(),
		fieldTotalPlayers:  strconv.FormatUint(g.TotalPlayers, 10),
		fieldTotalGames:    strconv.FormatUint(g.TotalGames, 10),
		fieldTopScore:      strconv.FormatUint(g.TopScore, 10),
	}
	if g.TopPlayer != nil {
		fields[fieldTopPlayer] = g.TopPlayer.String()
	}
	return fields
}

func decodeLeaderboard(fields map[string]string) (*domain.GlobalLeaderboard, error) {
	g := &domain.GlobalLeaderboard{Administrator: domain.Identity(fields[fieldAdministrator])}
	var err error
	if g.TotalPlayers, err = parseUint(fields, fieldTotalPlayers); err != nil {
		return nil, err
	}
	if g.TotalGames, err = parseUint(fields, fieldTotalGames); err != nil {
		return nil, err
	}
	if g.TopScore, err = parseUint(fields, fieldTopScore); err != nil {
		return nil, err
	}
	if top, ok := fields[fieldTopPlayer]; ok && top != "" {
		id := domain.Identity(top)
		g.TopPlayer = &id
	}
	return g, nil
}

func encodePlayer(p *domain.PlayerRecord) map[string]interface{} {
	return map[string]interface{}{
		fieldOwner:        p.Owner.String(),
		fieldHighScore:    strconv.FormatUint(p.HighScore, 10),
		fieldTotalGames:   strconv.FormatUint(p.TotalGames, 10),
		fieldLastPlayedAt: p.LastPlayedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodePlayer(fields map[string]string) (*domain.PlayerRecord, error) {
	p := &domain.PlayerRecord{Owner: domain.Identity(fields[fieldOwner])}
	var err error
	if p.HighScore, err = parseUint(fields, fieldHighScore); err != nil {
		return nil, err
	}
	if p.TotalGames, err = parseUint(fields, fieldTotalGames); err != nil {
		return nil, err
	}
	if p.LastPlayedAt, err = time.Parse(time.RFC3339Nano, fields[fieldLastPlayedAt]); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", fieldLastPlayedAt, err)
	}
	return p, nil
}

func parseUint(fields map[string]string, name string) (uint64, error) {
	v, err := strconv.ParseUint(fields[name], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decoding %s: %w", name, err)
	}
	return v, nil
}
