package domain

import "fmt"

// GlobalLeaderboard is the singleton record holding aggregate counts and the
// current champion
type GlobalLeaderboard struct {
	Administrator Identity  `json:"administrator"`
	TotalPlayers  uint64    `json:"total_players"`
	TotalGames    uint64    `json:"total_games"`
	TopScore      uint64    `json:"top_score"`
	TopPlayer     *Identity `json:"top_player,omitempty"`
}

// NewGlobalLeaderboard creates the zero-state leaderboard administered by admin
func NewGlobalLeaderboard(admin Identity) *GlobalLeaderboard {
	return &GlobalLeaderboard{Administrator: admin}
}

// RecordPlayer counts a newly registered player
func (g *GlobalLeaderboard) RecordPlayer() {
	g.TotalPlayers++
}

// RecordScore counts a submission and reports whether it took the top spot.
// The first player to reach a score keeps it; equal scores do not displace them.
func (g *GlobalLeaderboard) RecordScore(player Identity, score uint64) bool {
	g.TotalGames++
	if score <= g.TopScore {
		return false
	}
	g.TopScore = score
	holder := player
	g.TopPlayer = &holder
	return true
}

// Validate checks that top player, top score and game count agree on whether
// any score has been submitted
func (g *GlobalLeaderboard) Validate() error {
	hasPlayer := g.TopPlayer != nil
	hasScore := g.TopScore != 0
	hasGames := g.TotalGames != 0
	if hasPlayer != hasScore || hasScore != hasGames {
		return fmt.Errorf("inconsistent leaderboard: top_player set=%t, top_score=%d, total_games=%d",
			hasPlayer, g.TopScore, g.TotalGames)
	}
	return nil
}

// Snapshot returns the read-only projection of the record
func (g *GlobalLeaderboard) Snapshot() LeaderboardSnapshot {
	snap := LeaderboardSnapshot{
		TotalPlayers: g.TotalPlayers,
		TotalGames:   g.TotalGames,
		TopScore:     g.TopScore,
	}
	if g.TopPlayer != nil {
		holder := *g.TopPlayer
		snap.TopPlayer = &holder
	}
	return snap
}

// LeaderboardSnapshot is the public view of the global leaderboard
type LeaderboardSnapshot struct {
	TotalPlayers uint64    `json:"total_players"`
	TotalGames   uint64    `json:"total_games"`
	TopScore     uint64    `json:"top_score"`
	TopPlayer    *Identity `json:"top_player"`
}

// ScoreSubmission represents a request to submit a score. An empty Player
// means the caller submits for themselves.
type ScoreSubmission struct {
	Player Identity `json:"player_id,omitempty"`
	Score  uint64   `json:"score"`
}

// Validate rejects non-positive scores
func (s ScoreSubmission) Validate() error {
	if s.Score == 0 {
		return ErrInvalidScore
	}
	return nil
}

// SubmitResult describes the effect of an accepted submission
type SubmitResult struct {
	Player       PlayerRecord        `json:"player"`
	Leaderboard  LeaderboardSnapshot `json:"leaderboard"`
	PersonalBest bool                `json:"personal_best"`
	NewTopScore  bool                `json:"new_top_score"`
}
