package domain

import (
	"strings"
	"time"
)

// MaxIdentityLength bounds the size of an identity accepted by the ledger
const MaxIdentityLength = 256

// Identity is the platform-verified credential of a caller
type Identity string

// Valid reports whether the identity can own records
func (id Identity) Valid() bool {
	s := string(id)
	return strings.TrimSpace(s) != "" && len(s) <= MaxIdentityLength
}

// String returns the identity as a plain string
func (id Identity) String() string {
	return string(id)
}

// PlayerRecord holds the per-identity statistics
type PlayerRecord struct {
	Owner        Identity  `json:"owner"`
	HighScore    uint64    `json:"high_score"`
	TotalGames   uint64    `json:"total_games"`
	LastPlayedAt time.Time `json:"last_played_at"`
}

// NewPlayerRecord creates an empty record owned by owner
func NewPlayerRecord(owner Identity, now time.Time) *PlayerRecord {
	return &PlayerRecord{
		Owner:        owner,
		LastPlayedAt: now,
	}
}

// RecordScore applies a submission to the record and reports whether it set a
// new personal best. Ties keep the existing high score.
func (p *PlayerRecord) RecordScore(score uint64, now time.Time) bool {
	improved := score > p.HighScore
	if improved {
		p.HighScore = score
	}
	p.TotalGames++
	p.LastPlayedAt = now
	return improved
}
