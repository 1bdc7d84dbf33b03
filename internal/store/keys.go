package store

import (
	"encoding/hex"

	"github.com/leaderboard-ledger/internal/domain"
	"golang.org/x/crypto/blake2b"
)

const (
	namespace        = "ledger:"
	leaderboardLabel = "leaderboard"
	playerLabel      = "player"

	// MetaPrefix is reserved for store-level metadata.
	MetaPrefix = namespace + "meta:"
)

// LeaderboardKey returns the fixed key of the singleton record.
func LeaderboardKey() string {
	return namespace + leaderboardLabel
}

// PlayerKey derives the key of the record owned by id. The identity is hashed
// together with the label so that arbitrary identity strings map onto
// fixed-size keys that cannot collide with the leaderboard or meta keys.
func PlayerKey(id domain.Identity) string {
	buf := make([]byte, 0, len(playerLabel)+1+len(id))
	buf = append(buf, playerLabel...)
	buf = append(buf, 0)
	buf = append(buf, id...)
	sum := blake2b.Sum256(buf)
	return namespace + playerLabel + ":" + hex.EncodeToString(sum[:])
}

// SchemaKey is the metadata key holding the schema version.
func SchemaKey() string {
	return MetaPrefix + "schema"
}

// SchemaVersion is written by stores that track their layout.
const SchemaVersion = "1"
