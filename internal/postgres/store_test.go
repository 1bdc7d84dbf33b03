package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/leaderboard-ledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"racing insert", fmt.Errorf("upserting player: %w", &pgconn.PgError{Code: "23505"}), true},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestNumericRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 1 << 63, ^uint64(0)} {
		got, err := parseNumeric(formatNumeric(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	_, err := parseNumeric("18446744073709551616")
	assert.Error(t, err)
}

func TestTopPlayerText(t *testing.T) {
	assert.False(t, topPlayerText(nil).Valid)

	id := domain.Identity("alice")
	txt := topPlayerText(&id)
	assert.True(t, txt.Valid)
	assert.Equal(t, "alice", txt.String)
}

func TestLockClause(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", (&tx{forUpdate: true}).lockClause())
	assert.Empty(t, (&tx{}).lockClause())
}
