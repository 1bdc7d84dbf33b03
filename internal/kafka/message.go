package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/leaderboard-ledger/internal/domain"
)

// Message types carried on the score topic
const (
	MessageTypeRegister = "register"
	MessageTypeScore    = "score"
)

// ScoreMessage is the wire format of the score topic. The topic is written
// only by trusted platform services, so PlayerID is taken as the caller.
type ScoreMessage struct {
	Type     string          `json:"type,omitempty"`
	PlayerID domain.Identity `json:"player_id"`
	Score    uint64          `json:"score,omitempty"`
}

// Encode returns the JSON encoding of m
func (m ScoreMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses and validates a message value. A missing type means
// a score submission.
func DecodeMessage(value []byte) (ScoreMessage, error) {
	var m ScoreMessage
	if err := json.Unmarshal(value, &m); err != nil {
		return ScoreMessage{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if m.Type == "" {
		m.Type = MessageTypeScore
	}
	switch m.Type {
	case MessageTypeRegister, MessageTypeScore:
	default:
		return ScoreMessage{}, fmt.Errorf("%w: unknown message type %q", domain.ErrInvalidRequest, m.Type)
	}
	if !m.PlayerID.Valid() {
		return ScoreMessage{}, fmt.Errorf("%w: player_id is required", domain.ErrInvalidRequest)
	}
	return m, nil
}
