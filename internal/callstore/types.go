package callstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lfabra/rolecall/internal/transcript"
)

// Record stores one finished roleplay call.
type Record struct {
	ID         string            `json:"id"`
	RoomName   string            `json:"room_name"`
	SessionID  string            `json:"session_id"`
	RoleplayID string            `json:"roleplay_id"`
	CustomerID string            `json:"customer_id"`
	UserID     string            `json:"user_id"`
	Turns      []transcript.Turn `json:"turns"`
	Evaluation json.RawMessage   `json:"evaluation,omitempty"`
	EgressID   string            `json:"egress_id,omitempty"`
	S3URL      string            `json:"s3_url,omitempty"`
	EndReason  string            `json:"end_reason"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Store persists and retrieves finished calls.
type Store interface {
	SaveCall(ctx context.Context, record Record) error
	RecentCalls(ctx context.Context, customerID string, limit int) ([]Record, error)
	Close() error
}
