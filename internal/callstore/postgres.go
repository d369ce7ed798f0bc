package callstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists finished calls in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS roleplay_calls (
			id TEXT PRIMARY KEY,
			room_name TEXT NOT NULL,
			session_id TEXT NOT NULL,
			roleplay_id TEXT NOT NULL DEFAULT '',
			customer_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			turns JSONB NOT NULL,
			evaluation JSONB,
			egress_id TEXT NOT NULL DEFAULT '',
			s3_url TEXT NOT NULL DEFAULT '',
			end_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_roleplay_calls_customer_created ON roleplay_calls (customer_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveCall(ctx context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	turns, err := json.Marshal(record.Turns)
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}
	var evaluation []byte
	if len(record.Evaluation) > 0 {
		evaluation = record.Evaluation
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO roleplay_calls (id, room_name, session_id, roleplay_id, customer_id, user_id, turns, evaluation, egress_id, s3_url, end_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.ID,
		record.RoomName,
		record.SessionID,
		record.RoleplayID,
		record.CustomerID,
		record.UserID,
		turns,
		evaluation,
		record.EgressID,
		record.S3URL,
		record.EndReason,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save call: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentCalls(ctx context.Context, customerID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, room_name, session_id, roleplay_id, customer_id, user_id, turns, evaluation, egress_id, s3_url, end_reason, created_at
		 FROM roleplay_calls
		 WHERE ($1 = '' OR customer_id = $1)
		 ORDER BY created_at DESC LIMIT $2`,
		customerID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r          Record
			turns      []byte
			evaluation []byte
		)
		if err := rows.Scan(&r.ID, &r.RoomName, &r.SessionID, &r.RoleplayID, &r.CustomerID, &r.UserID, &turns, &evaluation, &r.EgressID, &r.S3URL, &r.EndReason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		if err := json.Unmarshal(turns, &r.Turns); err != nil {
			return nil, fmt.Errorf("unmarshal turns: %w", err)
		}
		if len(evaluation) > 0 {
			r.Evaluation = json.RawMessage(evaluation)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
