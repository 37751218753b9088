package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS room_events (
	room_id   TEXT        NOT NULL,
	sequence  BIGINT      NOT NULL,
	type      TEXT        NOT NULL,
	payload   JSONB       NOT NULL,
	ts        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (room_id, sequence)
)`

const insertEvent = `
INSERT INTO room_events (room_id, sequence, type, payload, ts)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (room_id, sequence) DO NOTHING`

// PGSink persists events to Postgres. The primary key on (room_id,
// sequence) makes appends idempotent, so a retried append never produces
// a duplicate row.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(ctx context.Context, dsn string) (*PGSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect event sink: %w", err)
	}
	if _, err := pool.Exec(ctx, createEventsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate event sink: %w", err)
	}
	return &PGSink{pool: pool}, nil
}

func (s *PGSink) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, insertEvent, e.RoomID, e.Sequence, string(e.Type), payload, e.Timestamp)
	return err
}

func (s *PGSink) Close() {
	s.pool.Close()
}
