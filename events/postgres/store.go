package postgres

import (
	"context"
	"fmt"

	"github.com/defistate/defistate-clmm-go/events"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS clmm_events (
	sequence   BIGINT PRIMARY KEY,
	type       TEXT        NOT NULL,
	pool_id    BIGINT      NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	payload    JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS clmm_events_pool_idx ON clmm_events (pool_id, sequence);
`

// Store persists exchange events in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the events table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Write inserts a batch of events. Sequences already stored are skipped, so a batch
// retried after a partial failure is not duplicated.
func (s *Store) Write(ctx context.Context, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, e := range batch {
		b.Queue(`
			INSERT INTO clmm_events (sequence, type, pool_id, ts, payload)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (sequence) DO NOTHING
		`,
			int64(e.Sequence),
			string(e.Type),
			int64(e.PoolID),
			e.Timestamp,
			[]byte(e.Payload),
		)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	for range batch {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Since returns up to limit events for a pool with a sequence above after, in order.
func (s *Store) Since(ctx context.Context, poolID, after uint64, limit int) ([]events.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sequence, type, pool_id, ts, payload
		FROM clmm_events
		WHERE pool_id = $1 AND sequence > $2
		ORDER BY sequence
		LIMIT $3
	`, int64(poolID), int64(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			e        events.Event
			seq, pid int64
			typ      string
			payload  []byte
		)
		if err := rows.Scan(&seq, &typ, &pid, &e.Timestamp, &payload); err != nil {
			return nil, err
		}
		e.Sequence = uint64(seq)
		e.Type = events.Type(typ)
		e.PoolID = uint64(pid)
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}
