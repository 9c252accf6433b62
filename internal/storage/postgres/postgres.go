package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FranksOps/searchsift/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS search_records (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	query TEXT NOT NULL,
	url TEXT,
	engine TEXT NOT NULL,
	timestamp_utc TIMESTAMPTZ NOT NULL,
	category TEXT,
	confidence DOUBLE PRECISION,
	tab_id INTEGER,
	window_id INTEGER,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_timestamp_category ON search_records (timestamp_utc, category);
CREATE INDEX IF NOT EXISTS idx_query_url_timestamp ON search_records (query, url, timestamp_utc);
`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) InsertBatch(ctx context.Context, records []*storage.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
		INSERT INTO search_records (
			id, event_type, query, url, engine, timestamp_utc, category, confidence, tab_id, window_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			r.ID, r.EventType, r.Query, r.URL, r.Engine, r.TimestampUTC,
			r.Category, r.Confidence, r.TabID, r.WindowID, r.CreatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (b *postgresBackend) SetCategory(ctx context.Context, id, category string, confidence float64) error {
	_, err := b.pool.Exec(ctx,
		`UPDATE search_records SET category = $1, confidence = $2 WHERE id = $3`,
		category, confidence, id,
	)
	if err != nil {
		return fmt.Errorf("set category: %w", err)
	}
	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	query := `SELECT id, event_type, query, url, engine, timestamp_utc, category, confidence, tab_id, window_id, created_at FROM search_records WHERE 1=1`
	args := []any{}
	param := 1

	if filter.Start != nil {
		query += fmt.Sprintf(` AND timestamp_utc >= $%d`, param)
		args = append(args, *filter.Start)
		param++
	}
	if filter.End != nil {
		query += fmt.Sprintf(` AND timestamp_utc < $%d`, param)
		args = append(args, *filter.End)
		param++
	}
	if filter.Category != "" {
		query += fmt.Sprintf(` AND category = $%d`, param)
		args = append(args, filter.Category)
		param++
	}
	if filter.Engine != "" {
		query += fmt.Sprintf(` AND engine = $%d`, param)
		args = append(args, filter.Engine)
		param++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(` AND event_type = $%d`, param)
		args = append(args, filter.EventType)
		param++
	}

	query += ` ORDER BY timestamp_utc DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, param)
		args = append(args, filter.Limit)
		param++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, param)
		args = append(args, filter.Offset)
		param++
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var results []*storage.Record
	for rows.Next() {
		var r storage.Record
		var category sql.NullString
		var confidence sql.NullFloat64

		err := rows.Scan(
			&r.ID, &r.EventType, &r.Query, &r.URL, &r.Engine, &r.TimestampUTC,
			&category, &confidence, &r.TabID, &r.WindowID, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Category = category.String
		r.Confidence = confidence.Float64

		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Summarize(ctx context.Context, start, end time.Time, topN int) (*storage.Summary, error) {
	s := &storage.Summary{
		ByCategory: make(map[string]int),
		ByEngine:   make(map[string]int),
	}
	if topN <= 0 {
		topN = 10
	}

	err := b.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM search_records WHERE event_type = 'search' AND timestamp_utc >= $1 AND timestamp_utc < $2`,
		start, end,
	).Scan(&s.TotalSearches)
	if err != nil {
		return nil, fmt.Errorf("count searches: %w", err)
	}

	err = b.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM search_records WHERE event_type = 'click' AND timestamp_utc >= $1 AND timestamp_utc < $2`,
		start, end,
	).Scan(&s.TotalClicks)
	if err != nil {
		return nil, fmt.Errorf("count clicks: %w", err)
	}

	rows, err := b.pool.Query(ctx,
		`SELECT COALESCE(category, ''), COUNT(*) FROM search_records WHERE timestamp_utc >= $1 AND timestamp_utc < $2 GROUP BY category`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("group by category: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		s.ByCategory[cat] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}

	rows, err = b.pool.Query(ctx,
		`SELECT engine, COUNT(*) FROM search_records WHERE timestamp_utc >= $1 AND timestamp_utc < $2 GROUP BY engine`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("group by engine: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var eng string
		var n int
		if err := rows.Scan(&eng, &n); err != nil {
			return nil, fmt.Errorf("scan engine count: %w", err)
		}
		s.ByEngine[eng] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate engines: %w", err)
	}

	rows, err = b.pool.Query(ctx,
		`SELECT query, COUNT(*) AS n FROM search_records
		 WHERE event_type = 'search' AND timestamp_utc >= $1 AND timestamp_utc < $2
		 GROUP BY query ORDER BY n DESC, query ASC LIMIT $3`,
		start, end, topN,
	)
	if err != nil {
		return nil, fmt.Errorf("top queries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var qc storage.QueryCount
		if err := rows.Scan(&qc.Query, &qc.Count); err != nil {
			return nil, fmt.Errorf("scan top query: %w", err)
		}
		s.TopQueries = append(s.TopQueries, qc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top queries: %w", err)
	}

	return s, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
