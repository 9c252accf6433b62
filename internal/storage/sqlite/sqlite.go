package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FranksOps/searchsift/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS search_records (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	query TEXT NOT NULL,
	url TEXT,
	engine TEXT NOT NULL,
	timestamp_utc DATETIME NOT NULL,
	category TEXT,
	confidence REAL,
	tab_id INTEGER,
	window_id INTEGER,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_timestamp_category ON search_records (timestamp_utc, category);
CREATE INDEX IF NOT EXISTS idx_query_url_timestamp ON search_records (query, url, timestamp_utc);
`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) InsertBatch(ctx context.Context, records []*storage.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO search_records (
		id, event_type, query, url, engine, timestamp_utc, category, confidence, tab_id, window_id, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.ID,
			r.EventType,
			r.Query,
			r.URL,
			r.Engine,
			r.TimestampUTC,
			r.Category,
			r.Confidence,
			r.TabID,
			r.WindowID,
			r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (b *sqliteBackend) SetCategory(ctx context.Context, id, category string, confidence float64) error {
	_, err := b.db.ExecContext(ctx,
		`UPDATE search_records SET category = ?, confidence = ? WHERE id = ?`,
		category, confidence, id,
	)
	if err != nil {
		return fmt.Errorf("set category: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	query := `SELECT id, event_type, query, url, engine, timestamp_utc, category, confidence, tab_id, window_id, created_at FROM search_records WHERE 1=1`
	args := []any{}

	if filter.Start != nil {
		query += ` AND timestamp_utc >= ?`
		args = append(args, *filter.Start)
	}
	if filter.End != nil {
		query += ` AND timestamp_utc < ?`
		args = append(args, *filter.End)
	}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	if filter.Engine != "" {
		query += ` AND engine = ?`
		args = append(args, filter.Engine)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, filter.EventType)
	}

	query += ` ORDER BY timestamp_utc DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
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

func (b *sqliteBackend) Summarize(ctx context.Context, start, end time.Time, topN int) (*storage.Summary, error) {
	s := &storage.Summary{
		ByCategory: make(map[string]int),
		ByEngine:   make(map[string]int),
	}
	if topN <= 0 {
		topN = 10
	}

	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_records WHERE event_type = 'search' AND timestamp_utc >= ? AND timestamp_utc < ?`,
		start, end,
	).Scan(&s.TotalSearches)
	if err != nil {
		return nil, fmt.Errorf("count searches: %w", err)
	}

	err = b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_records WHERE event_type = 'click' AND timestamp_utc >= ? AND timestamp_utc < ?`,
		start, end,
	).Scan(&s.TotalClicks)
	if err != nil {
		return nil, fmt.Errorf("count clicks: %w", err)
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT COALESCE(category, ''), COUNT(*) FROM search_records WHERE timestamp_utc >= ? AND timestamp_utc < ? GROUP BY category`,
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

	rows, err = b.db.QueryContext(ctx,
		`SELECT engine, COUNT(*) FROM search_records WHERE timestamp_utc >= ? AND timestamp_utc < ? GROUP BY engine`,
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

	rows, err = b.db.QueryContext(ctx,
		`SELECT query, COUNT(*) AS n FROM search_records
		 WHERE event_type = 'search' AND timestamp_utc >= ? AND timestamp_utc < ?
		 GROUP BY query ORDER BY n DESC, query ASC LIMIT ?`,
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

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
