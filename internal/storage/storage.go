package storage

import (
	"context"
	"time"
)

// Record is one persisted search or click event. Rows are append-only;
// Category and Confidence are filled in by the categorization step after
// insertion and never recomputed by aggregation.
type Record struct {
	ID           string
	EventType    string
	Query        string
	URL          string
	Engine       string
	TimestampUTC time.Time
	Category     string
	Confidence   float64
	TabID        int
	WindowID     int
	CreatedAt    time.Time
}

// Filter selects records for Query.
type Filter struct {
	Start     *time.Time // inclusive
	End       *time.Time // exclusive
	Category  string
	Engine    string
	EventType string
	Limit     int
	Offset    int
}

// QueryCount is one entry of a top-queries ranking.
type QueryCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// Summary aggregates records over a half-open [start, end) range.
type Summary struct {
	TotalSearches int            `json:"total_searches"`
	TotalClicks   int            `json:"total_clicks"`
	ByCategory    map[string]int `json:"by_category"`
	ByEngine      map[string]int `json:"by_engine"`
	TopQueries    []QueryCount   `json:"top_queries"`
}

// Backend is the durable record store plus its summary queries.
type Backend interface {
	// InsertBatch persists every record as one atomic unit: all rows survive
	// or none do, in the batch's original order.
	InsertBatch(ctx context.Context, records []*Record) error

	// SetCategory assigns the category and confidence of one record. Called
	// by the categorization collaborator after insertion.
	SetCategory(ctx context.Context, id, category string, confidence float64) error

	// Query returns records matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]*Record, error)

	// Summarize aggregates over [start, end). topN caps the top-queries list.
	Summarize(ctx context.Context, start, end time.Time, topN int) (*Summary, error)

	Close() error
}
