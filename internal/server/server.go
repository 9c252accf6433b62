// Package server implements the ingestion backend: batch persistence with
// shared-credential auth, the summary/records query API, and a CSV export.
package server

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/FranksOps/searchsift/internal/capture"
	"github.com/FranksOps/searchsift/internal/categorize"
	"github.com/FranksOps/searchsift/internal/metrics"
	"github.com/FranksOps/searchsift/internal/storage"
)

// Version reported by the health endpoint.
const Version = "1.2.0"

// Config for the HTTP server.
type Config struct {
	// Credential returns the current shared API key. Empty means every
	// authenticated request is rejected.
	Credential func() string

	// AllowedOrigins holds origin patterns for CORS. A trailing "*"
	// matches any suffix, e.g. "chrome-extension://*".
	AllowedOrigins []string

	Logger *slog.Logger
}

// Server handles ingestion and query traffic against one storage backend.
type Server struct {
	backend    storage.Backend
	credential func() string
	origins    []string
	logger     *slog.Logger
	dbName     string
	router     chi.Router
}

// New builds the server and its route table.
func New(backend storage.Backend, dbName string, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cred := cfg.Credential
	if cred == nil {
		cred = func() string { return "" }
	}

	s := &Server{
		backend:    backend,
		credential: cred,
		origins:    cfg.AllowedOrigins,
		logger:     logger,
		dbName:     dbName,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Post("/ingest", s.handleIngest)
		r.Get("/api/summary", s.handleSummary)
		r.Get("/api/records", s.handleRecords)
		r.Get("/report/csv", s.handleCSV)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// originAllowed matches an Origin header against the configured patterns.
func (s *Server) originAllowed(origin string) bool {
	for _, pat := range s.origins {
		if pat == "*" {
			return true
		}
		if strings.HasSuffix(pat, "*") {
			if strings.HasPrefix(origin, strings.TrimSuffix(pat, "*")) {
				return true
			}
			continue
		}
		if origin == pat {
			return true
		}
	}
	return false
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// auth enforces the shared X-API-Key credential.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		want := s.credential()
		if want == "" || key != want {
			writeError(w, http.StatusForbidden, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type ingestRequest struct {
	Events []capture.Event `json:"events"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.IngestRequests.WithLabelValues("400").Inc()
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if len(req.Events) == 0 {
		metrics.IngestRequests.WithLabelValues("400").Inc()
		writeError(w, http.StatusBadRequest, "no events")
		return
	}

	// Validate wholesale before touching storage: a bad event rejects the
	// whole batch with nothing persisted.
	for i := range req.Events {
		if err := req.Events[i].Validate(); err != nil {
			metrics.IngestRequests.WithLabelValues("400").Inc()
			writeError(w, http.StatusBadRequest, fmt.Sprintf("event %d: %v", i, err))
			return
		}
	}

	now := time.Now().UTC()
	records := make([]*storage.Record, 0, len(req.Events))
	for i := range req.Events {
		ev := &req.Events[i]
		records = append(records, &storage.Record{
			ID:           uuid.NewString(),
			EventType:    string(ev.Type),
			Query:        ev.Query,
			URL:          ev.URL,
			Engine:       ev.Engine,
			TimestampUTC: ev.Timestamp.UTC(),
			TabID:        ev.TabID,
			WindowID:     ev.WindowID,
			CreatedAt:    now,
		})
	}

	if err := s.backend.InsertBatch(r.Context(), records); err != nil {
		s.logger.Error("insert batch failed", "count", len(records), "error", err)
		metrics.IngestRequests.WithLabelValues("500").Inc()
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	metrics.RecordsInserted.Add(float64(len(records)))

	// Categorization runs after the batch is durable. A failure here leaves
	// the record uncategorized rather than failing the request.
	for _, rec := range records {
		res := categorize.Categorize(rec.Query, rec.URL)
		if err := s.backend.SetCategory(r.Context(), rec.ID, res.Category, res.Confidence); err != nil {
			s.logger.Warn("categorize update failed", "id", rec.ID, "error", err)
		}
	}

	metrics.IngestRequests.WithLabelValues("200").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"inserted": len(records),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   Version,
		"database":  s.dbName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// parseTime accepts RFC3339 or a bare YYYY-MM-DD day.
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q", v)
	}
	return t.UTC(), nil
}

// parseRange reads start/end query params. The default window is the last 24
// hours; the end bound stays exclusive.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	start := now.Add(-24 * time.Hour)
	end := now

	if v := r.URL.Query().Get("start"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return start, end, err
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return start, end, err
		}
		end = t
	}
	return start, end, nil
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sum, err := s.backend.Summarize(r.Context(), start, end, 10)
	if err != nil {
		s.logger.Error("summarize failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	topQueries := make([]map[string]any, 0, len(sum.TopQueries))
	for _, qc := range sum.TopQueries {
		topQueries = append(topQueries, map[string]any{"query": qc.Query, "count": qc.Count})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"start":          start.Format(time.RFC3339),
		"end":            end.Format(time.RFC3339),
		"total_searches": sum.TotalSearches,
		"total_clicks":   sum.TotalClicks,
		"by_category":    sum.ByCategory,
		"by_engine":      sum.ByEngine,
		"top_queries":    topQueries,
	})
}

type recordResponse struct {
	ID         string  `json:"id"`
	EventType  string  `json:"event_type"`
	Query      string  `json:"query"`
	URL        string  `json:"url"`
	Engine     string  `json:"engine"`
	Timestamp  string  `json:"timestamp"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	TabID      int     `json:"tab_id"`
	WindowID   int     `json:"window_id"`
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	filter := storage.Filter{
		Start:     &start,
		End:       &end,
		Category:  q.Get("category"),
		Engine:    q.Get("engine"),
		EventType: q.Get("type"),
		Limit:     100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad offset")
			return
		}
		filter.Offset = n
	}

	recs, err := s.backend.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("record query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	out := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordResponse{
			ID:         rec.ID,
			EventType:  rec.EventType,
			Query:      rec.Query,
			URL:        rec.URL,
			Engine:     rec.Engine,
			Timestamp:  rec.TimestampUTC.Format(time.RFC3339),
			Category:   rec.Category,
			Confidence: rec.Confidence,
			TabID:      rec.TabID,
			WindowID:   rec.WindowID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(out),
		"records": out,
	})
}

func (s *Server) handleCSV(w http.ResponseWriter, r *http.Request) {
	// The export takes ?date=YYYY-MM-DD covering that whole day; an explicit
	// ?end= narrows or widens the exclusive upper bound. Without date the
	// window falls back to the shared start/end defaults.
	var (
		start, end time.Time
		err        error
	)
	if v := r.URL.Query().Get("date"); v != "" {
		day, dayErr := time.Parse("2006-01-02", v)
		if dayErr != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("bad date %q", v))
			return
		}
		start = day.UTC()
		end = start.Add(24 * time.Hour)
		if ev := r.URL.Query().Get("end"); ev != "" {
			end, err = parseTime(ev)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
	} else {
		start, end, err = parseRange(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	recs, err := s.backend.Query(r.Context(), storage.Filter{Start: &start, End: &end})
	if err != nil {
		s.logger.Error("csv export query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	name := fmt.Sprintf("search_records_%s.csv", start.Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "event_type", "query", "url", "engine", "timestamp", "category", "confidence"})
	for _, rec := range recs {
		_ = cw.Write([]string{
			rec.ID,
			rec.EventType,
			rec.Query,
			rec.URL,
			rec.Engine,
			rec.TimestampUTC.Format(time.RFC3339),
			rec.Category,
			strconv.FormatFloat(rec.Confidence, 'f', 2, 64),
		})
	}
	cw.Flush()
}
