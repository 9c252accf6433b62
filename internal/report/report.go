// Package report aggregates persisted search activity into a daily summary
// and renders it as JSON, text, HTML, or CSV.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"text/template"
	"time"

	"github.com/FranksOps/searchsift/internal/storage"
)

// QueryCount pairs a query or domain with its occurrence count.
type QueryCount struct {
	Name  string
	Count int
}

// Daily contains aggregated metrics for one day of search activity.
type Daily struct {
	Date           string
	TotalSearches  int
	TotalClicks    int
	UniqueQueries  int
	UniqueDomains  int
	ByCategory     map[string]int
	ByEngine       map[string]int
	TopQueries     []QueryCount
	TopDomains     []QueryCount
	HourlyActivity [24]int
}

const topLimit = 10

// GenerateDaily aggregates a day's records into a Daily summary. Records are
// expected to already fall within the day; the date string is informational.
func GenerateDaily(date string, records []*storage.Record) Daily {
	d := Daily{
		Date:       date,
		ByCategory: make(map[string]int),
		ByEngine:   make(map[string]int),
	}

	queries := make(map[string]int)
	domains := make(map[string]int)

	for _, r := range records {
		switch r.EventType {
		case "search":
			d.TotalSearches++
			queries[r.Query]++
		case "click":
			d.TotalClicks++
			if host := domainOf(r.URL); host != "" {
				domains[host]++
			}
		}

		cat := r.Category
		if cat == "" {
			cat = "Uncategorized"
		}
		d.ByCategory[cat]++
		d.ByEngine[r.Engine]++
		d.HourlyActivity[r.TimestampUTC.UTC().Hour()]++
	}

	d.UniqueQueries = len(queries)
	d.UniqueDomains = len(domains)
	d.TopQueries = topN(queries, topLimit)
	d.TopDomains = topN(domains, topLimit)
	return d
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func topN(counts map[string]int, n int) []QueryCount {
	out := make([]QueryCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, QueryCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, daily Daily) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(daily); err != nil {
		return fmt.Errorf("encode daily report: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, daily Daily) error {
	const textTmpl = `SearchSift Daily Report — {{.Date}}
-----------------------------------
Searches:        {{.TotalSearches}}
Clicks:          {{.TotalClicks}}
Unique Queries:  {{.UniqueQueries}}
Unique Domains:  {{.UniqueDomains}}

By Category:
{{- range $cat, $count := .ByCategory}}
  {{$cat}}: {{$count}}
{{- else}}
  None
{{- end}}

By Engine:
{{- range $eng, $count := .ByEngine}}
  {{$eng}}: {{$count}}
{{- else}}
  None
{{- end}}

Top Queries:
{{- range .TopQueries}}
  {{.Count}}x {{.Name}}
{{- else}}
  None
{{- end}}

Top Click Domains:
{{- range .TopDomains}}
  {{.Count}}x {{.Name}}
{{- else}}
  None
{{- end}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("parse text template: %w", err)
	}
	if err := t.Execute(w, daily); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}
	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, daily Daily) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>SearchSift Daily Report — {{.Date}}</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>SearchSift Daily Report — {{.Date}}</h1>

  <div class="stat-card">
    <div>Searches</div>
    <div class="stat-val">{{.TotalSearches}}</div>
  </div>
  <div class="stat-card">
    <div>Clicks</div>
    <div class="stat-val">{{.TotalClicks}}</div>
  </div>
  <div class="stat-card">
    <div>Unique Queries</div>
    <div class="stat-val">{{.UniqueQueries}}</div>
  </div>
  <div class="stat-card">
    <div>Unique Domains</div>
    <div class="stat-val">{{.UniqueDomains}}</div>
  </div>

  <h3>By Category</h3>
  <table>
    <tr><th>Category</th><th>Count</th></tr>
    {{- range $cat, $count := .ByCategory}}
    <tr><td>{{$cat}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>By Engine</h3>
  <table>
    <tr><th>Engine</th><th>Count</th></tr>
    {{- range $eng, $count := .ByEngine}}
    <tr><td>{{$eng}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Top Queries</h3>
  <table>
    <tr><th>Query</th><th>Count</th></tr>
    {{- range .TopQueries}}
    <tr><td>{{.Name}}</td><td>{{.Count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Top Click Domains</h3>
  <table>
    <tr><th>Domain</th><th>Count</th></tr>
    {{- range .TopDomains}}
    <tr><td>{{.Name}}</td><td>{{.Count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("parse html template: %w", err)
	}
	if err := t.Execute(w, daily); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}

// WriteCSV writes the raw records backing a report as CSV rows.
func WriteCSV(w io.Writer, records []*storage.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "event_type", "query", "url", "engine", "timestamp", "category", "confidence"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.ID,
			r.EventType,
			r.Query,
			r.URL,
			r.Engine,
			r.TimestampUTC.Format(time.RFC3339),
			r.Category,
			strconv.FormatFloat(r.Confidence, 'f', 2, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
