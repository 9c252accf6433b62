package engine

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractQueryFromURL tries the profile's declared query parameters in order
// against the raw URL and returns the first non-empty value.
func ExtractQueryFromURL(p *Profile, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	values := u.Query()
	for _, param := range p.QueryParams {
		if v := strings.TrimSpace(values.Get(param)); v != "" {
			return v
		}
	}
	return ""
}

// ExtractQueryFromDoc probes the profile's input selectors against a parsed
// page and returns the first non-empty field value. Inputs carry their value
// in the "value" attribute; textareas carry it as text content.
func ExtractQueryFromDoc(p *Profile, doc *goquery.Document) string {
	if doc == nil {
		return ""
	}
	for _, sel := range p.InputSelectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v, ok := s.Attr("value")
			if !ok || strings.TrimSpace(v) == "" {
				v = s.Text()
			}
			if strings.TrimSpace(v) != "" {
				found = strings.TrimSpace(v)
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// ExtractQuery returns the query for a page, preferring the URL parameters
// and falling back to the declared search inputs. Empty means no query was
// extractable and the signal should be ignored.
func ExtractQuery(p *Profile, rawURL string, doc *goquery.Document) string {
	if q := ExtractQueryFromURL(p, rawURL); q != "" {
		return q
	}
	return ExtractQueryFromDoc(p, doc)
}

// IsResultsPage applies a lenient heuristic: the path contains a known
// results segment, or the root path carries any query string, or the query
// string contains one of the declared query keys. False positives only cost
// an extra capture attempt; false negatives only suppress capture for that
// load.
func IsResultsPage(p *Profile, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, seg := range p.ResultsPathSegments {
		if strings.Contains(u.Path, seg) {
			return true
		}
	}
	if (u.Path == "" || u.Path == "/") && u.RawQuery != "" {
		return true
	}
	for _, param := range p.QueryParams {
		if strings.Contains(u.RawQuery, param+"=") {
			return true
		}
	}
	return false
}
