package engine

import (
	"net/url"
	"strings"
)

// Profile describes how to recognize one search engine: which hostnames it
// serves, where the query lives in its URLs, and which DOM selectors identify
// its search inputs and organic result links. Profiles are immutable and
// loaded once at startup.
type Profile struct {
	Name string

	// HostPatterns match the page hostname. A pattern starting with "."
	// matches the suffix (".google.com" matches "www.google.com"); anything
	// else must match exactly.
	HostPatterns []string

	// QueryParams are tried in order when extracting the query from a URL.
	QueryParams []string

	// InputSelectors locate search input fields, probed in order when the URL
	// carries no query.
	InputSelectors []string

	// ResultSelectors match organic result links for click capture.
	ResultSelectors []string

	// ExcludePatterns are URL substrings that disqualify a link from click
	// capture (ads, internal redirects, related-search widgets).
	ExcludePatterns []string

	// ResultsPathSegments are path substrings that mark a results page.
	ResultsPathSegments []string
}

// MatchesHost reports whether hostname belongs to this engine.
func (p *Profile) MatchesHost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	for _, pat := range p.HostPatterns {
		if strings.HasPrefix(pat, ".") {
			if strings.HasSuffix(hostname, pat) || hostname == pat[1:] {
				return true
			}
		} else if hostname == pat {
			return true
		}
	}
	return false
}

// Excluded reports whether the link URL matches any exclude pattern.
func (p *Profile) Excluded(link string) bool {
	for _, pat := range p.ExcludePatterns {
		if strings.Contains(link, pat) {
			return true
		}
	}
	return false
}

// Profiles returns the built-in engine profiles in fixed priority order.
// Match tries them in this order and the first host match wins.
func Profiles() []*Profile {
	return builtins
}

var builtins = []*Profile{
	{
		Name:                "google",
		HostPatterns:        []string{".google.com", ".google.co.uk", ".google.de", ".google.fr", ".google.ca"},
		QueryParams:         []string{"q"},
		InputSelectors:      []string{"input[name=q]", "textarea[name=q]"},
		ResultSelectors:     []string{"div#search a[href]", "div#rso a[href]"},
		ExcludePatterns:     []string{"/aclk", "googleadservices.com", "/imgres", "webcache.googleusercontent.com"},
		ResultsPathSegments: []string{"/search"},
	},
	{
		Name:                "bing",
		HostPatterns:        []string{".bing.com"},
		QueryParams:         []string{"q"},
		InputSelectors:      []string{"input[name=q]", "textarea[name=q]"},
		ResultSelectors:     []string{"li.b_algo a[href]", "ol#b_results a[href]"},
		ExcludePatterns:     []string{"go.microsoft.com", "/aclick"},
		ResultsPathSegments: []string{"/search"},
	},
	{
		Name:                "duckduckgo",
		HostPatterns:        []string{"duckduckgo.com", ".duckduckgo.com"},
		QueryParams:         []string{"q"},
		InputSelectors:      []string{"input[name=q]", "input#search_form_input"},
		ResultSelectors:     []string{"article[data-testid=result] a[href]", "a[data-testid=result-title-a]"},
		ExcludePatterns:     []string{"duckduckgo.com/y.js", "ad_domain="},
		ResultsPathSegments: []string{"/html"},
	},
	{
		Name:                "yahoo",
		HostPatterns:        []string{"search.yahoo.com", ".search.yahoo.com"},
		QueryParams:         []string{"p", "q"},
		InputSelectors:      []string{"input[name=p]"},
		ResultSelectors:     []string{"div#web a[href]", "ol.searchCenterMiddle a[href]"},
		ExcludePatterns:     []string{"r.search.yahoo.com/cbclk"},
		ResultsPathSegments: []string{"/search"},
	},
	{
		Name:                "brave",
		HostPatterns:        []string{"search.brave.com"},
		QueryParams:         []string{"q"},
		InputSelectors:      []string{"input#searchbox", "input[name=q]"},
		ResultSelectors:     []string{"div#results a[href]"},
		ExcludePatterns:     []string{"/a/redirect"},
		ResultsPathSegments: []string{"/search"},
	},
	{
		Name:                "startpage",
		HostPatterns:        []string{"www.startpage.com", "startpage.com"},
		QueryParams:         []string{"query", "q"},
		InputSelectors:      []string{"input#q", "input[name=query]"},
		ResultSelectors:     []string{"section#main a.result-title", "div.result a[href]"},
		ExcludePatterns:     []string{"/do/clickthrough"},
		ResultsPathSegments: []string{"/sp/search", "/do/search"},
	},
}

// Match returns the first profile whose host patterns match hostname, or nil
// when the page belongs to no known engine and is ignored by the pipeline.
func Match(hostname string) *Profile {
	for _, p := range builtins {
		if p.MatchesHost(hostname) {
			return p
		}
	}
	return nil
}

// MatchURL is Match applied to a full page URL.
func MatchURL(pageURL string) *Profile {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	return Match(u.Hostname())
}
