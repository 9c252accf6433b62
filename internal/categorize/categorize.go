// Package categorize assigns a category and confidence to a persisted
// record. It is a collaborator of the ingestion endpoint: categorization runs
// after insertion, and aggregation never recomputes it.
package categorize

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

const (
	// DefaultCategory is used when no keyword rule matches.
	DefaultCategory   = "Other"
	DefaultConfidence = 0.5

	maxCategories = 3
)

// Result of categorizing one query.
type Result struct {
	// Category is the comma-separated list of matched categories,
	// best first.
	Category   string
	Categories []string
	Confidence float64
}

var keywordTable = map[string][]string{
	"Work": {
		"meeting", "schedule", "calendar", "email", "slack", "teams",
		"project", "deadline", "report", "presentation", "spreadsheet",
		"invoice", "client", "contract", "office", "zoom", "linkedin",
		"resume", "job", "interview", "salary", "career", "hiring",
		"remote work", "business", "corporate",
	},
	"Coding": {
		"python", "javascript", "typescript", "react", "vue", "angular",
		"node", "npm", "github", "gitlab", "stackoverflow", "api",
		"docker", "kubernetes", "aws", "debug", "error", "exception",
		"bug", "code", "function", "library", "framework", "database",
		"sql", "postgres", "mysql", "redis", "git", "merge", "branch",
		"pull request", "programming", "developer", "software",
		"algorithm", "data structure", "frontend", "backend", "devops",
		"cli", "terminal", "json", "html", "css", "rust", "golang",
		"java", "swift", "kotlin", "ruby",
	},
	"AI": {
		"ai", "artificial intelligence", "machine learning", "ml",
		"chatgpt", "openai", "claude", "anthropic", "gpt", "llm",
		"deep learning", "neural network", "nlp", "computer vision",
		"stable diffusion", "generative", "prompt", "transformer",
		"huggingface", "pytorch", "tensorflow", "copilot", "gemini",
	},
	"Research": {
		"research", "study", "paper", "journal", "academic", "scholar",
		"university", "thesis", "citation", "wikipedia", "definition",
		"meaning", "explain", "how to", "what is", "tutorial", "guide",
		"learn", "course", "lecture", "science", "experiment", "theory",
	},
	"Shopping": {
		"buy", "purchase", "price", "cheap", "deal", "discount",
		"amazon", "ebay", "walmart", "shop", "store", "order",
		"shipping", "delivery", "cart", "review", "compare", "coupon",
		"sale", "black friday", "product", "warranty", "refund",
	},
	"Social": {
		"facebook", "twitter", "instagram", "tiktok", "reddit",
		"discord", "whatsapp", "telegram", "friend", "follow", "share",
		"post", "profile", "social media", "viral", "meme", "dating",
	},
	"News": {
		"news", "breaking", "headline", "article", "cnn", "bbc",
		"reuters", "politics", "election", "president", "congress",
		"economy", "inflation", "weather", "forecast", "storm",
		"latest", "today", "current events",
	},
	"Entertainment": {
		"movie", "film", "netflix", "hulu", "disney", "hbo", "tv show",
		"series", "episode", "streaming", "music", "spotify", "youtube",
		"song", "album", "concert", "game", "gaming", "playstation",
		"xbox", "nintendo", "steam", "anime", "manga", "marvel",
		"celebrity", "podcast", "twitch", "esports",
	},
	"Finance": {
		"bank", "banking", "credit card", "loan", "mortgage", "interest",
		"invest", "stock", "crypto", "bitcoin", "ethereum", "budget",
		"savings", "retirement", "401k", "tax", "irs", "paypal",
		"payment", "trading", "etf", "dividend", "portfolio",
	},
	"Health": {
		"health", "medical", "doctor", "hospital", "symptom", "disease",
		"treatment", "medicine", "pharmacy", "prescription", "vaccine",
		"fitness", "workout", "exercise", "gym", "yoga", "diet",
		"nutrition", "vitamin", "calories", "anxiety", "therapy",
		"sleep", "meditation", "stress",
	},
	"Travel": {
		"travel", "flight", "airline", "airport", "booking", "hotel",
		"airbnb", "vacation", "trip", "destination", "passport", "visa",
		"car rental", "uber", "restaurant", "cuisine", "reservation",
		"beach", "cruise", "tour", "sightseeing",
	},
	"Sports": {
		"sports", "football", "basketball", "baseball", "soccer", "nfl",
		"nba", "mlb", "nhl", "espn", "score", "match", "team", "player",
		"championship", "playoff", "tournament", "league", "marathon",
		"tennis", "golf",
	},
}

// Category priority when names tie on score; keeps output deterministic.
var categoryOrder []string

var keywordPatterns map[string][]*regexp.Regexp

func init() {
	keywordPatterns = make(map[string][]*regexp.Regexp, len(keywordTable))
	for cat, keywords := range keywordTable {
		categoryOrder = append(categoryOrder, cat)
		patterns := make([]*regexp.Regexp, 0, len(keywords))
		for _, kw := range keywords {
			patterns = append(patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(strings.ToLower(kw))+`\b`))
		}
		keywordPatterns[cat] = patterns
	}
	sort.Strings(categoryOrder)
}

// Categories returns all known category names including the default.
func Categories() []string {
	out := make([]string, 0, len(categoryOrder)+1)
	out = append(out, categoryOrder...)
	return append(out, DefaultCategory)
}

// Categorize scores the query (and URL, for extra context) against the
// keyword table. It returns the top matched categories, best first, with a
// confidence driven by how dominant the best category is.
func Categorize(query, url string) Result {
	text := strings.ToLower(strings.TrimSpace(query))
	if text == "" {
		return Result{Category: DefaultCategory, Categories: []string{DefaultCategory}, Confidence: DefaultConfidence}
	}
	if url != "" {
		text += " " + strings.ToLower(url)
	}

	scores := make(map[string]int)
	for _, cat := range categoryOrder {
		for _, pat := range keywordPatterns[cat] {
			if n := len(pat.FindAllStringIndex(text, -1)); n > 0 {
				scores[cat] += n
			}
		}
	}

	if len(scores) == 0 {
		return Result{Category: DefaultCategory, Categories: []string{DefaultCategory}, Confidence: DefaultConfidence}
	}

	ranked := make([]string, 0, len(scores))
	for cat := range scores {
		ranked = append(ranked, cat)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > maxCategories {
		ranked = ranked[:maxCategories]
	}

	total := 0
	for _, n := range scores {
		total += n
	}
	best := scores[ranked[0]]
	confidence := 0.5 + float64(best)/float64(total)*0.45
	if confidence > 0.95 {
		confidence = 0.95
	}
	confidence = math.Round(confidence*100) / 100

	return Result{
		Category:   strings.Join(ranked, ", "),
		Categories: ranked,
		Confidence: confidence,
	}
}
