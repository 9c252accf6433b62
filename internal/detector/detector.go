package detector

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/FranksOps/searchsift/internal/capture"
	"github.com/FranksOps/searchsift/internal/engine"
)

// SignalKind identifies which page signal fired.
type SignalKind int

const (
	// SignalLoad fires once when the page finishes loading.
	SignalLoad SignalKind = iota
	// SignalSubmit fires on a capture-phase document-level form submit,
	// before navigation can replace the page.
	SignalSubmit
	// SignalEnterKey fires on Enter inside a declared search input.
	SignalEnterKey
	// SignalClick fires on a capture-phase document-level click.
	SignalClick
	// SignalHistoryPush and SignalHistoryReplace fire after the two history
	// mutation entry points; SignalPopState fires on back/forward navigation.
	// All three carry the effective URL after the mutation settled.
	SignalHistoryPush
	SignalHistoryReplace
	SignalPopState
)

// Signal is one observed page event. URL is the effective page URL at the
// time the signal fired. Doc is the parsed page snapshot, present for signals
// that need DOM probing. ClickTarget is a selector resolving the clicked node
// and is set only for SignalClick.
type Signal struct {
	Kind        SignalKind
	URL         string
	Doc         *goquery.Document
	ClickTarget string
	// EnterValue carries the input's field value for SignalEnterKey.
	EnterValue string
}

// Emitter hands a capture event across the process boundary to the delivery
// buffer. It must block only on the local "buffered" acknowledgement, never
// on end-to-end delivery.
type Emitter interface {
	Emit(ctx context.Context, ev capture.Event) error
}

// Detector watches one page. It is parameterized by the engine profile
// matched at page load and emits exactly one capture event per detected
// signal. Handlers never block the caller beyond the local emit ack.
type Detector struct {
	profile  *engine.Profile
	emitter  Emitter
	logger   *slog.Logger
	tabID    int
	windowID int

	currentURL string
	now        func() time.Time
}

// New creates a detector for a page on the given engine. A nil logger falls
// back to slog.Default.
func New(profile *engine.Profile, emitter Emitter, tabID, windowID int, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		profile:  profile,
		emitter:  emitter,
		logger:   logger,
		tabID:    tabID,
		windowID: windowID,
		now:      time.Now,
	}
}

// HandleSignal dispatches one page signal. Unknown kinds are ignored.
func (d *Detector) HandleSignal(ctx context.Context, sig Signal) {
	switch sig.Kind {
	case SignalLoad:
		d.onLoad(ctx, sig)
	case SignalSubmit:
		d.onSubmit(ctx, sig)
	case SignalEnterKey:
		d.onEnterKey(ctx, sig)
	case SignalClick:
		d.onClick(ctx, sig)
	case SignalHistoryPush, SignalHistoryReplace, SignalPopState:
		d.onNavigate(ctx, sig)
	}
}

func (d *Detector) onLoad(ctx context.Context, sig Signal) {
	d.currentURL = sig.URL
	if !engine.IsResultsPage(d.profile, sig.URL) {
		return
	}
	query := engine.ExtractQueryFromURL(d.profile, sig.URL)
	if query == "" {
		return
	}
	d.emit(ctx, capture.EventSearch, query, sig.URL)
}

func (d *Detector) onSubmit(ctx context.Context, sig Signal) {
	query := engine.ExtractQueryFromDoc(d.profile, sig.Doc)
	if query == "" {
		return
	}
	d.emit(ctx, capture.EventSearch, query, sig.URL)
}

func (d *Detector) onEnterKey(ctx context.Context, sig Signal) {
	query := strings.TrimSpace(sig.EnterValue)
	if query == "" {
		query = engine.ExtractQueryFromDoc(d.profile, sig.Doc)
	}
	if query == "" {
		return
	}
	d.emit(ctx, capture.EventSearch, query, sig.URL)
}

func (d *Detector) onClick(ctx context.Context, sig Signal) {
	href := d.resolveResultLink(sig)
	if href == "" {
		return
	}
	query := engine.ExtractQuery(d.profile, sig.URL, sig.Doc)
	if query == "" {
		return
	}
	d.emit(ctx, capture.EventClick, query, href)
}

// onNavigate handles SPA navigation: whenever the effective URL changes and
// the new state is a results page, a search event fires for the new query.
func (d *Detector) onNavigate(ctx context.Context, sig Signal) {
	if sig.URL == d.currentURL {
		return
	}
	d.currentURL = sig.URL
	if !engine.IsResultsPage(d.profile, sig.URL) {
		return
	}
	query := engine.ExtractQuery(d.profile, sig.URL, sig.Doc)
	if query == "" {
		return
	}
	d.emit(ctx, capture.EventSearch, query, sig.URL)
}

// resolveResultLink finds the nearest enclosing anchor of the clicked node,
// checks it against the declared result-link selectors and exclude patterns,
// and returns its absolute target URL, or "" when the click is not a result.
func (d *Detector) resolveResultLink(sig Signal) string {
	if sig.Doc == nil || sig.ClickTarget == "" {
		return ""
	}
	target := sig.Doc.Find(sig.ClickTarget).First()
	if target.Length() == 0 {
		return ""
	}
	anchor := target
	if !anchor.Is("a") {
		anchor = target.Closest("a")
	}
	if anchor.Length() == 0 {
		return ""
	}

	matched := false
	for _, sel := range d.profile.ResultSelectors {
		if anchor.Is(sel) {
			matched = true
			break
		}
	}
	if !matched {
		return ""
	}

	href, ok := anchor.Attr("href")
	if !ok || href == "" {
		return ""
	}
	href = d.absolutize(sig.URL, href)
	if d.profile.Excluded(href) {
		return ""
	}
	return href
}

func (d *Detector) absolutize(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func (d *Detector) emit(ctx context.Context, typ capture.EventType, query, eventURL string) {
	ev := capture.Event{
		Type:      typ,
		Query:     query,
		URL:       eventURL,
		Engine:    d.profile.Name,
		Timestamp: d.now(),
		TabID:     d.tabID,
		WindowID:  d.windowID,
	}
	if err := d.emitter.Emit(ctx, ev); err != nil {
		d.logger.Warn("event not buffered", "engine", ev.Engine, "type", ev.Type, "err", err)
	}
}
