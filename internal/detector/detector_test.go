package detector

import (
	"context"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/FranksOps/searchsift/internal/capture"
	"github.com/FranksOps/searchsift/internal/engine"
)

type captureEmitter struct {
	events []capture.Event
	err    error
}

func (c *captureEmitter) Emit(_ context.Context, ev capture.Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func newGoogleDetector(t *testing.T) (*Detector, *captureEmitter) {
	t.Helper()
	p := engine.Match("www.google.com")
	if p == nil {
		t.Fatal("no google profile")
	}
	em := &captureEmitter{}
	return New(p, em, 7, 1, nil), em
}

func TestLoadEmitsSearchOnResultsPage(t *testing.T) {
	d, em := newGoogleDetector(t)

	d.HandleSignal(context.Background(), Signal{
		Kind: SignalLoad,
		URL:  "https://www.google.com/search?q=rust+ownership",
	})

	if len(em.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(em.events))
	}
	ev := em.events[0]
	if ev.Type != capture.EventSearch || ev.Query != "rust ownership" || ev.Engine != "google" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp must be set before buffering")
	}
	if ev.TabID != 7 || ev.WindowID != 1 {
		t.Errorf("tab/window not carried: %+v", ev)
	}
}

func TestLoadIgnoresNonResultsPage(t *testing.T) {
	d, em := newGoogleDetector(t)

	d.HandleSignal(context.Background(), Signal{
		Kind: SignalLoad,
		URL:  "https://www.google.com/maps",
	})

	if len(em.events) != 0 {
		t.Fatalf("expected no events, got %d", len(em.events))
	}
}

func TestSubmitExtractsFromInputs(t *testing.T) {
	d, em := newGoogleDetector(t)

	d.HandleSignal(context.Background(), Signal{
		Kind: SignalSubmit,
		URL:  "https://www.google.com/",
		Doc:  mustDoc(t, `<form><input name="q" value="go generics"></form>`),
	})

	if len(em.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(em.events))
	}
	if em.events[0].Query != "go generics" || em.events[0].Type != capture.EventSearch {
		t.Errorf("unexpected event: %+v", em.events[0])
	}
}

func TestSubmitWithoutQueryEmitsNothing(t *testing.T) {
	d, em := newGoogleDetector(t)

	d.HandleSignal(context.Background(), Signal{
		Kind: SignalSubmit,
		URL:  "https://www.google.com/",
		Doc:  mustDoc(t, `<form><input name="q" value=""></form>`),
	})

	if len(em.events) != 0 {
		t.Fatalf("expected no events, got %d", len(em.events))
	}
}

func TestEnterKeyUsesFieldValue(t *testing.T) {
	d, em := newGoogleDetector(t)

	d.HandleSignal(context.Background(), Signal{
		Kind:       SignalEnterKey,
		URL:        "https://www.google.com/",
		EnterValue: "  sqlite vacuum  ",
	})

	if len(em.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(em.events))
	}
	if em.events[0].Query != "sqlite vacuum" {
		t.Errorf("expected trimmed field value, got %q", em.events[0].Query)
	}
}

func TestClickOnResultLink(t *testing.T) {
	d, em := newGoogleDetector(t)

	html := `<div id="search">
		<a href="https://example.com/rust-book"><h3 id="hit">The Rust Book</h3></a>
	</div>`

	d.HandleSignal(context.Background(), Signal{
		Kind:        SignalClick,
		URL:         "https://www.google.com/search?q=rust+ownership",
		Doc:         mustDoc(t, html),
		ClickTarget: "#hit",
	})

	if len(em.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(em.events))
	}
	ev := em.events[0]
	if ev.Type != capture.EventClick {
		t.Errorf("expected click, got %s", ev.Type)
	}
	if ev.URL != "https://example.com/rust-book" {
		t.Errorf("click URL should be the link target, got %q", ev.URL)
	}
	if ev.Query != "rust ownership" {
		t.Errorf("click should carry the page query, got %q", ev.Query)
	}
}

func TestClickOnExcludedLink(t *testing.T) {
	d, em := newGoogleDetector(t)

	html := `<div id="search">
		<a href="https://www.google.com/aclk?sa=L" id="ad">Sponsored</a>
	</div>`

	d.HandleSignal(context.Background(), Signal{
		Kind:        SignalClick,
		URL:         "https://www.google.com/search?q=rust",
		Doc:         mustDoc(t, html),
		ClickTarget: "#ad",
	})

	if len(em.events) != 0 {
		t.Fatalf("ad click should be excluded, got %d events", len(em.events))
	}
}

func TestClickOutsideResults(t *testing.T) {
	d, em := newGoogleDetector(t)

	html := `<nav><a href="https://www.google.com/preferences" id="gear">Settings</a></nav>`

	d.HandleSignal(context.Background(), Signal{
		Kind:        SignalClick,
		URL:         "https://www.google.com/search?q=rust",
		Doc:         mustDoc(t, html),
		ClickTarget: "#gear",
	})

	if len(em.events) != 0 {
		t.Fatalf("non-result click should emit nothing, got %d events", len(em.events))
	}
}

func TestClickResolvesRelativeHref(t *testing.T) {
	d, em := newGoogleDetector(t)

	html := `<div id="search"><a href="/relative/path" id="rel">rel</a></div>`

	d.HandleSignal(context.Background(), Signal{
		Kind:        SignalClick,
		URL:         "https://www.google.com/search?q=x",
		Doc:         mustDoc(t, html),
		ClickTarget: "#rel",
	})

	if len(em.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(em.events))
	}
	if em.events[0].URL != "https://www.google.com/relative/path" {
		t.Errorf("href not resolved against page URL: %q", em.events[0].URL)
	}
}

func TestHistoryNavigationEmitsOnURLChange(t *testing.T) {
	d, em := newGoogleDetector(t)
	ctx := context.Background()

	d.HandleSignal(ctx, Signal{Kind: SignalLoad, URL: "https://www.google.com/search?q=first"})
	d.HandleSignal(ctx, Signal{Kind: SignalHistoryPush, URL: "https://www.google.com/search?q=second"})
	// Same effective URL again: no change, no event.
	d.HandleSignal(ctx, Signal{Kind: SignalHistoryReplace, URL: "https://www.google.com/search?q=second"})
	d.HandleSignal(ctx, Signal{Kind: SignalPopState, URL: "https://www.google.com/search?q=first"})

	if len(em.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(em.events))
	}
	if em.events[1].Query != "second" || em.events[2].Query != "first" {
		t.Errorf("unexpected queries: %q, %q", em.events[1].Query, em.events[2].Query)
	}
}

func TestSearchThenClickProduceDistinctEvents(t *testing.T) {
	// A search and a subsequent click on the same query carry different URLs,
	// so downstream dedup must keep both.
	d, em := newGoogleDetector(t)
	ctx := context.Background()

	resultsURL := "https://www.google.com/search?q=rust+ownership"
	d.HandleSignal(ctx, Signal{Kind: SignalLoad, URL: resultsURL})
	d.HandleSignal(ctx, Signal{
		Kind:        SignalClick,
		URL:         resultsURL,
		Doc:         mustDoc(t, `<div id="search"><a href="https://doc.rust-lang.org/book/" id="l">book</a></div>`),
		ClickTarget: "#l",
	})

	if len(em.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(em.events))
	}
	if em.events[0].Key() == em.events[1].Key() {
		t.Error("search and click should have distinct dedup keys")
	}
}
