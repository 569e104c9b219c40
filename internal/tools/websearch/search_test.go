package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := &breaker{}
	now := time.Now()

	if !b.allow(3, now) {
		t.Fatal("fresh breaker should allow")
	}
	errBoom := context.DeadlineExceeded
	b.record(errBoom, 3, time.Minute, now)
	b.record(errBoom, 3, time.Minute, now)
	if !b.allow(3, now) {
		t.Error("breaker should still allow below threshold")
	}
	tripped := b.record(errBoom, 3, time.Minute, now)
	if !tripped {
		t.Error("third failure should trip")
	}
	if b.allow(3, now) {
		t.Error("open breaker should block")
	}
	// Half-open after cooldown.
	if !b.allow(3, now.Add(2*time.Minute)) {
		t.Error("breaker should half-open after cooldown")
	}
	// Success resets.
	b.record(nil, 3, time.Minute, now)
	if !b.allow(3, now) {
		t.Error("success should close the breaker")
	}
}

func TestSearchSkipsOpenBreakers(t *testing.T) {
	c := NewClient(Config{BreakerThreshold: 1})
	var opened []Backend
	c.OnBreakerOpen = func(b Backend) { opened = append(opened, b) }

	// Trip every breaker.
	now := time.Now()
	for _, b := range c.breakers {
		b.record(context.DeadlineExceeded, 1, time.Hour, now)
	}

	resp, err := c.Search(context.Background(), "blood pressure")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("results = %d, want 0", len(resp.Results))
	}
	if len(resp.Skipped) != 3 {
		t.Errorf("skipped = %v, want all three backends", resp.Skipped)
	}
	if len(opened) != 0 {
		t.Errorf("no new trips expected, got %v", opened)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	c := NewClient(Config{})
	if _, err := c.Search(context.Background(), "   "); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestSearchCachesResponses(t *testing.T) {
	c := NewClient(Config{MaxResults: 3})

	// Exercise the cache layer directly: identical queries hit the cache.
	resp := &Response{Query: "sodium", Results: []Result{{Title: "Sodium"}}}
	c.putCache(cacheKey("sodium"), resp)

	got := c.fromCache(cacheKey("SODIUM"))
	if got == nil {
		t.Fatal("cache lookup should be case-insensitive")
	}
	if got.Results[0].Title != "Sodium" {
		t.Errorf("cached title = %q", got.Results[0].Title)
	}
}

func TestCacheExpires(t *testing.T) {
	c := NewClient(Config{CacheTTL: time.Minute})
	base := time.Now()
	c.now = func() time.Time { return base }

	c.putCache("k", &Response{Query: "q"})
	if c.fromCache("k") == nil {
		t.Fatal("entry should be live")
	}
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if c.fromCache("k") != nil {
		t.Error("entry should have expired")
	}
}

func TestStripTags(t *testing.T) {
	in := `<span class="searchmatch">Hypertension</span> is high blood pressure`
	want := "Hypertension is high blood pressure"
	if got := stripTags(in); got != want {
		t.Errorf("stripTags = %q, want %q", got, want)
	}
}

func TestDuckDuckGoParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "q=magnesium") {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"AbstractText": "Magnesium is a mineral.",
			"AbstractURL":  "https://example.org/mg",
			"Heading":      "Magnesium",
			"RelatedTopics": []map[string]string{
				{"FirstURL": "https://example.org/mg2", "Text": "Magnesium supplementation"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{})
	c.httpClient = srv.Client()
	body, err := c.get(context.Background(), srv.URL+"/?q=magnesium")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var ddg struct {
		AbstractText string `json:"AbstractText"`
	}
	if err := json.Unmarshal(body, &ddg); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ddg.AbstractText == "" {
		t.Error("expected abstract text")
	}
}
