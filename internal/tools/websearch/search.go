// Package websearch aggregates health lookups across DuckDuckGo, Wikipedia,
// and PubMed. Each backend sits behind its own circuit breaker so a flaky
// upstream degrades that backend only, and responses are cached briefly to
// absorb repeated queries within a conversation.
package websearch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Backend identifies one search upstream.
type Backend string

const (
	BackendDuckDuckGo Backend = "duckduckgo"
	BackendWikipedia  Backend = "wikipedia"
	BackendPubMed     Backend = "pubmed"
)

// Result is one normalized hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Source  Backend `json:"source"`
}

// Response is the merged outcome of one query.
type Response struct {
	Query    string    `json:"query"`
	Results  []Result  `json:"results"`
	Skipped  []Backend `json:"skipped,omitempty"`
	CachedAt time.Time `json:"cached_at"`
}

// Config tunes the client.
type Config struct {
	MaxResults       int
	RequestTimeout   time.Duration
	CacheTTL         time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	UserAgent        string
}

func (c *Config) applyDefaults() {
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 8 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 15 * time.Minute
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 3
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 2 * time.Minute
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; VitalCoachBot/1.0)"
	}
}

// breaker is a per-backend circuit breaker: consecutive failures open it,
// and it half-opens after the cooldown.
type breaker struct {
	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

func (b *breaker) allow(threshold int, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < threshold {
		return true
	}
	return now.After(b.openUntil)
}

func (b *breaker) record(err error, threshold int, cooldown time.Duration, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		return false
	}
	b.failures++
	if b.failures == threshold {
		b.openUntil = now.Add(cooldown)
		return true
	}
	if b.failures > threshold {
		b.openUntil = now.Add(cooldown)
	}
	return false
}

type cacheEntry struct {
	response *Response
	expires  time.Time
}

// Client fans a query out to the healthy backends and merges the hits.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breakers   map[Backend]*breaker

	mu    sync.Mutex
	cache map[string]cacheEntry

	// OnBreakerOpen is called when a backend's breaker trips, for metrics.
	OnBreakerOpen func(backend Backend)

	now func() time.Time
}

// NewClient creates a search client.
func NewClient(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		breakers: map[Backend]*breaker{
			BackendDuckDuckGo: {},
			BackendWikipedia:  {},
			BackendPubMed:     {},
		},
		cache: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

// Search queries all backends whose breaker is closed and merges results up
// to MaxResults, preferring DuckDuckGo, then Wikipedia, then PubMed. A fully
// skipped query (all breakers open) returns an empty response, not an error.
func (c *Client) Search(ctx context.Context, query string) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("websearch: empty query")
	}

	key := cacheKey(query)
	if cached := c.fromCache(key); cached != nil {
		return cached, nil
	}

	resp := &Response{Query: query, CachedAt: c.now()}
	backends := []struct {
		name Backend
		fn   func(context.Context, string) ([]Result, error)
	}{
		{BackendDuckDuckGo, c.searchDuckDuckGo},
		{BackendWikipedia, c.searchWikipedia},
		{BackendPubMed, c.searchPubMed},
	}

	for _, backend := range backends {
		if len(resp.Results) >= c.cfg.MaxResults {
			break
		}
		br := c.breakers[backend.name]
		if !br.allow(c.cfg.BreakerThreshold, c.now()) {
			resp.Skipped = append(resp.Skipped, backend.name)
			continue
		}
		results, err := backend.fn(ctx, query)
		if tripped := br.record(err, c.cfg.BreakerThreshold, c.cfg.BreakerCooldown, c.now()); tripped && c.OnBreakerOpen != nil {
			c.OnBreakerOpen(backend.name)
		}
		if err != nil {
			resp.Skipped = append(resp.Skipped, backend.name)
			continue
		}
		for _, r := range results {
			if len(resp.Results) >= c.cfg.MaxResults {
				break
			}
			resp.Results = append(resp.Results, r)
		}
	}

	c.putCache(key, resp)
	return resp, nil
}

func (c *Client) fromCache(key string) *Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok || c.now().After(entry.expires) {
		delete(c.cache, key)
		return nil
	}
	return entry.response
}

func (c *Client) putCache(key string, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Crude bound: drop everything rather than track recency.
	if len(c.cache) >= 512 {
		c.cache = make(map[string]cacheEntry)
	}
	c.cache[key] = cacheEntry{response: resp, expires: c.now().Add(c.cfg.CacheTTL)}
}

func cacheKey(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(query)))
	return hex.EncodeToString(sum[:16])
}

func (c *Client) searchDuckDuckGo(ctx context.Context, query string) ([]Result, error) {
	endpoint := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1",
		url.QueryEscape(query))
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var ddg struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &ddg); err != nil {
		return nil, fmt.Errorf("duckduckgo: parse response: %w", err)
	}

	var results []Result
	if ddg.AbstractText != "" && ddg.AbstractURL != "" {
		results = append(results, Result{
			Title:   ddg.Heading,
			URL:     ddg.AbstractURL,
			Snippet: ddg.AbstractText,
			Source:  BackendDuckDuckGo,
		})
	}
	for _, topic := range ddg.RelatedTopics {
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, Result{
			Title:   title,
			URL:     topic.FirstURL,
			Snippet: topic.Text,
			Source:  BackendDuckDuckGo,
		})
	}
	return results, nil
}

func (c *Client) searchWikipedia(ctx context.Context, query string) ([]Result, error) {
	endpoint := fmt.Sprintf(
		"https://en.wikipedia.org/w/api.php?action=query&list=search&srsearch=%s&srlimit=%d&format=json&utf8=1",
		url.QueryEscape(query), c.cfg.MaxResults)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var wiki struct {
		Query struct {
			Search []struct {
				Title   string `json:"title"`
				Snippet string `json:"snippet"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := json.Unmarshal(body, &wiki); err != nil {
		return nil, fmt.Errorf("wikipedia: parse response: %w", err)
	}

	var results []Result
	for _, hit := range wiki.Query.Search {
		results = append(results, Result{
			Title:   hit.Title,
			URL:     "https://en.wikipedia.org/wiki/" + url.PathEscape(strings.ReplaceAll(hit.Title, " ", "_")),
			Snippet: stripTags(hit.Snippet),
			Source:  BackendWikipedia,
		})
	}
	return results, nil
}

// searchPubMed uses the two-step NCBI E-utilities flow: esearch for ids,
// esummary for titles.
func (c *Client) searchPubMed(ctx context.Context, query string) ([]Result, error) {
	searchURL := fmt.Sprintf(
		"https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi?db=pubmed&term=%s&retmax=%d&retmode=json",
		url.QueryEscape(query), c.cfg.MaxResults)
	body, err := c.get(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	var search struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(body, &search); err != nil {
		return nil, fmt.Errorf("pubmed: parse esearch: %w", err)
	}
	ids := search.ESearchResult.IDList
	if len(ids) == 0 {
		return nil, nil
	}

	summaryURL := fmt.Sprintf(
		"https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esummary.fcgi?db=pubmed&id=%s&retmode=json",
		strings.Join(ids, ","))
	body, err = c.get(ctx, summaryURL)
	if err != nil {
		return nil, err
	}

	var summary struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("pubmed: parse esummary: %w", err)
	}

	var results []Result
	for _, id := range ids {
		raw, ok := summary.Result[id]
		if !ok {
			continue
		}
		var doc struct {
			Title   string `json:"title"`
			Source  string `json:"source"`
			PubDate string `json:"pubdate"`
		}
		if json.Unmarshal(raw, &doc) != nil || doc.Title == "" {
			continue
		}
		snippet := doc.Source
		if doc.PubDate != "" {
			snippet = fmt.Sprintf("%s (%s)", doc.Source, doc.PubDate)
		}
		results = append(results, Result{
			Title:   doc.Title,
			URL:     "https://pubmed.ncbi.nlm.nih.gov/" + id + "/",
			Snippet: snippet,
			Source:  BackendPubMed,
		})
	}
	return results, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch: upstream returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func stripTags(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
