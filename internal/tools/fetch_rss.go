package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	rssMaxFeeds       = 10
	rssDefaultArticles = 20
	rssSummaryMaxChars = 300
)

// FetchRSSTool aggregates one or more RSS/Atom feeds into a deduplicated,
// date-sorted article list. Feed bodies go through the SSRF-safe fetcher;
// the parser only ever sees bytes.
type FetchRSSTool struct {
	fetcher *Fetcher
	parser  *gofeed.Parser
	now     func() time.Time
}

func NewFetchRSSTool(f *Fetcher) *FetchRSSTool {
	return &FetchRSSTool{fetcher: f, parser: gofeed.NewParser(), now: time.Now}
}

func (t *FetchRSSTool) Name() string { return "fetch_rss" }

func (t *FetchRSSTool) Description() string {
	return "Fetch and aggregate RSS/Atom feeds. Articles are deduplicated by title, sorted newest first, and optionally filtered by age."
}

func (t *FetchRSSTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"urls": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": fmt.Sprintf("Feed URLs to fetch (max %d).", rssMaxFeeds),
			},
			"max_age_hours": map[string]any{
				"type":        "number",
				"description": "Drop articles older than this many hours. 0 or omitted keeps everything.",
			},
			"max_articles": map[string]any{
				"type":        "number",
				"description": fmt.Sprintf("Cap on returned articles. Default %d.", rssDefaultArticles),
			},
		},
		"required": []string{"urls"},
	}
}

type rssArticle struct {
	Title     string `json:"title"`
	Link      string `json:"link"`
	Source    string `json:"source"`
	Published string `json:"published,omitempty"`
	Summary   string `json:"summary,omitempty"`

	publishedAt *time.Time
}

func (t *FetchRSSTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	urls := stringSliceArg(args, "urls")
	if len(urls) == 0 {
		return ErrorResult("urls is required"), nil
	}
	if len(urls) > rssMaxFeeds {
		return ErrorResult(fmt.Sprintf("too many feed urls (max %d)", rssMaxFeeds)), nil
	}

	maxAge := time.Duration(0)
	if hours, ok := args["max_age_hours"].(float64); ok && hours > 0 {
		maxAge = time.Duration(hours * float64(time.Hour))
	}
	maxArticles := rssDefaultArticles
	if n, ok := args["max_articles"].(float64); ok && int(n) > 0 {
		maxArticles = int(n)
	}

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = t.now().Add(-maxAge)
	}

	var (
		articles []rssArticle
		seen     = make(map[string]bool)
		failures []string
	)
	for _, feedURL := range urls {
		feed, err := t.fetchFeed(ctx, feedURL)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", feedURL, err))
			continue
		}
		for _, item := range feed.Items {
			a := toArticle(feed.Title, item)
			if !cutoff.IsZero() && a.publishedAt != nil && a.publishedAt.Before(cutoff) {
				continue
			}
			key := normalizeTitle(a.Title)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			articles = append(articles, a)
		}
	}

	// Newest first; undated articles sink to the end.
	sort.SliceStable(articles, func(i, j int) bool {
		pi, pj := articles[i].publishedAt, articles[j].publishedAt
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return pi.After(*pj)
		}
	})
	if len(articles) > maxArticles {
		articles = articles[:maxArticles]
	}

	out := map[string]any{
		"articles": articles,
		"count":    len(articles),
	}
	if len(failures) > 0 {
		out["failures"] = failures
	}
	return JSONResult(out), nil
}

func (t *FetchRSSTool) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	res, err := t.fetcher.Get(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	if res.Status != 200 {
		return nil, fmt.Errorf("status %d", res.Status)
	}
	feed, err := t.parser.ParseString(string(res.Body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

func toArticle(source string, item *gofeed.Item) rssArticle {
	a := rssArticle{
		Title:  strings.TrimSpace(item.Title),
		Link:   item.Link,
		Source: strings.TrimSpace(source),
	}
	when := item.PublishedParsed
	if when == nil {
		when = item.UpdatedParsed
	}
	if when != nil {
		a.publishedAt = when
		a.Published = when.UTC().Format(time.RFC3339)
	}
	if summary := htmlToText(item.Description); summary != "" {
		if len(summary) > rssSummaryMaxChars {
			summary = summary[:rssSummaryMaxChars] + "..."
		}
		a.Summary = summary
	}
	return a
}

// normalizeTitle canonicalizes a headline for dedup: lowercase with
// whitespace collapsed.
func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		if ss, ok := args[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
