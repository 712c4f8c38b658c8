package tools

import (
	"context"
	"fmt"
)

// fetchURLMaxChars caps tool output well below the fetcher's byte cap so a
// single page cannot flood the context window.
const fetchURLMaxChars = 50 * 1024

// FetchURLTool fetches one page and returns its readable content.
type FetchURLTool struct {
	fetcher *Fetcher
}

func NewFetchURLTool(f *Fetcher) *FetchURLTool { return &FetchURLTool{fetcher: f} }

func (t *FetchURLTool) Name() string { return "fetch_url" }

func (t *FetchURLTool) Description() string {
	return "Fetch a web page by URL. HTML is converted to plain text; other content types are returned as-is. Output is capped at 50 KB."
}

func (t *FetchURLTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch.",
			},
		},
		"required": []string{"url"},
	}
}

func (t *FetchURLTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required"), nil
	}

	res, err := t.fetcher.Get(ctx, rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err)), nil
	}

	content := string(res.Body)
	if looksLikeHTML(res.ContentType, res.Body) {
		content = htmlToText(content)
	}
	truncated := false
	if len(content) > fetchURLMaxChars {
		content = content[:fetchURLMaxChars]
		truncated = true
	}

	return JSONResult(map[string]any{
		"url":         res.FinalURL,
		"status":      res.Status,
		"contentType": res.ContentType,
		"truncated":   truncated,
		"content":     content,
	}), nil
}
