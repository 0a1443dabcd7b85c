package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/yuin/goldmark"
)

// WebFetchTool fetches a URL and extracts its readable text content for an
// Agent node to reason over, rather than handing the model raw HTML.
//
// HTML pages go through go-readability's article extraction (the same
// approach as a generic HTTP fetch tool, minus the status/headers
// bookkeeping HTTPTool already covers). Markdown documents (content-type
// text/markdown, or a .md URL) are rendered through goldmark to HTML first
// so the same plain-text extraction step works uniformly either way.
type WebFetchTool struct {
	client    *http.Client
	maxBytes  int64
	maxOutput int
}

// NewWebFetchTool creates a WebFetchTool with a 15-second timeout and a 1MB
// response cap.
func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client:    &http.Client{Timeout: 15 * time.Second},
		maxBytes:  1 << 20,
		maxOutput: 8000,
	}
}

// Name returns the tool identifier.
func (w *WebFetchTool) Name() string {
	return "web_fetch"
}

// Call fetches input["url"] and returns its extracted text under "content".
func (w *WebFetchTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	rawURL, ok := input["url"].(string)
	if !ok || rawURL == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; WorkflowEngineBot/1.0)")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch error: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, w.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}

	var text string
	if isMarkdown(rawURL, resp.Header.Get("Content-Type")) {
		text, err = markdownToText(body)
		if err != nil {
			text = string(body)
		}
	} else {
		text = extractReadable(body, rawURL)
	}

	text = strings.TrimSpace(text)
	truncated := false
	if len(text) > w.maxOutput {
		text = text[:w.maxOutput]
		truncated = true
	}

	return map[string]interface{}{
		"url":       rawURL,
		"content":   text,
		"truncated": truncated,
	}, nil
}

func isMarkdown(rawURL, contentType string) bool {
	if strings.Contains(contentType, "text/markdown") {
		return true
	}
	if u, err := url.Parse(rawURL); err == nil {
		return strings.HasSuffix(strings.ToLower(u.Path), ".md")
	}
	return false
}

func markdownToText(src []byte) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert(src, &buf); err != nil {
		return "", err
	}
	return extractReadable(buf.Bytes(), ""), nil
}

func extractReadable(html []byte, rawURL string) string {
	var parsedURL *url.URL
	if rawURL != "" {
		parsedURL, _ = url.Parse(rawURL)
	}
	article, err := readability.FromReader(bytes.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return article.TextContent
	}
	return stripHTML(string(html))
}

// stripHTML is a last-resort fallback when readability extraction fails
// (e.g. a fragment with no recognizable article structure): drop tags and
// collapse whitespace rather than handing the model unparsed markup.
func stripHTML(html string) string {
	var out strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			out.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(out.String()), " ")
}

var _ Tool = (*WebFetchTool)(nil)
