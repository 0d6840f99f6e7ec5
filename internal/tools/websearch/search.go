package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/kanbeast/kanbeast/internal/tool"
)

const (
	defaultResults = 5
	maxResults     = 10
)

// result anchors and snippets in DuckDuckGo's HTML serp. The href is a
// redirect whose uddg query parameter carries the real destination.
var (
	reResultLink = regexp.MustCompile(`(?s)<a[^>]*class="result__a"[^>]*href="([^"]+)"[^>]*>(.*?)</a>`)
	reSnippet    = regexp.MustCompile(`(?s)<a[^>]*class="result__snippet"[^>]*>(.*?)</a>`)
	reTag        = regexp.MustCompile(`<[^>]+>`)
)

// SearchResult is one parsed entry from the results page.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// Search queries the DuckDuckGo HTML endpoint and parses up to n results.
func (c *Client) Search(ctx context.Context, query string, n int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if n <= 0 {
		n = defaultResults
	}
	if n > maxResults {
		n = maxResults
	}
	body, _, err := c.get(c.SearchBase + "/?q=" + url.QueryEscape(query))
	if err != nil {
		return nil, err
	}

	page := string(body)
	links := reResultLink.FindAllStringSubmatch(page, n)
	snippets := reSnippet.FindAllStringSubmatch(page, n)

	results := make([]SearchResult, 0, len(links))
	for i, m := range links {
		r := SearchResult{
			Title: cleanFragment(m[2]),
			URL:   resolveRedirect(m[1]),
		}
		if i < len(snippets) {
			r.Snippet = cleanFragment(snippets[i][1])
		}
		results = append(results, r)
	}
	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg=<real url> indirection;
// anything else passes through untouched.
func resolveRedirect(href string) string {
	u, err := url.Parse(html.UnescapeString(href))
	if err != nil {
		return href
	}
	if real := u.Query().Get("uddg"); real != "" {
		return real
	}
	if u.Scheme == "" {
		return "https:" + u.String()
	}
	return u.String()
}

func cleanFragment(s string) string {
	s = reTag.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(s))
}

func (c *Client) searchTool() tool.Tool {
	return tool.Define(tool.ToolWebSearch,
		"Search the web. Returns titles, URLs, and snippets; follow up with web_get_page for full content.",
		[]tool.Param{
			{Name: "query", Type: tool.TypeString, Description: "Search query.", Required: true},
			{Name: "max_results", Type: tool.TypeInteger, Description: "Results to return (default 5, max 10)."},
		},
		func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
			var in struct {
				Query      string `json:"query"`
				MaxResults int    `json:"max_results"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return tool.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
			}
			results, err := c.Search(ctx, in.Query, in.MaxResults)
			if err != nil {
				return tool.ToolResult{}, err
			}
			if len(results) == 0 {
				return tool.ToolResult{Response: "No results."}, nil
			}
			var b strings.Builder
			for i, r := range results {
				fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
				if r.Snippet != "" {
					fmt.Fprintf(&b, "   %s\n", r.Snippet)
				}
			}
			return tool.ToolResult{Response: b.String()}, nil
		})
}
