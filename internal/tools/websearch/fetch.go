package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/kanbeast/kanbeast/internal/tool"
)

var (
	reDropBlock = regexp.MustCompile(`(?is)<(script|style|noscript|head|svg|template)[^>]*>.*?</\s*(?:script|style|noscript|head|svg|template)\s*>`)
	reComment   = regexp.MustCompile(`(?s)<!--.*?-->`)
	reBlockEnd  = regexp.MustCompile(`(?i)<(?:/p|/div|/li|/tr|/h[1-6]|/blockquote|/section|/article|br\s*/?)>`)
	reBlankRuns = regexp.MustCompile(`\n{3,}`)
	reSpaceRuns = regexp.MustCompile(`[ \t]{2,}`)
)

// htmlToText flattens an HTML document into readable plain text: scripted
// and styled blocks are dropped, block boundaries become newlines, every
// other tag is stripped, and entities are decoded.
func htmlToText(doc string) string {
	doc = reComment.ReplaceAllString(doc, "")
	doc = reDropBlock.ReplaceAllString(doc, "")
	doc = reBlockEnd.ReplaceAllString(doc, "\n")
	doc = reTag.ReplaceAllString(doc, " ")
	doc = html.UnescapeString(doc)

	lines := strings.Split(doc, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(reSpaceRuns.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	out = reBlankRuns.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// FetchPage retrieves a URL and returns its content as text. HTML is
// flattened; anything textual comes back as-is.
func (c *Client) FetchPage(ctx context.Context, target string) (string, error) {
	body, contentType, err := c.get(target)
	if err != nil {
		return "", err
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/html"), strings.Contains(ct, "application/xhtml"):
		return htmlToText(string(body)), nil
	case strings.Contains(ct, "text/"), strings.Contains(ct, "json"), strings.Contains(ct, "xml"), ct == "":
		return string(body), nil
	default:
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}
}

func (c *Client) fetchTool() tool.Tool {
	return tool.Define(tool.ToolWebGetPage,
		"Fetch a web page and return its content as plain text.",
		[]tool.Param{
			{Name: "url", Type: tool.TypeString, Description: "Absolute http(s) URL to fetch.", Required: true},
		},
		func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
			var in struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return tool.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
			}
			text, err := c.FetchPage(ctx, in.URL)
			if err != nil {
				return tool.ToolResult{}, err
			}
			if text == "" {
				return tool.ToolResult{Response: "(empty page)"}, nil
			}
			return tool.ToolResult{Response: text}, nil
		})
}

// Tools returns the web toolset bound to this client.
func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{c.fetchTool(), c.searchTool()}
}
