// Package websearch implements the web tools: web_search against
// DuckDuckGo's HTML endpoint and web_get_page for fetching a URL and
// reducing it to readable text. Fetches refuse private and loopback
// addresses so a prompt-injected URL can't probe the worker's network.
package websearch

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultSearchBase = "https://html.duckduckgo.com/html"
	defaultPageCap    = 1 << 20 // bytes read per fetch

	userAgent = "kanbeast-worker/1.0"
)

// Client carries the HTTP plumbing both web tools share. The zero value is
// not usable; construct with NewClient.
type Client struct {
	HTTP       *http.Client
	SearchBase string

	// AllowLocal skips the private-address guard. Tests serving from
	// 127.0.0.1 set it; production code never should.
	AllowLocal bool

	PageCap int64
}

// NewClient returns a Client with production defaults.
func NewClient() *Client {
	return &Client{
		HTTP:       &http.Client{Timeout: 20 * time.Second},
		SearchBase: defaultSearchBase,
		PageCap:    defaultPageCap,
	}
}

// checkTarget rejects URLs that are not plain http(s) or whose host
// resolves to a private, loopback, or link-local address.
func (c *Client) checkTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("url has no host")
	}
	if c.AllowLocal {
		return u, nil
	}
	ips, err := net.LookupIP(u.Hostname())
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", u.Hostname(), err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return nil, fmt.Errorf("%s resolves to a non-public address", u.Hostname())
		}
	}
	return u, nil
}

func (c *Client) get(target string) ([]byte, string, error) {
	u, err := c.checkTarget(target)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("%s returned status %d", u.Hostname(), resp.StatusCode)
	}
	limit := c.PageCap
	if limit <= 0 {
		limit = defaultPageCap
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}
