// Package preview fetches a short plain-text preview of a web page.
package preview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const (
	maxPageSize = 2 * 1024 * 1024
	maxLines    = 5
	userAgent   = "Mozilla/5.0 (compatible; tgwatch/1.0)"
)

// Lines containing any of these are site chrome, not post text.
var skipPatterns = []string{
	"NodeSeekbeta",
	"DeepFlood",
	"search for post",
	"search for people",
	"use google search",
	"所有版块",
	"日常技术情报测评交易拼车推广",
	"日常 技术 情报 测评 交易 拼车 推广 生活 Dev 贴图 曝光 沙盒",
}

// Post header such as "alice楼主 1s ago in 交易 #0".
var metadataPattern = regexp.MustCompile(`^.+楼主\s+\d+[smhd]\s+ago\s+in\s+.+#\d+`)

// Containers tried in order on forum pages.
var postSelectors = []string{"div.post-content", "article", "div.content", "main"}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads pages and extracts previews, at most rps requests per second.
type Fetcher struct {
	client  HTTPClient
	limiter *rate.Limiter
}

// New creates a Fetcher. rps <= 0 disables rate limiting.
func New(client HTTPClient, rps float64) *Fetcher {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Fetcher{client: client, limiter: rate.NewLimiter(limit, 1)}
}

// Preview returns the first lines of readable text of the page at pageURL.
// An empty string means the page had no usable text.
func (f *Fetcher) Preview(ctx context.Context, pageURL string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return Extract(doc, pageURL, maxLines), nil
}

// Extract returns up to n non-empty text lines of doc. Forum pages are
// narrowed to the post container and stripped of navigation first.
func Extract(doc *goquery.Document, pageURL string, n int) string {
	root := doc.Selection
	if isForum(pageURL) {
		doc.Find("script, style, nav, header, footer, aside").Remove()
		for _, sel := range postSelectors {
			if found := doc.Find(sel).First(); found.Length() > 0 {
				root = found
				break
			}
		}
	} else {
		doc.Find("script, style").Remove()
	}

	var lines []string
	for _, line := range strings.Split(root.Text(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || skipLine(line) {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return strings.Join(lines, "\n")
}

func skipLine(line string) bool {
	for _, p := range skipPatterns {
		if strings.Contains(line, p) {
			return true
		}
	}
	return metadataPattern.MatchString(line)
}

func isForum(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "nodeseek.com" || strings.HasSuffix(host, ".nodeseek.com")
}
