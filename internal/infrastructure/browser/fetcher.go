package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	apperrors "github.com/magpiebot/magpie/pkg/errors"
	"golang.org/x/net/html"
)

const userAgent = "Mozilla/5.0 (compatible; magpie/1.0)"

// maxFetchBytes caps how much of a page body is read.
const maxFetchBytes = 2 << 20

// PageFetcher downloads a page and extracts its readable article text.
type PageFetcher struct {
	client *http.Client
}

// NewPageFetcher creates the fetcher with defaults filled in.
func NewPageFetcher(timeout time.Duration) *PageFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PageFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch returns the article title and plain text of the page.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (title, content string, err error) {
	body, err := f.get(ctx, rawURL)
	if err != nil {
		return "", "", err
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", "", apperrors.NewInvalidInputError("invalid URL: " + rawURL)
	}

	article, err := readability.FromReader(strings.NewReader(body), parsedURL)
	if err != nil || strings.TrimSpace(article.TextContent) == "" {
		// Readability gives up on some pages; fall back to stripping tags.
		return "", stripHTML(body), nil
	}
	return article.Title, strings.TrimSpace(article.TextContent), nil
}

func (f *PageFetcher) get(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", apperrors.NewTransientError("fetch failed: "+rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewTransientError(
			fmt.Sprintf("fetch %s returned %d", rawURL, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", apperrors.NewTransientError("read body: "+rawURL, err)
	}
	return string(body), nil
}

// LinkExtractor pulls article-looking links out of a hub page.
type LinkExtractor struct {
	fetcher *PageFetcher
}

func NewLinkExtractor(fetcher *PageFetcher) *LinkExtractor {
	return &LinkExtractor{fetcher: fetcher}
}

// Extract returns absolute http(s) links found on the hub page, deduplicated,
// with fragments dropped and the hub page itself excluded.
func (e *LinkExtractor) Extract(ctx context.Context, hubURL string) ([]string, error) {
	body, err := e.fetcher.get(ctx, hubURL)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(hubURL)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("invalid hub URL: " + hubURL)
	}

	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, apperrors.NewParseError("parse hub page", err)
	}

	seen := make(map[string]struct{})
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				link := resolveLink(base, attr.Val)
				if link == "" || link == hubURL {
					continue
				}
				if _, ok := seen[link]; ok {
					continue
				}
				seen[link] = struct{}{}
				links = append(links, link)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return links, nil
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

// stripHTML is the fallback text extraction for pages readability rejects.
func stripHTML(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript"):
			return
		case n.Type == html.TextNode:
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String())
}
