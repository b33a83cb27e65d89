package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"auction-parser/internal/types"
	"auction-parser/utils"

	"github.com/PuerkitoBio/goquery"
)

// BaseAdapter provides common functionality for site adapters: page
// retrieval, HTML parsing, URL resolution and the locator helpers that
// site-specific field extractors are built from.
type BaseAdapter struct {
	logger     types.Logger      // Structured logging interface
	httpClient *utils.HTTPClient // HTTP client for page requests
	origin     *url.URL          // Site origin relative links are resolved against
}

// NewBaseAdapter creates a new base adapter with an initialized HTTP client.
func NewBaseAdapter(config *types.Config, logger types.Logger) *BaseAdapter {
	origin, err := url.Parse(config.SiteOrigin)
	if err != nil || origin.Scheme == "" {
		logger.Warnf("Invalid site origin %q, relative links will be kept as scraped", config.SiteOrigin)
		origin = nil
	}
	return &BaseAdapter{
		logger:     logger,
		httpClient: utils.NewHTTPClient(config, logger),
		origin:     origin,
	}
}

// GetPageContent retrieves the HTML content of a page. Failures are
// *utils.TransportError values.
func (b *BaseAdapter) GetPageContent(ctx context.Context, url string) (string, error) {
	return b.httpClient.Get(ctx, url)
}

// ParseHTML parses HTML content into a goquery document
func (b *BaseAdapter) ParseHTML(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// ResolveURL makes href absolute against the configured site origin.
// Absolute hrefs are returned unchanged.
func (b *BaseAdapter) ResolveURL(href string) string {
	href = strings.TrimSpace(strings.ToValidUTF8(href, "\uFFFD"))
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() || b.origin == nil {
		return href
	}
	return b.origin.ResolveReference(ref).String()
}

// RemoveDuplicateURLs removes duplicate URLs from the slice, keeping the
// first occurrence of each.
func (b *BaseAdapter) RemoveDuplicateURLs(urls []string) []string {
	seen := make(map[string]bool)
	var uniqueURLs []string

	for _, url := range urls {
		if !seen[url] {
			seen[url] = true
			uniqueURLs = append(uniqueURLs, url)
		}
	}

	return uniqueURLs
}

// Close cleans up resources
func (b *BaseAdapter) Close() {
	if b.httpClient != nil {
		b.httpClient.Close()
	}
}

// Locator resolves one field from a listing block. ok is false when the
// block does not carry the structure the locator looks for.
type Locator[T any] func(block *goquery.Selection) (value T, ok bool)

// FirstMatch tries locators in order and returns the first resolved value.
func FirstMatch[T any](block *goquery.Selection, locators ...Locator[T]) (T, bool) {
	for _, locate := range locators {
		if v, ok := locate(block); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// TextOf returns a locator yielding the trimmed text of the first element
// matching selector, if that text is non-empty.
func TextOf(selector string) Locator[string] {
	return func(block *goquery.Selection) (string, bool) {
		el := block.Find(selector).First()
		if el.Length() == 0 {
			return "", false
		}
		text := utils.CollapseSpaces(el.Text())
		return text, text != ""
	}
}

// OwnText concatenates the direct text-node children of s, ignoring text
// nested inside child elements.
func OwnText(s *goquery.Selection) string {
	var sb strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			sb.WriteString(c.Text())
		}
	})
	return sb.String()
}

// EachTextNode calls fn for every text node under s in document order until
// fn returns false.
func EachTextNode(s *goquery.Selection, fn func(text string) bool) bool {
	cont := true
	s.Contents().EachWithBreak(func(_ int, c *goquery.Selection) bool {
		if goquery.NodeName(c) == "#text" {
			cont = fn(c.Text())
		} else {
			cont = EachTextNode(c, fn)
		}
		return cont
	})
	return cont
}

// ExtractionError records a listing block that could not be processed.
// Fields that are merely absent are reported in BlockResult.Missing instead.
type ExtractionError struct {
	Block int
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("block %d: %v", e.Block, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
