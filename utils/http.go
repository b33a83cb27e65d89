package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/time/rate"

	"auction-parser/internal/types"
)

// TransportErrorKind classifies why a page could not be fetched.
type TransportErrorKind string

const (
	TransportTimeout    TransportErrorKind = "timeout"
	TransportConnection TransportErrorKind = "connection"
	TransportStatus     TransportErrorKind = "status"
)

// TransportError is returned by HTTPClient.Get for any failure to obtain a page.
// Callers treat it as "page unavailable".
type TransportError struct {
	Kind       TransportErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Kind == TransportStatus {
		return fmt.Sprintf("fetch %s: unexpected status code: %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPClient performs polite single GET requests with browser-like headers.
// Its headers are fixed at construction and never mutated afterwards.
type HTTPClient struct {
	client  *http.Client
	headers http.Header
	logger  types.Logger
	limiter *rate.Limiter
}

// NewHTTPClient creates a new HTTP client with the given configuration
func NewHTTPClient(config *types.Config, logger types.Logger) *HTTPClient {
	client := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	return &HTTPClient{
		client:  client,
		headers: browserHeaders(config),
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func browserHeaders(config *types.Config) http.Header {
	h := http.Header{}
	h.Set("User-Agent", config.UserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", config.AcceptLanguage)
	h.Set("Accept-Encoding", "gzip, deflate")
	h.Set("DNT", "1")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

// Get fetches url once and returns the decoded body. Every failure is a *TransportError.
// There are no retries.
func (h *HTTPClient) Get(ctx context.Context, url string) (string, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return "", classify(url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &TransportError{Kind: TransportConnection, URL: url, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header = h.headers.Clone()

	h.logger.Debugf("Making request to %s", url)
	started := time.Now()

	resp, err := h.client.Do(req)
	if err != nil {
		return "", classify(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &TransportError{Kind: TransportStatus, URL: url, StatusCode: resp.StatusCode}
	}

	body, err := decodeBody(resp)
	if err != nil {
		return "", classify(url, fmt.Errorf("failed to read response body: %w", err))
	}

	h.logger.Debugf("Successfully retrieved %d bytes from %s in %v", len(body), url, time.Since(started))
	return string(body), nil
}

// decodeBody undoes the Content-Encoding we asked for. The transport only
// decompresses transparently when it set Accept-Encoding itself.
func decodeBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}
	return io.ReadAll(r)
}

func classify(url string, err error) *TransportError {
	kind := TransportConnection
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = TransportTimeout
	}
	return &TransportError{Kind: kind, URL: url, Err: err}
}

// Close cleans up resources
func (h *HTTPClient) Close() {
	h.client.CloseIdleConnections()
}
