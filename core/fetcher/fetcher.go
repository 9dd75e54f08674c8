package fetcher

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrContentTooLarge is returned when a response body exceeds the configured limit.
var ErrContentTooLarge = errors.New("content too large")

// StatusError is returned for non-200 responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Kind classifies a fetched document.
type Kind string

const (
	KindHTML         Kind = "html"
	KindSitemapIndex Kind = "sitemap-index"
	KindURLSet       Kind = "sitemap-urlset"
)

// FetchResult contains the result of fetching a URL.
type FetchResult struct {
	URL          string
	Body         []byte
	ContentType  string
	LastModified time.Time
	StatusCode   int
	Kind         Kind
}

// Fetcher retrieves documents with a fixed identity header, timeout and size limit.
type Fetcher struct {
	client         *http.Client
	timeout        time.Duration
	userAgent      string
	maxContentSize int64
}

// NewFetcher creates a new fetcher. A nil client gets a transport bounded by timeout.
// Every fetch is bounded by timeout whatever client is used.
func NewFetcher(client *http.Client, timeout time.Duration, userAgent string, maxContentSize int64) *Fetcher {
	if client == nil {
		dialer := &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: timeout,
				MaxIdleConns:          10,
				IdleConnTimeout:       90 * time.Second,
			},
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (max 5)")
				}
				return nil
			},
		}
	}

	return &Fetcher{
		client:         client,
		timeout:        timeout,
		userAgent:      userAgent,
		maxContentSize: maxContentSize,
	}
}

// Fetch retrieves the body of urlStr and classifies it.
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) (*FetchResult, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: urlStr, StatusCode: resp.StatusCode}
	}

	result := &FetchResult{
		URL:         urlStr,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			result.LastModified = t
		}
	}

	body, err := f.readBody(resp.Body)
	if err != nil {
		return nil, err
	}
	result.Body = body
	result.Kind = Classify(body)

	return result, nil
}

func (f *Fetcher) readBody(body io.Reader) ([]byte, error) {
	if f.maxContentSize <= 0 {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(body, f.maxContentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.maxContentSize {
		return nil, fmt.Errorf("%w (exceeds %d bytes)", ErrContentTooLarge, f.maxContentSize)
	}
	return data, nil
}

// Classify inspects the root element of body, ignoring the declared content type.
// Anything that is not a sitemapindex or urlset XML document is treated as HTML.
func Classify(body []byte) Kind {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.Strict = false
	for {
		token, err := decoder.Token()
		if err != nil {
			return KindHTML
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		switch strings.ToLower(start.Name.Local) {
		case "sitemapindex":
			return KindSitemapIndex
		case "urlset":
			return KindURLSet
		default:
			return KindHTML
		}
	}
}
