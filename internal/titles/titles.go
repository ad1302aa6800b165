package titles

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/lotas/tabsync/internal/analyzer"
)

const maxPageBytes = 4 << 20

var fetchable = []string{"http://", "https://"}

// Fetcher derives tab titles from page content.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// NewFetcher returns a Fetcher whose requests give up after timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// Resolve fetches url and returns the article title. Pages without a
// usable title fall back to the domain title.
func (f *Fetcher) Resolve(ctx context.Context, url string) (string, error) {
	if !isFetchable(url) {
		return "", fmt.Errorf("skipping non-HTTP URL: %s", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxPageBytes), nil)
	if err != nil {
		return "", fmt.Errorf("extract title from %s: %w", url, err)
	}
	title := strings.Join(strings.Fields(article.Title), " ")
	if title == "" {
		return analyzer.DomainTitle(url), nil
	}
	return title, nil
}

func isFetchable(url string) bool {
	lower := strings.ToLower(url)
	for _, prefix := range fetchable {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
