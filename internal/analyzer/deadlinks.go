package analyzer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lotas/tabsync/internal/types"
)

// DeadLink is a tab whose URL no longer resolves.
type DeadLink struct {
	Tab    types.Tab
	Reason string
}

func shouldSkip(url string) bool {
	return !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://")
}

// CheckLinks sends a HEAD request to every http(s) tab and returns those
// that are unreachable or answer 404/410, in input order.
func CheckLinks(ctx context.Context, tabs []types.Tab) []DeadLink {
	client := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	reasons := make([]string, len(tabs))
	sem := make(chan struct{}, 10)
	var wg sync.WaitGroup

	for i, tab := range tabs {
		if shouldSkip(tab.URL) {
			continue
		}

		wg.Add(1)
		go func(idx int, url string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
			if err != nil {
				reasons[idx] = "invalid URL"
				return
			}
			resp, err := client.Do(req)
			if err != nil {
				if ctx.Err() == nil {
					reasons[idx] = "unreachable"
				}
				return
			}
			resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
				reasons[idx] = fmt.Sprintf("%d", resp.StatusCode)
			}
		}(i, tab.URL)
	}
	wg.Wait()

	var dead []DeadLink
	for i, reason := range reasons {
		if reason != "" {
			dead = append(dead, DeadLink{Tab: tabs[i], Reason: reason})
		}
	}
	return dead
}
