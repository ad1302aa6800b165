package materialize

import (
	"context"
	"fmt"
	"sync"
)

// Headless is a Frames backend for front-ends that do not render pages,
// such as the terminal UI. It tracks handles and URLs only.
type Headless struct {
	mu   sync.Mutex
	next int
	live map[FrameHandle]string
}

// NewHeadless returns an empty Headless backend.
func NewHeadless() *Headless {
	return &Headless{live: make(map[FrameHandle]string)}
}

func (h *Headless) Materialize(_ context.Context, url string) (FrameHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	handle := FrameHandle(fmt.Sprintf("headless-%d", h.next))
	h.live[handle] = url
	return handle, nil
}

func (h *Headless) Navigate(_ context.Context, handle FrameHandle, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.live[handle]; !ok {
		return fmt.Errorf("navigate %s: %w", handle, ErrNotMaterialized)
	}
	h.live[handle] = url
	return nil
}

func (h *Headless) Destroy(_ context.Context, handle FrameHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.live, handle)
	return nil
}

// URL returns the page a frame shows.
func (h *Headless) URL(handle FrameHandle) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	url, ok := h.live[handle]
	return url, ok
}

// Len returns the number of live frames.
func (h *Headless) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}
