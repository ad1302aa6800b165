package eventbus

import (
	"sync"

	"github.com/lotas/tabsync/internal/applog"
	"github.com/lotas/tabsync/internal/types"
)

// Navigation is emitted whenever a tab is activated or navigated. It is the
// only event the engine publishes to the UI layer.
type Navigation struct {
	TabID types.LocalID `json:"tabId"`
	Title string        `json:"title"`
	URL   string        `json:"url"`
}

// Notice is a user-facing, dismissable failure message.
type Notice struct {
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// Bus fans navigation events and notices out to subscribers. Publishing
// never blocks: slow subscribers drop events.
type Bus struct {
	mu      sync.Mutex
	nav     map[chan Navigation]struct{}
	notices map[chan Notice]struct{}
	depth   int
}

// New constructs a Bus.
func New() *Bus {
	return &Bus{
		nav:     make(map[chan Navigation]struct{}),
		notices: make(map[chan Notice]struct{}),
		depth:   64,
	}
}

// Subscribe registers a navigation listener and returns its channel and a
// cancel func that closes it.
func (b *Bus) Subscribe() (<-chan Navigation, func()) {
	ch := make(chan Navigation, b.depth)
	b.mu.Lock()
	b.nav[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.nav, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// SubscribeNotices registers a listener for user-facing notices.
func (b *Bus) SubscribeNotices() (<-chan Notice, func()) {
	ch := make(chan Notice, b.depth)
	b.mu.Lock()
	b.notices[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.notices, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers a navigation event to every subscriber.
func (b *Bus) Publish(ev Navigation) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	for ch := range b.nav {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		applog.Info("eventbus.dropped", "tab", ev.TabID, "subscribers", dropped)
	}
}

// Notify delivers a notice to every notice subscriber.
func (b *Bus) Notify(n Notice) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.notices {
		select {
		case ch <- n:
		default:
		}
	}
}
