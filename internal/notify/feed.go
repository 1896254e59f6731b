// Package notify implements the outbound notification channel: a bounded
// in-memory feed of (value, origin) pushes that a front-end drains at its
// own pace. Under the streamed collection strategy this feed is where
// every follower report ends up.
package notify

import (
	"sync"
	"time"

	"github.com/dreamware/splitsync/internal/protocol"
	"github.com/dreamware/splitsync/internal/settings"
)

// Notification is one pushed settings observation.
type Notification struct {
	Value  settings.Value  `json:"value"`
	Origin protocol.NodeID `json:"origin"`
	At     time.Time       `json:"at"`
}

// DefaultCapacity bounds the feed when no explicit capacity is given.
const DefaultCapacity = 64

// Feed is a bounded FIFO of notifications. When full, the oldest entry is
// dropped; a slow consumer loses history, never blocks a publisher.
//
// Feed implements engine.Notifier.
type Feed struct {
	mu  sync.Mutex
	buf []Notification
	cap int
}

// NewFeed creates a feed holding at most capacity entries.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{cap: capacity}
}

// Notify appends one notification, evicting the oldest when full.
func (f *Feed) Notify(v settings.Value, origin protocol.NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.buf) >= f.cap {
		f.buf = f.buf[1:]
	}
	f.buf = append(f.buf, Notification{Value: v, Origin: origin, At: time.Now()})
}

// Drain returns all pending notifications and empties the feed.
func (f *Feed) Drain() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.buf
	f.buf = nil
	return out
}

// Len reports how many notifications are pending.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}
