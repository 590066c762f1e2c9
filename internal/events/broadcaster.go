// Package events fans change notifications out to connected transports.
package events

import (
	"sync"

	"github.com/codedesk/vfsd/internal/metrics"
	"github.com/codedesk/vfsd/pkg/models"
)

// Event carries the new snapshot after an externally introduced change.
type Event struct {
	Tree []*models.TreeNode
}

// Broadcaster manages subscribers and publishes change events to all of
// them.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	close(ch)
	b.mu.Unlock()
}

// Publish sends the new tree to all subscribers. Non-blocking: drops the
// event for slow consumers, who will catch up on the next change.
func (b *Broadcaster) Publish(tree []*models.TreeNode) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- Event{Tree: tree}:
			metrics.RecordPushEvent()
		default:
			// Drop event for slow consumer
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
