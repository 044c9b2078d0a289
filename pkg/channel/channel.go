// Package channel is a typed publish/subscribe broadcaster for update
// notifications, filtered by category.
package channel

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/suprememoocow/textronics-monitor/pkg/types"
)

// UpdateCategory is the category every TexTronics update is published under.
const UpdateCategory = "textronics.update"

const defaultBuffer = 64

type Subscription struct {
	category string
	ch       chan types.Notification
	b        *Broadcaster
	once     sync.Once
}

// C returns the receive side. It is closed on Unsubscribe or when the
// broadcaster is closed.
func (s *Subscription) C() <-chan types.Notification {
	return s.ch
}

func (s *Subscription) Category() string {
	return s.category
}

// Unsubscribe is idempotent.
func (s *Subscription) Unsubscribe() {
	s.b.remove(s)
}

type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[*Subscription]bool
	closed bool
	log    logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Broadcaster {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Broadcaster{
		subs: make(map[*Subscription]bool),
		log:  log,
	}
}

// Subscribe registers interest in a category. A buffer of zero or less uses
// the default.
func (b *Broadcaster) Subscribe(category string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &Subscription{
		category: category,
		ch:       make(chan types.Notification, buffer),
		b:        b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	b.subs[s] = true
	return s
}

func (b *Broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
	s.once.Do(func() { close(s.ch) })
}

// Publish delivers n to every subscription of category and returns the
// number of subscriptions it reached. Subscribers that are too slow lose
// the message.
func (b *Broadcaster) Publish(category string, n types.Notification) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}

	delivered := 0
	for s := range b.subs {
		if s.category != category {
			continue
		}
		select {
		case s.ch <- n:
			delivered++
		default:
			b.log.WithFields(logrus.Fields{
				"category": category,
				"update":   n.Update.String(),
			}).Warn("subscriber too slow, dropping notification")
		}
	}
	return delivered
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Publishing afterwards is a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		s.once.Do(func() { close(s.ch) })
	}
}
