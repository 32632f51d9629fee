// Package events is the in-process change feed between the entity store and
// derived views. Writers publish after a successful commit; subscribers get a
// signal and re-read whatever snapshot they need.
package events

import (
	"context"
	"sync"
	"time"
)

type Topic string

const (
	TopicCategories    Topic = "categories"
	TopicTransactions  Topic = "transactions"
	TopicBudgets       Topic = "budgets"
	TopicNotifications Topic = "notifications"
	TopicPreferences   Topic = "preferences"
)

type Event struct {
	Topic Topic
	ID    int64
	At    time.Time
}

type subscriber struct {
	topics map[Topic]struct{}
	ch     chan Event
}

// Bus fans events out to subscribers. The zero value is not usable; use NewBus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel receiving events for the given topics (all
// topics when none are given). The channel is closed once ctx is done.
//
// Each subscriber holds at most one undelivered event. Events published while
// one is pending are dropped; readers reload a full snapshot anyway.
func (b *Bus) Subscribe(ctx context.Context, topics ...Topic) <-chan Event {
	s := &subscriber{
		topics: make(map[Topic]struct{}, len(topics)),
		ch:     make(chan Event, 1),
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(s)
	}()

	return s.ch
}

// Publish delivers e to every interested subscriber without blocking.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		if len(s.topics) > 0 {
			if _, ok := s.topics[e.Topic]; !ok {
				continue
			}
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscription and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}

func (b *Bus) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}
