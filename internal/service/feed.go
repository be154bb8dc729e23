package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/psds-microservice/support-service/internal/events"
)

// Feed рассылает события тикетов подписчикам (SSE-дашборды саппортеров).
// Publish никогда не блокируется: подписчик с полным буфером теряет событие
// и получает флаг resync, после которого должен перечитать снимок.
type Feed struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

type Subscription struct {
	feed   *Feed
	ch     chan events.Event
	resync atomic.Bool
	once   sync.Once
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber with the given buffer size.
func (f *Feed) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscription{feed: f, ch: make(chan events.Event, buffer)}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub
}

func (f *Feed) Publish(_ context.Context, ev events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.resync.Store(true)
		}
	}
}

// Subscribers returns the current subscriber count.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// C returns the event channel. It is closed by Close.
func (s *Subscription) C() <-chan events.Event { return s.ch }

// TakeResync reports whether events were dropped since the last call and clears the flag.
func (s *Subscription) TakeResync() bool {
	return s.resync.Swap(false)
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		s.feed.mu.Unlock()
		close(s.ch)
	})
}
