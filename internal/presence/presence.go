// Package presence tracks typing indicators per (session, role).
package presence

import (
	"sync"
	"time"

	"github.com/psds-microservice/support-service/internal/clock"
	"github.com/psds-microservice/support-service/internal/model"
)

const (
	DefaultTypingTimeout  = 3 * time.Second
	DefaultTypingDebounce = time.Second
)

type key struct {
	sessionID string
	role      model.Role
}

type typingState struct {
	mu        sync.Mutex
	dead      bool
	lastTyped time.Time
	relayedAt time.Time
}

// Coordinator хранит отметки набора текста. Индикатор гаснет сам через
// timeout без явного "stop typing"; debounce ограничивает частоту relay.
type Coordinator struct {
	clock    clock.Clock
	timeout  time.Duration
	debounce time.Duration
	states   sync.Map
}

func New(clk clock.Clock, timeout, debounce time.Duration) *Coordinator {
	if clk == nil {
		clk = clock.Real()
	}
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if debounce < 0 {
		debounce = 0
	}
	return &Coordinator{clock: clk, timeout: timeout, debounce: debounce}
}

// SignalTyping records a typing signal and reports whether the peer should
// be notified now.
func (c *Coordinator) SignalTyping(sessionID string, role model.Role) (relay bool) {
	k := key{sessionID, role}
	for {
		v, _ := c.states.LoadOrStore(k, &typingState{})
		st := v.(*typingState)
		st.mu.Lock()
		if st.dead {
			st.mu.Unlock()
			continue
		}
		now := c.clock.Now()
		st.lastTyped = now
		if st.relayedAt.IsZero() || now.Sub(st.relayedAt) >= c.debounce {
			st.relayedAt = now
			relay = true
		}
		st.mu.Unlock()
		return relay
	}
}

func (c *Coordinator) IsTyping(sessionID string, role model.Role) bool {
	v, ok := c.states.Load(key{sessionID, role})
	if !ok {
		return false
	}
	st := v.(*typingState)
	st.mu.Lock()
	defer st.mu.Unlock()
	return !st.dead && c.clock.Now().Sub(st.lastTyped) < c.timeout
}

// Clear вызывается при отключении стороны сессии.
func (c *Coordinator) Clear(sessionID string, role model.Role) {
	k := key{sessionID, role}
	v, ok := c.states.Load(k)
	if !ok {
		return
	}
	st := v.(*typingState)
	st.mu.Lock()
	st.dead = true
	c.states.CompareAndDelete(k, st)
	st.mu.Unlock()
}

// Sweep drops expired entries and returns how many were removed.
func (c *Coordinator) Sweep() int {
	now := c.clock.Now()
	removed := 0
	c.states.Range(func(k, v any) bool {
		st := v.(*typingState)
		st.mu.Lock()
		if !st.dead && now.Sub(st.lastTyped) >= c.timeout {
			st.dead = true
			c.states.CompareAndDelete(k, st)
			removed++
		}
		st.mu.Unlock()
		return true
	})
	return removed
}

// Timeout is how long a typing indicator stays lit without a new signal.
func (c *Coordinator) Timeout() time.Duration { return c.timeout }
