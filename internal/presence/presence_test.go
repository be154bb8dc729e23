package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/support-service/internal/clock"
	"github.com/psds-microservice/support-service/internal/model"
	"github.com/stretchr/testify/assert"
)

func newCoordinator() (*Coordinator, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(clk, DefaultTypingTimeout, DefaultTypingDebounce), clk
}

func TestSignalTyping_Debounce(t *testing.T) {
	c, clk := newCoordinator()

	assert.True(t, c.SignalTyping("s", model.RoleUser))
	clk.Advance(300 * time.Millisecond)
	assert.False(t, c.SignalTyping("s", model.RoleUser))
	clk.Advance(300 * time.Millisecond)
	assert.False(t, c.SignalTyping("s", model.RoleUser))
	clk.Advance(400 * time.Millisecond)
	assert.True(t, c.SignalTyping("s", model.RoleUser))

	assert.True(t, c.SignalTyping("s", model.RoleSupporter), "roles debounce independently")
}

func TestIsTyping_ExpiresAfterTimeout(t *testing.T) {
	c, clk := newCoordinator()

	assert.False(t, c.IsTyping("s", model.RoleUser))
	c.SignalTyping("s", model.RoleUser)
	assert.True(t, c.IsTyping("s", model.RoleUser))
	assert.False(t, c.IsTyping("s", model.RoleSupporter))

	clk.Advance(2999 * time.Millisecond)
	assert.True(t, c.IsTyping("s", model.RoleUser))
	clk.Advance(time.Millisecond)
	assert.False(t, c.IsTyping("s", model.RoleUser))
}

func TestClearAndSweep(t *testing.T) {
	c, clk := newCoordinator()

	c.SignalTyping("a", model.RoleUser)
	c.SignalTyping("b", model.RoleUser)
	c.Clear("a", model.RoleUser)
	c.Clear("a", model.RoleUser)
	assert.False(t, c.IsTyping("a", model.RoleUser))
	assert.True(t, c.SignalTyping("a", model.RoleUser), "cleared state relays immediately")

	clk.Advance(time.Second)
	c.SignalTyping("b", model.RoleSupporter)
	clk.Advance(2500 * time.Millisecond)

	assert.Equal(t, 2, c.Sweep())
	assert.True(t, c.IsTyping("b", model.RoleSupporter))
	assert.Equal(t, 0, c.Sweep())
}

func TestSignalTyping_ConcurrentWithSweep(t *testing.T) {
	c, clk := newCoordinator()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.SignalTyping("s", model.RoleUser)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Sweep()
			}
		}()
	}
	wg.Wait()
	clk.Advance(time.Second)
	c.SignalTyping("s", model.RoleUser)
	assert.True(t, c.IsTyping("s", model.RoleUser))
}
