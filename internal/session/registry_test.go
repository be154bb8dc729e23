package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/psds-microservice/support-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	mu      sync.Mutex
	reasons []CloseReason
}

func (h *fakeHandle) Send(context.Context, []byte) error { return nil }

func (h *fakeHandle) Close(reason CloseReason) {
	h.mu.Lock()
	h.reasons = append(h.reasons, reason)
	h.mu.Unlock()
}

func (h *fakeHandle) closed() []CloseReason {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]CloseReason(nil), h.reasons...)
}

func TestBind_SupersedesSameRole(t *testing.T) {
	r := NewRegistry()
	first, second := &fakeHandle{}, &fakeHandle{}

	c1 := r.Bind("s1", model.RoleUser, 0, first)
	c2 := r.Bind("s1", model.RoleUser, 0, second)

	assert.Equal(t, []CloseReason{ReasonSuperseded}, first.closed())
	assert.Empty(t, second.closed())
	assert.Same(t, c2, r.Get("s1", model.RoleUser))
	assert.NotEqual(t, c1.ID, c2.ID)
}

func TestBind_RolesAreIndependent(t *testing.T) {
	r := NewRegistry()
	user, sup := &fakeHandle{}, &fakeHandle{}

	r.Bind("s1", model.RoleUser, 0, user)
	sc := r.Bind("s1", model.RoleSupporter, 42, sup)

	assert.Empty(t, user.closed())
	assert.Same(t, sc, r.Peer("s1", model.RoleUser))
	assert.Equal(t, int64(42), sc.ActorID)
	u, s := r.Online("s1")
	assert.True(t, u)
	assert.True(t, s)
	assert.Len(t, r.Connections("s1"), 2)
	assert.Equal(t, model.RoleUser, r.Connections("s1")[0].Role)

	u, s = r.Online("other")
	assert.False(t, u)
	assert.False(t, s)
}

func TestRelease_OnlyRemovesCurrentBinding(t *testing.T) {
	r := NewRegistry()
	old := r.Bind("s1", model.RoleUser, 0, &fakeHandle{})
	current := r.Bind("s1", model.RoleUser, 0, &fakeHandle{})

	assert.False(t, r.Release(old), "superseded connection must not evict its successor")
	assert.Same(t, current, r.Get("s1", model.RoleUser))

	assert.True(t, r.Release(current))
	assert.Nil(t, r.Get("s1", model.RoleUser))
	assert.False(t, r.Release(current))
	assert.Equal(t, 0, r.SessionCount())
}

func TestUnbind_Idempotent(t *testing.T) {
	r := NewRegistry()
	c := r.Bind("s1", model.RoleSupporter, 1, &fakeHandle{})

	assert.Same(t, c, r.Unbind("s1", model.RoleSupporter))
	assert.Nil(t, r.Unbind("s1", model.RoleSupporter))
	assert.Nil(t, r.Unbind("never", model.RoleUser))
	assert.Equal(t, 0, r.SessionCount())
}

func TestBind_ConcurrentLeavesExactlyOne(t *testing.T) {
	r := NewRegistry()
	const n = 50
	handles := make([]*fakeHandle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		handles[i] = &fakeHandle{}
		wg.Add(1)
		go func(h *fakeHandle) {
			defer wg.Done()
			r.Bind("s1", model.RoleUser, 0, h)
		}(handles[i])
	}
	wg.Wait()

	bound := r.Get("s1", model.RoleUser)
	require.NotNil(t, bound)
	open := 0
	for _, h := range handles {
		if len(h.closed()) == 0 {
			open++
			assert.Same(t, h, bound.Handle)
		} else {
			assert.Equal(t, []CloseReason{ReasonSuperseded}, h.closed())
		}
	}
	assert.Equal(t, 1, open)
}

func TestRegistry_ConcurrentSessionsChurn(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := fmt.Sprintf("s%d", i%5)
			for j := 0; j < 100; j++ {
				c := r.Bind(sid, model.RoleUser, 0, &fakeHandle{})
				r.Release(c)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.SessionCount())
}

func TestCloseAll(t *testing.T) {
	r := NewRegistry()
	a, b, c := &fakeHandle{}, &fakeHandle{}, &fakeHandle{}
	r.Bind("s1", model.RoleUser, 0, a)
	r.Bind("s1", model.RoleSupporter, 1, b)
	r.Bind("s2", model.RoleUser, 0, c)

	assert.Equal(t, 3, r.CloseAll(ReasonShutdown))
	for _, h := range []*fakeHandle{a, b, c} {
		assert.Equal(t, []CloseReason{ReasonShutdown}, h.closed())
	}
	assert.Equal(t, 2, r.SessionCount())
}
