// Package session tracks the live connections of every support session:
// at most one per (session, role).
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/support-service/internal/model"
)

// CloseReason объясняет, почему соединение закрывается сервером.
type CloseReason string

const (
	ReasonSuperseded        CloseReason = "superseded"
	ReasonEnded             CloseReason = "ended"
	ReasonProtocolViolation CloseReason = "protocol_violation"
	ReasonShutdown          CloseReason = "shutdown"
	ReasonSlowConsumer      CloseReason = "slow_consumer"
	ReasonReleased          CloseReason = "released"
	ReasonTransport         CloseReason = "transport_error"
)

// Handle: транспортная сторона соединения. Close не должен блокироваться:
// реестр вызывает его под блокировкой слота.
type Handle interface {
	Send(ctx context.Context, frame []byte) error
	Close(reason CloseReason)
}

type Connection struct {
	ID        string
	SessionID string
	Role      model.Role
	ActorID   int64
	Handle    Handle
	OpenedAt  time.Time
}

type slot struct {
	mu    sync.Mutex
	dead  bool
	conns map[model.Role]*Connection
}

// Registry хранит слоты по session_id. Глобальной блокировки нет: каждый
// слот защищён своим мьютексом, пустой слот помечается dead и удаляется.
type Registry struct {
	slots sync.Map
}

func NewRegistry() *Registry {
	return &Registry{}
}

// update runs fn under the session's slot lock, creating the slot if needed.
func (r *Registry) update(sessionID string, fn func(s *slot)) {
	for {
		v, _ := r.slots.LoadOrStore(sessionID, &slot{conns: make(map[model.Role]*Connection, 2)})
		s := v.(*slot)
		s.mu.Lock()
		if s.dead {
			s.mu.Unlock()
			continue
		}
		fn(s)
		if len(s.conns) == 0 {
			s.dead = true
			r.slots.CompareAndDelete(sessionID, s)
		}
		s.mu.Unlock()
		return
	}
}

func (r *Registry) view(sessionID string, fn func(s *slot)) {
	v, ok := r.slots.Load(sessionID)
	if !ok {
		return
	}
	s := v.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dead {
		fn(s)
	}
}

// Bind регистрирует новое соединение. Прежнее соединение той же роли
// закрывается с причиной Superseded до того, как новое станет видимым.
func (r *Registry) Bind(sessionID string, role model.Role, actorID int64, h Handle) *Connection {
	conn := &Connection{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		ActorID:   actorID,
		Handle:    h,
		OpenedAt:  time.Now(),
	}
	r.update(sessionID, func(s *slot) {
		if old := s.conns[role]; old != nil {
			old.Handle.Close(ReasonSuperseded)
		}
		s.conns[role] = conn
	})
	return conn
}

// Unbind removes whatever is bound for the role. Repeated calls are no-ops.
func (r *Registry) Unbind(sessionID string, role model.Role) *Connection {
	var removed *Connection
	r.update(sessionID, func(s *slot) {
		removed = s.conns[role]
		delete(s.conns, role)
	})
	return removed
}

// Release снимает conn только если оно всё ещё привязано: очистка
// вытесненного соединения не должна удалить его преемника.
func (r *Registry) Release(conn *Connection) bool {
	if conn == nil {
		return false
	}
	released := false
	r.update(conn.SessionID, func(s *slot) {
		if s.conns[conn.Role] == conn {
			delete(s.conns, conn.Role)
			released = true
		}
	})
	return released
}

func (r *Registry) Get(sessionID string, role model.Role) *Connection {
	var c *Connection
	r.view(sessionID, func(s *slot) { c = s.conns[role] })
	return c
}

func (r *Registry) Peer(sessionID string, role model.Role) *Connection {
	return r.Get(sessionID, role.Peer())
}

// Connections returns the live connections of a session, user first.
func (r *Registry) Connections(sessionID string) []*Connection {
	var out []*Connection
	r.view(sessionID, func(s *slot) {
		for _, role := range []model.Role{model.RoleUser, model.RoleSupporter} {
			if c := s.conns[role]; c != nil {
				out = append(out, c)
			}
		}
	})
	return out
}

func (r *Registry) Online(sessionID string) (user, supporter bool) {
	r.view(sessionID, func(s *slot) {
		user = s.conns[model.RoleUser] != nil
		supporter = s.conns[model.RoleSupporter] != nil
	})
	return user, supporter
}

// SessionCount: число сессий хотя бы с одним живым соединением.
func (r *Registry) SessionCount() int {
	n := 0
	r.slots.Range(func(_, v any) bool {
		s := v.(*slot)
		s.mu.Lock()
		if !s.dead && len(s.conns) > 0 {
			n++
		}
		s.mu.Unlock()
		return true
	})
	return n
}

// CloseAll closes every live handle. Entries are released by the owners'
// cleanup as their connections wind down.
func (r *Registry) CloseAll(reason CloseReason) int {
	n := 0
	r.slots.Range(func(_, v any) bool {
		s := v.(*slot)
		s.mu.Lock()
		for _, c := range s.conns {
			c.Handle.Close(reason)
			n++
		}
		s.mu.Unlock()
		return true
	})
	return n
}
