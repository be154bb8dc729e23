package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/psds-microservice/support-service/internal/errs"
	"github.com/psds-microservice/support-service/internal/logging"
	"github.com/psds-microservice/support-service/internal/service"
	"github.com/psds-microservice/support-service/internal/session"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound frame size: самое длинное допустимое сообщение в
	// 4-байтовом UTF-8 плюс запас на JSON-обёртку и экранирование.
	maxMessageSize = 4*service.MaxMessageLength + 1024

	// CloseSuperseded and CloseReleased are application close codes (4000-4999).
	CloseSuperseded = 4000
	CloseReleased   = 4001
)

// CloseCode maps a server close reason onto the websocket close code.
func CloseCode(r session.CloseReason) int {
	switch r {
	case session.ReasonSuperseded:
		return CloseSuperseded
	case session.ReasonReleased:
		return CloseReleased
	case session.ReasonEnded:
		return websocket.CloseNormalClosure
	case session.ReasonProtocolViolation:
		return websocket.ClosePolicyViolation
	case session.ReasonShutdown:
		return websocket.CloseGoingAway
	case session.ReasonSlowConsumer:
		return websocket.CloseTryAgainLater
	default:
		return websocket.CloseInternalServerErr
	}
}

// wsConn: session.Handle поверх gorilla/websocket. Писать в сокет может
// только writeLoop; остальные горутины кладут фреймы в очередь send.
type wsConn struct {
	ws   *websocket.Conn
	send chan []byte
	log  *slog.Logger

	closing   chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	reason    session.CloseReason

	done chan struct{}
}

func newWSConn(ws *websocket.Conn, queue int, log *slog.Logger) *wsConn {
	return &wsConn{
		ws:      ws,
		send:    make(chan []byte, queue),
		log:     log,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Send queues a frame, waiting for room until ctx expires.
func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.closing:
		return fmt.Errorf("%w: connection closing", errs.ErrTransport)
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.closing:
		return fmt.Errorf("%w: connection closing", errs.ErrTransport)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", errs.ErrRelayTimeout, ctx.Err())
	}
}

// TrySend queues a frame only if there is room. Used for droppable frames.
func (c *wsConn) TrySend(frame []byte) bool {
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *wsConn) Close(reason session.CloseReason) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.closing)
	})
}

func (c *wsConn) closeReason() session.CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *wsConn) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

// writeLoop отправляет очередь, пингует клиента и при закрытии дописывает
// уже поставленные фреймы перед close-фреймом.
func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.log.Debug("websocket write failed", logging.Err(err))
				c.Close(session.ReasonTransport)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(session.ReasonTransport)
				return
			}
		case <-c.closing:
			c.drain()
			return
		}
	}
}

func (c *wsConn) drain() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			reason := c.closeReason()
			if reason == session.ReasonTransport {
				return
			}
			msg := websocket.FormatCloseMessage(CloseCode(reason), string(reason))
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}
