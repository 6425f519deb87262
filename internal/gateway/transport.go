package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/Cheese-Arena/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

var (
	errTransportClosed = errors.New("transport closed")
	errQueueFull       = errors.New("send queue full")
)

const writeTimeout = 10 * time.Second

// wsTransport owns the write side of one socket: frames are queued and a
// single writer goroutine drains them.
type wsTransport struct {
	conn  *websocket.Conn
	queue chan []byte
	done  chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	status    websocket.StatusCode
	reason    string
}

func newWSTransport(conn *websocket.Conn, queueSize int) *wsTransport {
	if queueSize <= 0 {
		queueSize = 32
	}
	return &wsTransport{
		conn:   conn,
		queue:  make(chan []byte, queueSize),
		done:   make(chan struct{}),
		status: websocket.StatusNormalClosure,
	}
}

func (t *wsTransport) Send(payload []byte) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	select {
	case t.queue <- payload:
		return nil
	default:
		return errQueueFull
	}
}

func (t *wsTransport) Close(reason string) { t.closeWith(websocket.StatusGoingAway, reason) }

func (t *wsTransport) closeWith(status websocket.StatusCode, reason string) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.status, t.reason = status, reason
		t.mu.Unlock()
		close(t.done)
	})
}

// writeLoop sends queued frames until the transport is closed, then closes the socket.
func (t *wsTransport) writeLoop(ctx context.Context) {
	defer func() {
		t.mu.Lock()
		status, reason := t.status, t.reason
		t.mu.Unlock()
		_ = t.conn.Close(status, reason)
	}()
	for {
		select {
		case <-t.done:
			t.flush(ctx)
			return
		case <-ctx.Done():
			t.closeWith(websocket.StatusGoingAway, "server shutdown")
			return
		case p := <-t.queue:
			if err := t.write(ctx, p); err != nil {
				obslog.L().Debug("ws_write_failed", zap.Error(err))
				t.closeWith(websocket.StatusGoingAway, "write failed")
				return
			}
		}
	}
}

// flush writes what is already queued so a closing peer still sees the last frames.
func (t *wsTransport) flush(ctx context.Context) {
	for {
		select {
		case p := <-t.queue:
			if t.write(ctx, p) != nil {
				return
			}
		default:
			return
		}
	}
}

func (t *wsTransport) write(ctx context.Context, p []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return t.conn.Write(wctx, websocket.MessageText, p)
}

// pingLoop closes the transport after two consecutive failed pings.
func (t *wsTransport) pingLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-t.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := t.conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				t.closeWith(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}
