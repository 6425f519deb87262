package arenaclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/Cheese-Arena/pkg/arenadto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type MessageCallback func(frame *arenadto.Frame)

// WebSocket is a single realtime session with one room. It does not reconnect.
type WebSocket struct {
	url          string
	pingInterval time.Duration

	conn *websocket.Conn
	wmu  sync.Mutex

	cbs   []callbackEntry
	cbM   sync.RWMutex
	cbSeq int

	closeErr error
	errM     sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

type callbackEntry struct {
	id       int
	callback MessageCallback
}

func NewWebSocket(wsURL string) *WebSocket {
	return &WebSocket{url: wsURL, pingInterval: 30 * time.Second, stopCh: make(chan struct{})}
}

// SetPingInterval changes the keepalive period; zero disables pings.
func (ws *WebSocket) SetPingInterval(d time.Duration) { ws.pingInterval = d }

func (ws *WebSocket) Connect(ctx context.Context) error {
	if ws.conn != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, ws.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return err
	}
	ws.conn = conn
	ws.rootCtx, ws.rootCancel = context.WithCancel(context.Background())
	ws.wg.Add(1)
	go ws.listen()
	if ws.pingInterval > 0 {
		ws.wg.Add(1)
		go ws.pingLoop()
	}
	return nil
}

func (ws *WebSocket) listen() {
	defer ws.wg.Done()
	defer ws.stopOnce.Do(func() { close(ws.stopCh) })
	for {
		var frame arenadto.Frame
		if err := wsjson.Read(ws.rootCtx, ws.conn, &frame); err != nil {
			ws.errM.Lock()
			ws.closeErr = err
			ws.errM.Unlock()
			return
		}
		ws.cbM.RLock()
		callbacks := make([]callbackEntry, len(ws.cbs))
		copy(callbacks, ws.cbs)
		ws.cbM.RUnlock()
		for _, entry := range callbacks {
			entry.callback(&frame)
		}
	}
}

func (ws *WebSocket) pingLoop() {
	defer ws.wg.Done()
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ws.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(ws.rootCtx, 3*time.Second)
			err := ws.conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			if failures++; failures >= 2 {
				_ = ws.conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (ws *WebSocket) OnMessage(cb MessageCallback) int {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.cbSeq++
	ws.cbs = append(ws.cbs, callbackEntry{id: ws.cbSeq, callback: cb})
	return ws.cbSeq
}

func (ws *WebSocket) RemoveMessageCallback(id int) {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	for i, cb := range ws.cbs {
		if cb.id == id {
			ws.cbs = append(ws.cbs[:i], ws.cbs[i+1:]...)
			break
		}
	}
}

func (ws *WebSocket) send(ctx context.Context, msg arenadto.ClientMessage) error {
	if ws.conn == nil {
		return errors.New("not connected")
	}
	ws.wmu.Lock()
	defer ws.wmu.Unlock()
	return wsjson.Write(ctx, ws.conn, msg)
}

func (ws *WebSocket) SendMove(ctx context.Context, from, to, promotion string) error {
	return ws.send(ctx, arenadto.ClientMessage{Type: arenadto.TypeMove, From: from, To: to, Promotion: promotion})
}

func (ws *WebSocket) Resign(ctx context.Context) error {
	return ws.send(ctx, arenadto.ClientMessage{Type: arenadto.TypeResign})
}

func (ws *WebSocket) Sync(ctx context.Context) error {
	return ws.send(ctx, arenadto.ClientMessage{Type: arenadto.TypeSync})
}

// Done is closed once the read side has ended.
func (ws *WebSocket) Done() <-chan struct{} { return ws.stopCh }

// CloseStatus reports the close code the server sent, or -1.
func (ws *WebSocket) CloseStatus() websocket.StatusCode {
	ws.errM.Lock()
	defer ws.errM.Unlock()
	return websocket.CloseStatus(ws.closeErr)
}

func (ws *WebSocket) Close(ctx context.Context) error {
	if ws.conn == nil {
		return nil
	}
	_ = ws.conn.Close(websocket.StatusNormalClosure, "close")
	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		ws.rootCancel()
		return nil
	}
}
