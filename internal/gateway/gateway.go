package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/park285/Cheese-Arena/internal/arena"
	"github.com/park285/Cheese-Arena/internal/auth"
	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/hub"
	"github.com/park285/Cheese-Arena/internal/msgcat"
	"github.com/park285/Cheese-Arena/internal/obslog"
	"github.com/park285/Cheese-Arena/pkg/arenadto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

const maxFrameBytes = 4096

// Verifier resolves the handshake token to a user.
type Verifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

type Options struct {
	OriginPatterns []string
	SendQueue      int
	RatePerSec     float64
	RateBurst      int
	PingInterval   time.Duration
}

// Gateway admits realtime connections and drives the arena from their frames.
type Gateway struct {
	arena    *arena.Manager
	verifier Verifier
	reg      *hub.Registry
	router   *hub.Router
	msgs     *msgcat.Catalog
	opts     Options

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(a *arena.Manager, v Verifier, reg *hub.Registry, router *hub.Router, msgs *msgcat.Catalog, opts Options) *Gateway {
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	g := &Gateway{arena: a, verifier: v, reg: reg, router: router, msgs: msgs, opts: opts, stop: make(chan struct{})}
	a.SetCommitHook(g.publish)
	return g
}

// Shutdown closes every live connection and waits for their tasks to exit.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.stopOnce.Do(func() { close(g.stop) })
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{CompressionMode: websocket.CompressionNoContextTakeover}
	for _, o := range g.opts.OriginPatterns {
		if o == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
	}
	opts.OriginPatterns = g.opts.OriginPatterns
	return opts
}

// session is the state of one admitted connection.
type session struct {
	conn     *hub.Conn
	code     string
	userID   int64
	username string
	limiter  *rate.Limiter
}

// HandleRoom serves the realtime endpoint for the room in the {code} path variable.
func (g *Gateway) HandleRoom(w http.ResponseWriter, r *http.Request) {
	code := arena.NormalizeCode(mux.Vars(r)["code"])
	id, authErr := g.verifier.Verify(r.Context(), r.URL.Query().Get("token"))

	ws, err := websocket.Accept(w, r, g.acceptOptions())
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.String("game_code", code), zap.Error(err))
		return
	}
	if authErr != nil {
		obslog.L().Info("ws_refused", zap.String("game_code", code), zap.String("reason", "unauthorized"))
		_ = ws.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}
	game, err := g.arena.Retain(r.Context(), code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			obslog.L().Info("ws_refused", zap.String("game_code", code), zap.String("reason", "unknown room"))
			_ = ws.Close(websocket.StatusPolicyViolation, "unknown room")
			return
		}
		obslog.L().Error("ws_room_load_failed", zap.String("game_code", code), zap.Error(err))
		_ = ws.Close(websocket.StatusInternalError, "room unavailable")
		return
	}
	defer g.arena.Release(code)
	ws.SetReadLimit(maxFrameBytes)

	g.wg.Add(1)
	defer g.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-g.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	transport := newWSTransport(ws, g.opts.SendQueue)
	writerDone := make(chan struct{})
	go func() {
		transport.writeLoop(ctx)
		close(writerDone)
	}()
	go transport.pingLoop(ctx, g.opts.PingInterval)

	s := g.admit(ctx, code, id, game, transport)
	defer func() {
		g.leave(s, game)
		transport.Close("bye")
		<-writerDone
	}()
	// The read side never sees the shutdown signal: cancelling a read makes the
	// library close with its own status, and the writer owns the close.
	g.readLoop(context.WithoutCancel(ctx), ws, s)
}

// admit registers the connection and announces it. The closing GAME_UPDATE is
// read under the room turnstile after registration, so it is never older than
// an update the room has already seen.
func (g *Gateway) admit(ctx context.Context, code string, id auth.Identity, game *domain.Game, t hub.Transport) *session {
	reconnect := g.reg.UserConnections(code, id.UserID) > 0
	c := g.reg.Register(code, id.UserID, id.Username, t)
	side := game.SideOf(id.UserID)
	s := &session{
		conn:     c,
		code:     code,
		userID:   id.UserID,
		username: id.Username,
		limiter:  rate.NewLimiter(rate.Limit(g.opts.RatePerSec), g.opts.RateBurst),
	}
	obslog.L().Info("ws_connect", zap.String("conn_id", c.ID), zap.String("game_code", code), zap.Int64("user_id", id.UserID), zap.String("side", string(side)), zap.Bool("reconnect", reconnect))

	g.router.Send(c.ID, hub.Message{Type: arenadto.TypeConnected, Data: arenadto.Connected{
		ConnectionID: c.ID,
		GameCode:     code,
		UserID:       id.UserID,
		Side:         string(side),
		Message:      g.msgs.Text("ws.connected", map[string]any{"Code": code, "Side": side}, "connected"),
	}})
	g.router.BroadcastRoom(code, hub.Message{Type: arenadto.TypePlayerJoined, Data: arenadto.Presence{
		UserID:    id.UserID,
		Username:  id.Username,
		Side:      string(side),
		Reconnect: reconnect,
	}}, c.ID)
	err := g.arena.Observe(ctx, code, func(cur *domain.Game) {
		g.router.BroadcastRoom(code, updateMessage(cur, nil), "")
	})
	if err != nil {
		obslog.L().Warn("ws_admit_snapshot_failed", zap.String("conn_id", c.ID), zap.String("game_code", code), zap.Error(err))
	}
	return s
}

func (g *Gateway) leave(s *session, joined *domain.Game) {
	g.reg.Unregister(s.conn.ID)
	side := joined.SideOf(s.userID)
	if cur, err := g.arena.Snapshot(context.Background(), s.code); err == nil {
		side = cur.SideOf(s.userID)
	}
	still := g.reg.UserConnections(s.code, s.userID) > 0
	g.router.BroadcastRoom(s.code, hub.Message{Type: arenadto.TypePlayerLeft, Data: arenadto.Presence{
		UserID:         s.userID,
		Username:       s.username,
		Side:           string(side),
		StillConnected: still,
	}}, "")
	obslog.L().Info("ws_disconnect", zap.String("conn_id", s.conn.ID), zap.String("game_code", s.code), zap.Int64("user_id", s.userID))
}

func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, s *session) {
	for {
		typ, raw, err := ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				obslog.L().Debug("ws_read_end", zap.String("conn_id", s.conn.ID), zap.Error(err))
			}
			return
		}
		if !s.limiter.Allow() {
			g.sendError(s, arenadto.TypeError, "RATE_LIMITED", g.msgs.Text("ws.rate_limited", nil, "too many messages"))
			continue
		}
		var msg arenadto.ClientMessage
		if typ != websocket.MessageText || json.Unmarshal(raw, &msg) != nil {
			g.sendError(s, arenadto.TypeError, string(domain.CodeMalformedInput), g.msgs.Text("ws.bad_frame", nil, "bad frame"))
			continue
		}
		g.dispatch(ctx, s, msg)
	}
}

func (g *Gateway) dispatch(ctx context.Context, s *session, msg arenadto.ClientMessage) {
	switch strings.ToUpper(strings.TrimSpace(msg.Type)) {
	// Accepted moves and resignations reach the room through the commit hook.
	case arenadto.TypeMove:
		if _, err := g.arena.ApplyMove(ctx, s.code, s.userID, msg.From, msg.To, msg.Promotion); err != nil {
			g.reportError(s, err, msg)
		}
	case arenadto.TypeResign:
		if _, err := g.arena.Resign(ctx, s.code, s.userID); err != nil {
			g.reportError(s, err, msg)
		}
	case arenadto.TypeSync:
		game, err := g.arena.Snapshot(ctx, s.code)
		if err != nil {
			g.reportError(s, err, msg)
			return
		}
		g.router.Send(s.conn.ID, updateMessage(game, nil))
	default:
		g.sendError(s, arenadto.TypeError, "UNKNOWN_TYPE", g.msgs.Text("ws.unknown_type", map[string]any{"Type": msg.Type}, "unsupported message type"))
	}
}

// publish is the arena's commit hook: it runs under the room turnstile, so
// room broadcasts follow commit order.
func (g *Gateway) publish(ctx context.Context, game *domain.Game, last *domain.Move) {
	g.router.BroadcastRoom(game.Code, updateMessage(game, last), "")
	if game.Status.Terminal() {
		g.router.BroadcastRoom(game.Code, hub.Message{Type: arenadto.TypeGameEnd, Data: g.gameEnd(ctx, game)}, "")
	}
}

func (g *Gateway) gameEnd(ctx context.Context, game *domain.Game) arenadto.GameEnd {
	white, black := g.arena.Players(ctx, game)
	name := func(s domain.Side) string {
		if s == domain.SideWhite {
			return white
		}
		return black
	}
	end := arenadto.GameEnd{Method: strings.ToLower(string(game.Termination))}
	switch {
	case game.Status == domain.StatusAbandoned:
		end.Reason = g.msgs.Text("end.abandoned", nil, "abandoned")
	case game.Result == domain.ResultDraw:
		end.Winner = arenadto.DrawWinner
		end.Reason = g.msgs.Text("end.finished", map[string]any{"Method": end.Method}, end.Method)
	default:
		winner, _ := game.Result.Winner()
		end.Winner, end.Loser = name(winner), name(winner.Opponent())
		if game.Termination == domain.TerminationResignation {
			end.Reason = g.msgs.Text("end.resigned", map[string]any{"Username": end.Loser}, "resignation")
		} else {
			end.Reason = g.msgs.Text("end.finished", map[string]any{"Method": end.Method}, end.Method)
		}
	}
	return end
}

// moveErrors are the rejections reported as MOVE_INVALID rather than ERROR.
var moveErrors = map[domain.Code]bool{
	domain.CodeIllegalMove:     true,
	domain.CodeOutOfTurn:       true,
	domain.CodeMalformedInput:  true,
	domain.CodeInvalidState:    true,
	domain.CodeNotAParticipant: true,
}

func (g *Gateway) reportError(s *session, err error, msg arenadto.ClientMessage) {
	code := domain.CodeOf(err)
	if code == "" {
		obslog.L().Error("ws_dispatch_failed", zap.String("conn_id", s.conn.ID), zap.String("game_code", s.code), zap.Error(err))
		code = domain.CodePersistence
	}
	status := ""
	if game, serr := g.arena.Snapshot(context.Background(), s.code); serr == nil {
		status = string(game.Status)
	}
	text := g.msgs.Text("errors."+string(code), map[string]any{
		"Code":   s.code,
		"Status": status,
		"From":   strings.ToLower(msg.From),
		"To":     strings.ToLower(msg.To),
	}, err.Error())
	typ := arenadto.TypeError
	if strings.EqualFold(msg.Type, arenadto.TypeMove) && moveErrors[code] {
		typ = arenadto.TypeMoveInvalid
	}
	g.sendError(s, typ, string(code), text)
}

func (g *Gateway) sendError(s *session, typ, code, text string) {
	g.router.Send(s.conn.ID, hub.Message{Type: typ, Data: arenadto.ErrorBody{Code: code, Message: text}})
}

// Snapshot converts a room into its wire form.
func Snapshot(game *domain.Game, last *domain.Move) arenadto.Snapshot {
	snap := arenadto.Snapshot{
		GameCode:    game.Code,
		FEN:         game.Position,
		Turn:        string(game.Turn),
		Status:      string(game.Status),
		WhitePlayer: game.WhiteName,
		BlackPlayer: game.BlackName,
		Result:      string(game.Result),
		Termination: string(game.Termination),
		MoveCount:   game.MoveCount,
	}
	if last != nil {
		snap.LastMove = &arenadto.MoveRef{From: last.From, To: last.To, SAN: last.SAN, Promotion: last.Promotion}
	}
	return snap
}

func updateMessage(game *domain.Game, last *domain.Move) hub.Message {
	return hub.Message{Type: arenadto.TypeGameUpdate, Data: Snapshot(game, last), Seats: hub.SeatsOf(game)}
}
