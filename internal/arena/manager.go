package arena

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/obslog"
	"github.com/park285/Cheese-Arena/internal/rules"
	"github.com/park285/Cheese-Arena/internal/store"
	"go.uber.org/zap"
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
	codeAttempts = 5
)

// Store is the slice of the persistence layer the arena depends on.
type Store interface {
	CreateGame(ctx context.Context, g *domain.Game) error
	FindGameByCode(ctx context.Context, code string) (*domain.Game, error)
	GameCodeExists(ctx context.Context, code string) (bool, error)
	ListMoves(ctx context.Context, code string) ([]*domain.Move, error)
	Commit(ctx context.Context, tr store.Transition) error
	FindUserByID(ctx context.Context, id int64) (*domain.User, error)
}

// room is one live entry. game is guarded by the turnstile; refs and pins by Manager.mu.
type room struct {
	turnstile chan struct{}
	game      *domain.Game
	refs      int
	pins      int
}

// Manager owns the authoritative in-memory record of every live room and
// serializes mutations per room code.
type Manager struct {
	store  Store
	engine rules.Engine
	now    func() time.Time
	codes  func() (string, error)

	mu    sync.Mutex
	rooms map[string]*room
	hook  CommitHook
}

// CommitHook sees every committed transition while the room's turnstile is
// still held, so hooks for one room run in commit order.
type CommitHook func(ctx context.Context, g *domain.Game, mv *domain.Move)

// SetCommitHook installs h; nil removes it.
func (m *Manager) SetCommitHook(h CommitHook) {
	m.mu.Lock()
	m.hook = h
	m.mu.Unlock()
}

type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithCodeGenerator overrides room code generation.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(m *Manager) { m.codes = gen }
}

func NewManager(s Store, engine rules.Engine, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		engine: engine,
		now:    time.Now,
		codes:  func() (string, error) { return gonanoid.Generate(codeAlphabet, codeLength) },
		rooms:  make(map[string]*room),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// NormalizeCode trims and upper-cases a user-supplied room code.
func NormalizeCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

// MoveResult is an accepted move together with the room after it.
type MoveResult struct {
	Game *domain.Game
	Move *domain.Move
}

// acquire takes the room's turnstile, creating the entry on first use.
func (m *Manager) acquire(ctx context.Context, code string) (*room, error) {
	m.mu.Lock()
	r, ok := m.rooms[code]
	if !ok {
		r = &room{turnstile: make(chan struct{}, 1)}
		m.rooms[code] = r
	}
	r.refs++
	m.mu.Unlock()

	select {
	case r.turnstile <- struct{}{}:
		return r, nil
	case <-ctx.Done():
		m.unref(code, r)
		return nil, ctx.Err()
	}
}

func (m *Manager) release(code string, r *room) {
	<-r.turnstile
	m.unref(code, r)
}

func (m *Manager) unref(code string, r *room) {
	m.mu.Lock()
	r.refs--
	m.evictLocked(code, r)
	m.mu.Unlock()
}

// evictLocked drops an entry nobody holds once its game is missing or over.
// With refs at zero no goroutine owns the turnstile, so reading game is safe.
func (m *Manager) evictLocked(code string, r *room) {
	if r.refs > 0 || r.pins > 0 {
		return
	}
	if r.game == nil || r.game.Status.Terminal() {
		if m.rooms[code] == r {
			delete(m.rooms, code)
		}
	}
}

// withRoom runs fn holding the room's turnstile with its game loaded.
func (m *Manager) withRoom(ctx context.Context, code string, fn func(r *room) error) error {
	code = NormalizeCode(code)
	if code == "" {
		return domain.Errorf(domain.CodeNotFound, "game code is required")
	}
	r, err := m.acquire(ctx, code)
	if err != nil {
		return err
	}
	defer m.release(code, r)
	if r.game == nil {
		g, err := m.store.FindGameByCode(ctx, code)
		if err != nil {
			return domain.Wrap(domain.CodePersistence, err, "load game")
		}
		if g == nil {
			return domain.Errorf(domain.CodeNotFound, "game %s not found", code)
		}
		r.game = g
	}
	return fn(r)
}

// commit persists next and installs it only when the store accepted it.
func (m *Manager) commit(ctx context.Context, r *room, tr store.Transition) error {
	if err := m.store.Commit(ctx, tr); err != nil {
		obslog.L().Error("arena_commit_failed", zap.String("game_code", tr.Game.Code), zap.Error(err))
		return domain.Wrap(domain.CodePersistence, err, "save game")
	}
	r.game = tr.Game

	m.mu.Lock()
	hook := m.hook
	m.mu.Unlock()
	if hook != nil {
		hook(ctx, tr.Game.Clone(), tr.Move)
	}
	return nil
}

// Create opens a WAITING room with the creator as white.
func (m *Manager) Create(ctx context.Context, creatorID int64) (*domain.Game, error) {
	creator, err := m.store.FindUserByID(ctx, creatorID)
	if err != nil {
		return nil, domain.Wrap(domain.CodePersistence, err, "load creator")
	}
	if creator == nil {
		return nil, domain.Errorf(domain.CodeNotFound, "user %d not found", creatorID)
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := m.codes()
		if err != nil {
			return nil, domain.Wrap(domain.CodePersistence, err, "generate game code")
		}
		code = NormalizeCode(code)

		m.mu.Lock()
		_, live := m.rooms[code]
		m.mu.Unlock()
		if live {
			continue
		}
		exists, err := m.store.GameCodeExists(ctx, code)
		if err != nil {
			return nil, domain.Wrap(domain.CodePersistence, err, "check game code")
		}
		if exists {
			continue
		}

		g := &domain.Game{
			Code:      code,
			WhiteID:   creator.ID,
			WhiteName: creator.Username,
			Position:  rules.StartPosition,
			Turn:      domain.SideWhite,
			Status:    domain.StatusWaiting,
			CreatedAt: m.now(),
		}
		if err := m.store.CreateGame(ctx, g); err != nil {
			if errors.Is(err, store.ErrDuplicateGame) {
				continue
			}
			return nil, domain.Wrap(domain.CodePersistence, err, "create game")
		}

		m.mu.Lock()
		if _, taken := m.rooms[code]; !taken {
			m.rooms[code] = &room{turnstile: make(chan struct{}, 1), game: g.Clone()}
		}
		m.mu.Unlock()

		obslog.L().Info("arena_game_create", zap.String("game_code", code), zap.Int64("user_id", creator.ID), zap.Int("attempt", attempt+1))
		return g, nil
	}
	return nil, domain.Errorf(domain.CodePersistence, "could not allocate a unique game code after %d attempts", codeAttempts)
}

// Join seats userID as black and activates the room.
func (m *Manager) Join(ctx context.Context, code string, userID int64) (*domain.Game, error) {
	var out *domain.Game
	err := m.withRoom(ctx, code, func(r *room) error {
		g := r.game
		if g.Status != domain.StatusWaiting {
			return domain.Errorf(domain.CodeInvalidState, "game %s is %s", g.Code, g.Status)
		}
		if g.WhiteID == userID {
			return domain.Errorf(domain.CodeSelfJoin, "cannot join your own game")
		}
		u, err := m.store.FindUserByID(ctx, userID)
		if err != nil {
			return domain.Wrap(domain.CodePersistence, err, "load user")
		}
		if u == nil {
			return domain.Errorf(domain.CodeNotFound, "user %d not found", userID)
		}

		next := g.Clone()
		next.BlackID, next.BlackName = u.ID, u.Username
		next.Status = domain.StatusActive
		if err := m.commit(ctx, r, store.Transition{Game: next}); err != nil {
			return err
		}
		out = next.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("arena_join", zap.String("game_code", out.Code), zap.Int64("user_id", userID))
	return out, nil
}

// ApplyMove validates and applies one move. On any error the room is left as it was.
func (m *Manager) ApplyMove(ctx context.Context, code string, userID int64, from, to, promotion string) (*MoveResult, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	promotion = strings.ToLower(strings.TrimSpace(promotion))

	var res *MoveResult
	err := m.withRoom(ctx, code, func(r *room) error {
		g := r.game
		if g.Status != domain.StatusActive {
			return domain.Errorf(domain.CodeInvalidState, "game %s is %s", g.Code, g.Status)
		}
		side := g.SideOf(userID)
		if side == domain.SideSpectator {
			return domain.Errorf(domain.CodeNotAParticipant, "user %d does not play in %s", userID, g.Code)
		}
		if side != g.Turn {
			return domain.Errorf(domain.CodeOutOfTurn, "it is %s to move", g.Turn)
		}
		if !rules.ValidSquare(from) || !rules.ValidSquare(to) || !rules.ValidPromotion(promotion) {
			return domain.Errorf(domain.CodeMalformedInput, "bad move %q-%q", from, to)
		}

		out, err := m.engine.TryMove(g.Position, from, to, promotion)
		if err != nil {
			return domain.Wrap(domain.CodeIllegalMove, err, from+to+promotion+" is not legal")
		}

		now := m.now()
		next := g.Clone()
		next.Position = out.Position
		next.Turn = side.Opponent()
		next.LastMoveAt = &now
		next.MoveCount++
		mv := &domain.Move{
			GameCode:  g.Code,
			From:      from,
			To:        to,
			Piece:     out.Piece,
			Captured:  out.Captured,
			Promotion: out.Promotion,
			SAN:       out.SAN,
			PlayedAt:  now,
		}
		if out.Terminal != rules.TerminalNone {
			next.Status = domain.StatusFinished
			next.Termination = out.Terminal.Termination()
			next.Result = domain.ResultDraw
			if out.Terminal == rules.TerminalCheckmate {
				next.Result = domain.WinFor(out.Winner)
			}
		}
		if err := m.commit(ctx, r, store.Transition{Game: next, Move: mv, Stats: domain.StatsFor(next)}); err != nil {
			return err
		}
		res = &MoveResult{Game: next.Clone(), Move: mv}
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("arena_move",
		zap.String("game_code", res.Game.Code),
		zap.Int64("user_id", userID),
		zap.Int("seq", res.Move.Seq),
		zap.String("san", res.Move.SAN),
		zap.String("status", string(res.Game.Status)),
	)
	return res, nil
}

// Resign ends the room for userID. Before an opponent joins it abandons the room;
// afterwards the opponent wins.
func (m *Manager) Resign(ctx context.Context, code string, userID int64) (*domain.Game, error) {
	var out *domain.Game
	err := m.withRoom(ctx, code, func(r *room) error {
		g := r.game
		if g.Status.Terminal() {
			return domain.Errorf(domain.CodeInvalidState, "game %s is %s", g.Code, g.Status)
		}
		side := g.SideOf(userID)
		if side == domain.SideSpectator {
			return domain.Errorf(domain.CodeNotAParticipant, "user %d does not play in %s", userID, g.Code)
		}
		next := g.Clone()
		if g.Status == domain.StatusWaiting {
			next.Status = domain.StatusAbandoned
			next.Result = domain.ResultAbandoned
			next.Termination = domain.TerminationAbandonment
		} else {
			next.Status = domain.StatusFinished
			next.Result = domain.WinFor(side.Opponent())
			next.Termination = domain.TerminationResignation
		}
		if err := m.commit(ctx, r, store.Transition{Game: next, Stats: domain.StatsFor(next)}); err != nil {
			return err
		}
		out = next.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("arena_resign", zap.String("game_code", out.Code), zap.Int64("user_id", userID), zap.String("result", string(out.Result)))
	return out, nil
}

// Abandon force-closes a live room without touching ratings. A room abandoned
// while ACTIVE keeps its black seat: the ACTIVE to ABANDONED edge is allowed,
// so "black seated implies ACTIVE or FINISHED" does not hold for ABANDONED rooms.
// Rooms abandoned while WAITING never had a black seat.
func (m *Manager) Abandon(ctx context.Context, code string) (*domain.Game, error) {
	var out *domain.Game
	err := m.withRoom(ctx, code, func(r *room) error {
		if r.game.Status.Terminal() {
			return domain.Errorf(domain.CodeInvalidState, "game %s is %s", r.game.Code, r.game.Status)
		}
		next := abandoned(r.game)
		if err := m.commit(ctx, r, store.Transition{Game: next}); err != nil {
			return err
		}
		out = next.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("arena_abandon", zap.String("game_code", out.Code))
	return out, nil
}

func abandoned(g *domain.Game) *domain.Game {
	next := g.Clone()
	next.Status = domain.StatusAbandoned
	next.Result = domain.ResultAbandoned
	next.Termination = domain.TerminationAbandonment
	return next
}

// Snapshot returns a copy of the current room state.
func (m *Manager) Snapshot(ctx context.Context, code string) (*domain.Game, error) {
	var out *domain.Game
	err := m.withRoom(ctx, code, func(r *room) error {
		out = r.game.Clone()
		return nil
	})
	return out, err
}

// Observe runs fn on the current room state under the room's turnstile.
// Nothing fn does can be overtaken by a later commit hook for the same room.
func (m *Manager) Observe(ctx context.Context, code string, fn func(g *domain.Game)) error {
	return m.withRoom(ctx, code, func(r *room) error {
		fn(r.game.Clone())
		return nil
	})
}

// Retain pins a room in memory for a live connection and returns its state.
func (m *Manager) Retain(ctx context.Context, code string) (*domain.Game, error) {
	code = NormalizeCode(code)
	var out *domain.Game
	err := m.withRoom(ctx, code, func(r *room) error {
		m.mu.Lock()
		r.pins++
		m.mu.Unlock()
		out = r.game.Clone()
		return nil
	})
	return out, err
}

// Release drops a pin taken by Retain.
func (m *Manager) Release(code string) {
	code = NormalizeCode(code)
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[code]
	if !ok || r.pins == 0 {
		return
	}
	r.pins--
	m.evictLocked(code, r)
}

// Live reports how many rooms are held in memory.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// SweepWaiting abandons unpinned WAITING rooms created more than maxAge ago.
func (m *Manager) SweepWaiting(ctx context.Context, maxAge time.Duration) int {
	m.mu.Lock()
	candidates := make([]string, 0, len(m.rooms))
	for code, r := range m.rooms {
		if r.pins == 0 {
			candidates = append(candidates, code)
		}
	}
	m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	swept := 0
	for _, code := range candidates {
		err := m.withRoom(ctx, code, func(r *room) error {
			m.mu.Lock()
			pinned := r.pins > 0
			m.mu.Unlock()
			if pinned || r.game.Status != domain.StatusWaiting || r.game.CreatedAt.After(cutoff) {
				return nil
			}
			if err := m.commit(ctx, r, store.Transition{Game: abandoned(r.game)}); err != nil {
				return err
			}
			swept++
			return nil
		})
		if err != nil && ctx.Err() != nil {
			break
		}
		if err != nil {
			obslog.L().Warn("arena_sweep_failed", zap.String("game_code", code), zap.Error(err))
		}
	}
	if swept > 0 {
		obslog.L().Info("arena_sweep", zap.Int("abandoned", swept))
	}
	return swept
}

// RunSweeper calls SweepWaiting every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval, maxAge time.Duration) error {
	if interval <= 0 || maxAge <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.SweepWaiting(ctx, maxAge)
		}
	}
}

// Moves returns the persisted move list of a room.
func (m *Manager) Moves(ctx context.Context, code string) ([]*domain.Move, error) {
	g, err := m.Snapshot(ctx, code)
	if err != nil {
		return nil, err
	}
	moves, err := m.store.ListMoves(ctx, g.Code)
	if err != nil {
		return nil, domain.Wrap(domain.CodePersistence, err, "list moves")
	}
	return moves, nil
}

// Players resolves the current usernames of both seats through the store,
// falling back to the names captured when the seats were taken.
func (m *Manager) Players(ctx context.Context, g *domain.Game) (white, black string) {
	white, black = g.WhiteName, g.BlackName
	if u, err := m.store.FindUserByID(ctx, g.WhiteID); err == nil && u != nil {
		white = u.Username
	}
	if g.HasBlack() {
		if u, err := m.store.FindUserByID(ctx, g.BlackID); err == nil && u != nil {
			black = u.Username
		}
	}
	return white, black
}
