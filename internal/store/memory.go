package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/Cheese-Arena/internal/domain"
)

// Memory is an in-process Store used for development and tests.
type Memory struct {
	mu sync.RWMutex

	nextUserID int64
	nextGameID int64

	users       map[int64]*domain.User
	usersByName map[string]int64
	games       map[string]*domain.Game
	moves       map[string][]*domain.Move

	// failCommit, when set, makes Commit and UpdateGame fail; used to simulate store outages.
	failCommit error
}

func NewMemory() *Memory {
	return &Memory{
		users:       make(map[int64]*domain.User),
		usersByName: make(map[string]int64),
		games:       make(map[string]*domain.Game),
		moves:       make(map[string][]*domain.Move),
	}
}

// FailWrites makes subsequent game writes return err until called with nil.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	m.failCommit = err
	m.mu.Unlock()
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateGame(ctx context.Context, g *domain.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommit != nil {
		return m.failCommit
	}
	if _, exists := m.games[g.Code]; exists {
		return ErrDuplicateGame
	}
	m.nextGameID++
	g.ID = m.nextGameID
	m.games[g.Code] = g.Clone()
	return nil
}

func (m *Memory) UpdateGame(ctx context.Context, g *domain.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommit != nil {
		return m.failCommit
	}
	return m.updateGameLocked(g)
}

func (m *Memory) updateGameLocked(g *domain.Game) error {
	cur, ok := m.games[g.Code]
	if !ok {
		return ErrGameMissing
	}
	cp := g.Clone()
	cp.ID = cur.ID
	m.games[g.Code] = cp
	return nil
}

func (m *Memory) FindGameByCode(ctx context.Context, code string) (*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[code]
	if !ok {
		return nil, nil
	}
	return g.Clone(), nil
}

func (m *Memory) GameCodeExists(ctx context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.games[code]
	return ok, nil
}

func (m *Memory) ListGamesByUser(ctx context.Context, userID int64, limit int) ([]*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []*domain.Game
	for _, g := range m.games {
		if g.WhiteID == userID || g.BlackID == userID {
			items = append(items, g.Clone())
		}
	}
	sortNewestFirst(items)
	if limit = clampLimit(limit); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *Memory) ListWaitingGames(ctx context.Context, limit int) ([]*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []*domain.Game
	for _, g := range m.games {
		if g.Status == domain.StatusWaiting {
			items = append(items, g.Clone())
		}
	}
	sortNewestFirst(items)
	if limit = clampLimit(limit); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func sortNewestFirst(items []*domain.Game) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
}

func (m *Memory) AppendMove(ctx context.Context, mv *domain.Move) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommit != nil {
		return m.failCommit
	}
	return m.appendMoveLocked(mv)
}

func (m *Memory) appendMoveLocked(mv *domain.Move) error {
	if _, ok := m.games[mv.GameCode]; !ok {
		return ErrGameMissing
	}
	mv.Seq = len(m.moves[mv.GameCode]) + 1
	if mv.PlayedAt.IsZero() {
		mv.PlayedAt = time.Now()
	}
	cp := *mv
	m.moves[mv.GameCode] = append(m.moves[mv.GameCode], &cp)
	return nil
}

func (m *Memory) NextMoveSequence(ctx context.Context, code string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.moves[code]) + 1, nil
}

func (m *Memory) ListMoves(ctx context.Context, code string) ([]*domain.Move, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.moves[code]
	out := make([]*domain.Move, 0, len(src))
	for _, mv := range src {
		cp := *mv
		out = append(out, &cp)
	}
	return out, nil
}

// Commit applies the whole transition under one lock; nothing is written on error.
func (m *Memory) Commit(ctx context.Context, tr Transition) error {
	if tr.Game == nil {
		return ErrGameMissing
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommit != nil {
		return m.failCommit
	}
	if _, ok := m.games[tr.Game.Code]; !ok {
		return ErrGameMissing
	}
	for _, s := range tr.Stats {
		if _, ok := m.users[s.UserID]; !ok {
			return errUserMissing(s.UserID)
		}
	}
	if tr.Move != nil {
		tr.Move.GameCode = tr.Game.Code
		if err := m.appendMoveLocked(tr.Move); err != nil {
			return err
		}
	}
	if err := m.updateGameLocked(tr.Game); err != nil {
		return err
	}
	for _, s := range tr.Stats {
		m.users[s.UserID].Apply(s.Outcome)
	}
	return nil
}

func (m *Memory) CreateUser(ctx context.Context, u *domain.User) error {
	key := strings.ToLower(strings.TrimSpace(u.Username))
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.usersByName[key]; taken {
		return ErrUsernameTaken
	}
	m.nextUserID++
	u.ID = m.nextUserID
	if u.Rating == 0 {
		u.Rating = domain.DefaultRating
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	cp := *u
	m.users[u.ID] = &cp
	m.usersByName[key] = u.ID
	return nil
}

func (m *Memory) FindUserByID(ctx context.Context, id int64) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByName[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, nil
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *Memory) UpdateUserStats(ctx context.Context, userID int64, o domain.StatOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return errUserMissing(userID)
	}
	u.Apply(o)
	return nil
}
