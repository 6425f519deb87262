package arena

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/rules"
	"github.com/park285/Cheese-Arena/internal/store"
)

type fixture struct {
	store *store.Memory
	m     *Manager
	a, b  *domain.User
	c     *domain.User
}

func newFixture(t *testing.T, engine rules.Engine, opts ...Option) *fixture {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()
	users := make([]*domain.User, 3)
	for i, name := range []string{"alice", "bob", "carol"} {
		u := &domain.User{Username: name, PasswordHash: "x"}
		if err := st.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		users[i] = u
	}
	if engine == nil {
		engine = rules.NewChessEngine()
	}
	return &fixture{store: st, m: NewManager(st, engine, opts...), a: users[0], b: users[1], c: users[2]}
}

func (f *fixture) activeGame(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	g, err := f.m.Create(ctx, f.a.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.m.Join(ctx, g.Code, f.b.ID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	return g.Code
}

func (f *fixture) play(t *testing.T, code string, moves ...string) *MoveResult {
	t.Helper()
	var res *MoveResult
	for i, mv := range moves {
		user := f.a.ID
		if i%2 == 1 {
			user = f.b.ID
		}
		var err error
		res, err = f.m.ApplyMove(context.Background(), code, user, mv[:2], mv[2:4], mv[4:])
		if err != nil {
			t.Fatalf("move %d %s: %v", i+1, mv, err)
		}
	}
	return res
}

func expectCode(t *testing.T, err error, want domain.Code) {
	t.Helper()
	if got := domain.CodeOf(err); got != want {
		t.Fatalf("expected %s, got %v", want, err)
	}
}

func TestCreateAndJoin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	g, err := f.m.Create(ctx, f.a.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if g.Status != domain.StatusWaiting || g.WhiteID != f.a.ID || g.HasBlack() || len(g.Code) != codeLength {
		t.Fatalf("unexpected room: %+v", g)
	}
	if strings.ContainsAny(g.Code, "01IO") {
		t.Fatalf("code uses ambiguous characters: %s", g.Code)
	}

	_, err = f.m.Join(ctx, g.Code, f.a.ID)
	expectCode(t, err, domain.CodeSelfJoin)

	joined, err := f.m.Join(ctx, strings.ToLower(" "+g.Code+" "), f.b.ID)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if joined.Status != domain.StatusActive || joined.BlackID != f.b.ID || joined.Turn != domain.SideWhite || joined.BlackName != "bob" {
		t.Fatalf("unexpected joined room: %+v", joined)
	}
	stored, _ := f.store.FindGameByCode(ctx, g.Code)
	if stored.Status != domain.StatusActive || stored.BlackID != f.b.ID {
		t.Fatalf("join not persisted: %+v", stored)
	}

	for _, uid := range []int64{f.a.ID, f.b.ID, f.c.ID} {
		_, err := f.m.Join(ctx, g.Code, uid)
		expectCode(t, err, domain.CodeInvalidState)
	}
}

func TestCreate_UnknownCreator(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.m.Create(context.Background(), 999)
	expectCode(t, err, domain.CodeNotFound)
}

func TestCreate_RetriesOnCollision(t *testing.T) {
	codes := []string{"AAAAAA", "AAAAAA", "bbbbbb"}
	var i int
	gen := func() (string, error) {
		c := codes[i%len(codes)]
		i++
		return c, nil
	}
	f := newFixture(t, nil, WithCodeGenerator(gen))
	ctx := context.Background()

	first, err := f.m.Create(ctx, f.a.ID)
	if err != nil || first.Code != "AAAAAA" {
		t.Fatalf("first create: %+v %v", first, err)
	}
	second, err := f.m.Create(ctx, f.b.ID)
	if err != nil || second.Code != "BBBBBB" {
		t.Fatalf("second create: %+v %v", second, err)
	}

	stuck := newFixture(t, nil, WithCodeGenerator(func() (string, error) { return "CCCCCC", nil }))
	if _, err := stuck.m.Create(ctx, stuck.a.ID); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = stuck.m.Create(ctx, stuck.a.ID)
	expectCode(t, err, domain.CodePersistence)
}

func TestApplyMove_TurnsAndSequence(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	code := f.activeGame(t)

	res, err := f.m.ApplyMove(ctx, code, f.a.ID, "E2", "e4", "")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if res.Game.Turn != domain.SideBlack || res.Game.Status != domain.StatusActive || res.Move.Seq != 1 || res.Move.SAN != "e4" {
		t.Fatalf("unexpected result: game=%+v move=%+v", res.Game, res.Move)
	}
	if res.Game.LastMoveAt == nil {
		t.Fatalf("lastMoveAt not set")
	}

	moves := []string{"e7e5", "g1f3", "b8c6", "f1b5"}
	want := []domain.Side{domain.SideWhite, domain.SideBlack, domain.SideWhite, domain.SideBlack}
	for i, mv := range moves {
		user := f.b.ID
		if i%2 == 1 {
			user = f.a.ID
		}
		res, err := f.m.ApplyMove(ctx, code, user, mv[:2], mv[2:], "")
		if err != nil {
			t.Fatalf("move %s: %v", mv, err)
		}
		if res.Game.Turn != want[i] || res.Move.Seq != i+2 {
			t.Fatalf("after %s: turn=%s seq=%d", mv, res.Game.Turn, res.Move.Seq)
		}
	}
	stored, _ := f.store.ListMoves(ctx, code)
	for i, mv := range stored {
		if mv.Seq != i+1 {
			t.Fatalf("gap in move sequence: %+v", stored)
		}
	}
}

func TestApplyMove_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	code := f.activeGame(t)
	before, _ := f.m.Snapshot(ctx, code)

	_, err := f.m.ApplyMove(ctx, "NOPE99", f.a.ID, "e2", "e4", "")
	expectCode(t, err, domain.CodeNotFound)

	_, err = f.m.ApplyMove(ctx, code, f.b.ID, "e7", "e5", "")
	expectCode(t, err, domain.CodeOutOfTurn)

	_, err = f.m.ApplyMove(ctx, code, f.c.ID, "e2", "e4", "")
	expectCode(t, err, domain.CodeNotAParticipant)

	_, err = f.m.ApplyMove(ctx, code, f.a.ID, "e9", "e4", "")
	expectCode(t, err, domain.CodeMalformedInput)

	_, err = f.m.ApplyMove(ctx, code, f.a.ID, "e2", "e4", "k")
	expectCode(t, err, domain.CodeMalformedInput)

	_, err = f.m.ApplyMove(ctx, code, f.a.ID, "e2", "e5", "")
	expectCode(t, err, domain.CodeIllegalMove)

	after, _ := f.m.Snapshot(ctx, code)
	if after.Position != before.Position || after.Turn != before.Turn || after.MoveCount != 0 {
		t.Fatalf("room changed by rejected moves: %+v", after)
	}

	waiting, _ := f.m.Create(ctx, f.c.ID)
	_, err = f.m.ApplyMove(ctx, waiting.Code, f.c.ID, "e2", "e4", "")
	expectCode(t, err, domain.CodeInvalidState)
}

func TestApplyMove_CheckmateFinishesAndScores(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	code := f.activeGame(t)

	res := f.play(t, code, "e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7")
	g := res.Game
	if g.Status != domain.StatusFinished || g.Result != domain.ResultWhiteWin || g.Termination != domain.TerminationCheckmate {
		t.Fatalf("unexpected final room: %+v", g)
	}
	if res.Move.Captured != "p" || !strings.HasSuffix(res.Move.SAN, "#") {
		t.Fatalf("unexpected mating move: %+v", res.Move)
	}

	a, _ := f.store.FindUserByID(ctx, f.a.ID)
	b, _ := f.store.FindUserByID(ctx, f.b.ID)
	if a.Wins != 1 || a.Rating != 1210 || b.Losses != 1 || b.Rating != 1190 {
		t.Fatalf("stats not applied: a=%+v b=%+v", a, b)
	}

	_, err := f.m.ApplyMove(ctx, code, f.b.ID, "e8", "e7", "")
	expectCode(t, err, domain.CodeInvalidState)
	_, err = f.m.Resign(ctx, code, f.b.ID)
	expectCode(t, err, domain.CodeInvalidState)

	if f.m.Live() != 0 {
		t.Fatalf("finished room still held, live=%d", f.m.Live())
	}
	again, err := f.m.Snapshot(ctx, code)
	if err != nil || again.Status != domain.StatusFinished {
		t.Fatalf("snapshot from store: %+v %v", again, err)
	}
}

type scriptedEngine struct {
	outcome rules.Outcome
	err     error
}

func (s scriptedEngine) TryMove(position, from, to, promotion string) (rules.Outcome, error) {
	if s.err != nil {
		return rules.Outcome{}, s.err
	}
	out := s.outcome
	out.Position = position + " " + from + to
	return out, nil
}

func TestApplyMove_ScriptedDraw(t *testing.T) {
	f := newFixture(t, scriptedEngine{outcome: rules.Outcome{SAN: "Kb1", Piece: "K", Terminal: rules.TerminalStalemate}})
	ctx := context.Background()
	code := f.activeGame(t)

	res, err := f.m.ApplyMove(ctx, code, f.a.ID, "a1", "b1", "")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if res.Game.Result != domain.ResultDraw || res.Game.Termination != domain.TerminationStalemate {
		t.Fatalf("unexpected draw: %+v", res.Game)
	}
	a, _ := f.store.FindUserByID(ctx, f.a.ID)
	b, _ := f.store.FindUserByID(ctx, f.b.ID)
	if a.Draws != 1 || b.Draws != 1 || a.Rating != domain.DefaultRating {
		t.Fatalf("draw stats: a=%+v b=%+v", a, b)
	}
}

func TestApplyMove_EngineRejection(t *testing.T) {
	f := newFixture(t, scriptedEngine{err: fmt.Errorf("%w: nope", rules.ErrRejected)})
	code := f.activeGame(t)
	_, err := f.m.ApplyMove(context.Background(), code, f.a.ID, "a2", "a3", "")
	expectCode(t, err, domain.CodeIllegalMove)
}

func TestApplyMove_PersistenceFailureLeavesRoomUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	code := f.activeGame(t)
	before, _ := f.m.Snapshot(ctx, code)

	f.store.FailWrites(errors.New("db down"))
	_, err := f.m.ApplyMove(ctx, code, f.a.ID, "e2", "e4", "")
	expectCode(t, err, domain.CodePersistence)

	after, _ := f.m.Snapshot(ctx, code)
	if after.Position != before.Position || after.Turn != domain.SideWhite || after.MoveCount != 0 || after.LastMoveAt != nil {
		t.Fatalf("room mutated on failed write: %+v", after)
	}

	f.store.FailWrites(nil)
	res, err := f.m.ApplyMove(ctx, code, f.a.ID, "e2", "e4", "")
	if err != nil || res.Move.Seq != 1 {
		t.Fatalf("retry after recovery: %+v %v", res, err)
	}
}

func TestApplyMove_ConcurrentSubmissions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	code := f.activeGame(t)

	candidates := []string{"e2e4", "d2d4", "c2c4", "g1f3", "b1c3", "a2a3", "h2h3", "f2f4"}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	start := make(chan struct{})
	for _, mv := range candidates {
		wg.Add(1)
		go func(mv string) {
			defer wg.Done()
			<-start
			_, err := f.m.ApplyMove(ctx, code, f.a.ID, mv[:2], mv[2:], "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}(mv)
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one accepted move, got %d", successes)
	}
	for _, err := range failures {
		if c := domain.CodeOf(err); c != domain.CodeOutOfTurn && c != domain.CodeIllegalMove {
			t.Fatalf("unexpected failure: %v", err)
		}
	}
	g, _ := f.m.Snapshot(ctx, code)
	side, err := rules.SideToMove(g.Position)
	if err != nil || side != g.Turn || g.Turn != domain.SideBlack || g.MoveCount != 1 {
		t.Fatalf("position and turn disagree: %+v side=%s err=%v", g, side, err)
	}
	if moves, _ := f.store.ListMoves(ctx, code); len(moves) != 1 {
		t.Fatalf("expected one stored move, got %d", len(moves))
	}
}

func TestConcurrentRoomsProceedIndependently(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	codes := make([]string, 6)
	for i := range codes {
		codes[i] = f.activeGame(t)
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(codes))
	for _, code := range codes {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			for i, mv := range []string{"e2e4", "e7e5", "g1f3", "b8c6"} {
				user := f.a.ID
				if i%2 == 1 {
					user = f.b.ID
				}
				if _, err := f.m.ApplyMove(ctx, code, user, mv[:2], mv[2:], ""); err != nil {
					errs <- err
					return
				}
			}
		}(code)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("room move failed: %v", err)
	}
}

func TestResign(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	code := f.activeGame(t)
	_, err := f.m.Resign(ctx, code, f.c.ID)
	expectCode(t, err, domain.CodeNotAParticipant)

	g, err := f.m.Resign(ctx, code, f.b.ID)
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if g.Status != domain.StatusFinished || g.Result != domain.ResultWhiteWin || g.Termination != domain.TerminationResignation {
		t.Fatalf("unexpected resign result: %+v", g)
	}
	_, err = f.m.Resign(ctx, code, f.a.ID)
	expectCode(t, err, domain.CodeInvalidState)

	_, err = f.m.Resign(ctx, "ZZZZZZ", f.a.ID)
	expectCode(t, err, domain.CodeNotFound)

	waiting, _ := f.m.Create(ctx, f.c.ID)
	g, err = f.m.Resign(ctx, waiting.Code, f.c.ID)
	if err != nil || g.Status != domain.StatusAbandoned || g.Result != domain.ResultAbandoned {
		t.Fatalf("resign while waiting: %+v %v", g, err)
	}
	c, _ := f.store.FindUserByID(ctx, f.c.ID)
	if c.GamesPlayed() != 0 {
		t.Fatalf("abandoned room changed stats: %+v", c)
	}
}

func TestAbandon(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	code := f.activeGame(t)
	g, err := f.m.Abandon(ctx, code)
	if err != nil || g.Status != domain.StatusAbandoned || g.Termination != domain.TerminationAbandonment {
		t.Fatalf("Abandon: %+v %v", g, err)
	}
	if g.BlackID != f.b.ID || g.Result != domain.ResultAbandoned {
		t.Fatalf("abandoned active room should keep its seats: %+v", g)
	}
	_, err = f.m.Abandon(ctx, code)
	expectCode(t, err, domain.CodeInvalidState)

	waiting, err := f.m.Create(ctx, f.a.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	g, err = f.m.Abandon(ctx, waiting.Code)
	if err != nil || g.HasBlack() || g.Status != domain.StatusAbandoned {
		t.Fatalf("Abandon waiting: %+v %v", g, err)
	}
}

func TestRetainReleaseAndEviction(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	code := f.activeGame(t)

	if _, err := f.m.Retain(ctx, code); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if _, err := f.m.Resign(ctx, code, f.a.ID); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if f.m.Live() != 1 {
		t.Fatalf("pinned room evicted early")
	}
	f.m.Release(code)
	if f.m.Live() != 0 {
		t.Fatalf("released finished room still live")
	}
	f.m.Release(code)

	if _, err := f.m.Retain(ctx, "MISSING"); domain.CodeOf(err) != domain.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.m.Live() != 0 {
		t.Fatalf("missing room left an entry")
	}
}

func TestSweepWaiting(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := newFixture(t, nil, WithClock(clock))
	ctx := context.Background()

	stale, _ := f.m.Create(ctx, f.a.ID)
	pinned, _ := f.m.Create(ctx, f.b.ID)
	if _, err := f.m.Retain(ctx, pinned.Code); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	active := f.activeGame(t)

	now = now.Add(2 * time.Hour)
	fresh, _ := f.m.Create(ctx, f.c.ID)

	if n := f.m.SweepWaiting(ctx, time.Hour); n != 1 {
		t.Fatalf("swept %d rooms, want 1", n)
	}
	for code, want := range map[string]domain.Status{
		stale.Code:  domain.StatusAbandoned,
		pinned.Code: domain.StatusWaiting,
		active:      domain.StatusActive,
		fresh.Code:  domain.StatusWaiting,
	} {
		g, err := f.store.FindGameByCode(ctx, code)
		if err != nil || g.Status != want {
			t.Fatalf("%s: status %s, want %s (%v)", code, g.Status, want, err)
		}
	}
}

func TestPGN(t *testing.T) {
	f := newFixture(t, nil, WithClock(func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }))
	ctx := context.Background()
	code := f.activeGame(t)
	f.play(t, code, "f2f3", "e7e5", "g2g4", "d8h4")

	pgn, err := f.m.PGN(ctx, code)
	if err != nil {
		t.Fatalf("PGN: %v", err)
	}
	for _, want := range []string{
		`[Date "2025.01.02"]`, `[White "alice"]`, `[Black "bob"]`,
		`[Termination "checkmate"]`, `[Result "0-1"]`, "1. f3 e5 2. g4 Qh4# 0-1",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
	moves, err := f.m.Moves(ctx, code)
	if err != nil || len(moves) != 4 {
		t.Fatalf("Moves: %d %v", len(moves), err)
	}
}

func TestCommitHook_RunsInCommitOrderUnderTurnstile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	type seen struct {
		status domain.Status
		moves  int
		seq    int
		locked bool
	}
	var got []seen
	f.m.SetCommitHook(func(hctx context.Context, g *domain.Game, mv *domain.Move) {
		s := seen{status: g.Status, moves: g.MoveCount}
		if mv != nil {
			s.seq = mv.Seq
		}
		pctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		_, err := f.m.Snapshot(pctx, g.Code)
		cancel()
		s.locked = errors.Is(err, context.DeadlineExceeded)
		got = append(got, s)
	})

	code := f.activeGame(t)
	f.play(t, code, "e2e4")
	f.store.FailWrites(errors.New("db down"))
	if _, err := f.m.ApplyMove(ctx, code, f.b.ID, "e7", "e5", ""); err == nil {
		t.Fatalf("expected persistence error")
	}
	f.store.FailWrites(nil)
	if _, err := f.m.Resign(ctx, code, f.b.ID); err != nil {
		t.Fatalf("Resign: %v", err)
	}

	want := []seen{
		{status: domain.StatusActive, locked: true},
		{status: domain.StatusActive, moves: 1, seq: 1, locked: true},
		{status: domain.StatusFinished, moves: 1, locked: true},
	}
	if len(got) != len(want) {
		t.Fatalf("hook calls = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("hook call %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestObserve(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	code := f.activeGame(t)
	f.play(t, code, "e2e4")

	var turn domain.Side
	if err := f.m.Observe(ctx, strings.ToLower(code), func(g *domain.Game) { turn = g.Turn }); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if turn != domain.SideBlack {
		t.Fatalf("turn = %s", turn)
	}
	expectCode(t, f.m.Observe(ctx, "NOPE99", func(*domain.Game) {}), domain.CodeNotFound)
}
