package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/park285/Cheese-Arena/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Postgres is the primary Store backed by lib/pq.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an already configured handle.
func NewPostgresFromDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Migrate creates the tables when they are missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const selectGame = `
	SELECT
		g.id,
		g.code,
		g.white_id,
		w.username,
		COALESCE(g.black_id, 0),
		COALESCE(b.username, ''),
		g.fen,
		g.turn,
		g.status,
		COALESCE(g.result, ''),
		COALESCE(g.termination, ''),
		g.move_count,
		g.created_at,
		g.last_move_at
	FROM games g
	JOIN users w ON w.id = g.white_id
	LEFT JOIN users b ON b.id = g.black_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*domain.Game, error) {
	var (
		g           domain.Game
		turn        string
		status      string
		result      string
		termination string
		lastMoveAt  sql.NullTime
	)
	if err := row.Scan(
		&g.ID,
		&g.Code,
		&g.WhiteID,
		&g.WhiteName,
		&g.BlackID,
		&g.BlackName,
		&g.Position,
		&turn,
		&status,
		&result,
		&termination,
		&g.MoveCount,
		&g.CreatedAt,
		&lastMoveAt,
	); err != nil {
		return nil, err
	}
	g.Turn = domain.Side(turn)
	g.Status = domain.Status(status)
	g.Result = domain.Result(result)
	g.Termination = domain.Termination(termination)
	if lastMoveAt.Valid {
		t := lastMoveAt.Time
		g.LastMoveAt = &t
	}
	return &g, nil
}

func nullID(id int64) sql.NullInt64 { return sql.NullInt64{Int64: id, Valid: id != 0} }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (p *Postgres) CreateGame(ctx context.Context, g *domain.Game) error {
	if g == nil {
		return fmt.Errorf("nil game payload")
	}
	const query = `
		INSERT INTO games (code, white_id, black_id, fen, turn, status, result, termination, move_count, created_at, last_move_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11)
		RETURNING id`
	err := p.db.QueryRowContext(ctx, query,
		g.Code,
		g.WhiteID,
		nullID(g.BlackID),
		g.Position,
		string(g.Turn),
		string(g.Status),
		string(g.Result),
		string(g.Termination),
		g.MoveCount,
		g.CreatedAt,
		nullTime(g.LastMoveAt),
	).Scan(&g.ID)
	if isUniqueViolation(err) {
		return ErrDuplicateGame
	}
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateGame(ctx context.Context, db execer, g *domain.Game) error {
	const query = `
		UPDATE games SET
			black_id = $2,
			fen = $3,
			turn = $4,
			status = $5,
			result = NULLIF($6, ''),
			termination = NULLIF($7, ''),
			move_count = $8,
			last_move_at = $9
		WHERE code = $1`
	res, err := db.ExecContext(ctx, query,
		g.Code,
		nullID(g.BlackID),
		g.Position,
		string(g.Turn),
		string(g.Status),
		string(g.Result),
		string(g.Termination),
		g.MoveCount,
		nullTime(g.LastMoveAt),
	)
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrGameMissing
	}
	return nil
}

func (p *Postgres) UpdateGame(ctx context.Context, g *domain.Game) error {
	return updateGame(ctx, p.db, g)
}

func (p *Postgres) FindGameByCode(ctx context.Context, code string) (*domain.Game, error) {
	g, err := scanGame(p.db.QueryRowContext(ctx, selectGame+` WHERE g.code = $1`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	return g, nil
}

func (p *Postgres) GameCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM games WHERE code = $1)`, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("check game code: %w", err)
	}
	return exists, nil
}

func (p *Postgres) listGames(ctx context.Context, query string, args ...any) ([]*domain.Game, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select games: %w", err)
	}
	defer rows.Close()
	var games []*domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func (p *Postgres) ListGamesByUser(ctx context.Context, userID int64, limit int) ([]*domain.Game, error) {
	return p.listGames(ctx, selectGame+`
		WHERE g.white_id = $1 OR g.black_id = $1
		ORDER BY g.created_at DESC, g.id DESC
		LIMIT $2`, userID, clampLimit(limit))
}

func (p *Postgres) ListWaitingGames(ctx context.Context, limit int) ([]*domain.Game, error) {
	return p.listGames(ctx, selectGame+`
		WHERE g.status = $1
		ORDER BY g.created_at DESC, g.id DESC
		LIMIT $2`, string(domain.StatusWaiting), clampLimit(limit))
}

func appendMove(ctx context.Context, tx *sql.Tx, gameID int64, mv *domain.Move) error {
	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM moves WHERE game_id = $1`, gameID).Scan(&seq); err != nil {
		return fmt.Errorf("next move seq: %w", err)
	}
	if mv.PlayedAt.IsZero() {
		mv.PlayedAt = time.Now()
	}
	const query = `
		INSERT INTO moves (game_id, seq, from_sq, to_sq, piece, captured, promotion, san, played_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)`
	if _, err := tx.ExecContext(ctx, query,
		gameID, seq, mv.From, mv.To, mv.Piece, mv.Captured, mv.Promotion, mv.SAN, mv.PlayedAt,
	); err != nil {
		return fmt.Errorf("insert move: %w", err)
	}
	mv.Seq = seq
	return nil
}

// lockGame takes a row lock on the game so concurrent sequence assignment serialises.
func lockGame(ctx context.Context, tx *sql.Tx, code string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM games WHERE code = $1 FOR UPDATE`, code).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrGameMissing
	}
	if err != nil {
		return 0, fmt.Errorf("lock game: %w", err)
	}
	return id, nil
}

func (p *Postgres) AppendMove(ctx context.Context, mv *domain.Move) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		id, err := lockGame(ctx, tx, mv.GameCode)
		if err != nil {
			return err
		}
		return appendMove(ctx, tx, id, mv)
	})
}

func (p *Postgres) NextMoveSequence(ctx context.Context, code string) (int, error) {
	const query = `
		SELECT COALESCE(MAX(m.seq), 0) + 1
		FROM games g LEFT JOIN moves m ON m.game_id = g.id
		WHERE g.code = $1`
	var seq int
	if err := p.db.QueryRowContext(ctx, query, code).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next move seq: %w", err)
	}
	return seq, nil
}

func (p *Postgres) ListMoves(ctx context.Context, code string) ([]*domain.Move, error) {
	const query = `
		SELECT m.seq, m.from_sq, m.to_sq, m.piece, COALESCE(m.captured, ''), COALESCE(m.promotion, ''), m.san, m.played_at
		FROM moves m JOIN games g ON g.id = m.game_id
		WHERE g.code = $1
		ORDER BY m.seq`
	rows, err := p.db.QueryContext(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("select moves: %w", err)
	}
	defer rows.Close()
	moves := make([]*domain.Move, 0, 64)
	for rows.Next() {
		mv := domain.Move{GameCode: code}
		if err := rows.Scan(&mv.Seq, &mv.From, &mv.To, &mv.Piece, &mv.Captured, &mv.Promotion, &mv.SAN, &mv.PlayedAt); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		moves = append(moves, &mv)
	}
	return moves, rows.Err()
}

// Commit writes the transition in one transaction.
func (p *Postgres) Commit(ctx context.Context, tr Transition) error {
	if tr.Game == nil {
		return ErrGameMissing
	}
	return p.inTx(ctx, func(tx *sql.Tx) error {
		id, err := lockGame(ctx, tx, tr.Game.Code)
		if err != nil {
			return err
		}
		if tr.Move != nil {
			tr.Move.GameCode = tr.Game.Code
			if err := appendMove(ctx, tx, id, tr.Move); err != nil {
				return err
			}
		}
		if err := updateGame(ctx, tx, tr.Game); err != nil {
			return err
		}
		for _, s := range tr.Stats {
			if err := updateStats(ctx, tx, s.UserID, s.Outcome); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (p *Postgres) CreateUser(ctx context.Context, u *domain.User) error {
	if u.Rating == 0 {
		u.Rating = domain.DefaultRating
	}
	const query = `
		INSERT INTO users (username, password_hash, rating)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`
	err := p.db.QueryRowContext(ctx, query, strings.TrimSpace(u.Username), u.PasswordHash, u.Rating).Scan(&u.ID, &u.CreatedAt)
	if isUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const selectUser = `SELECT id, username, password_hash, rating, wins, losses, draws, created_at FROM users`

func (p *Postgres) findUser(ctx context.Context, where string, arg any) (*domain.User, error) {
	var u domain.User
	err := p.db.QueryRowContext(ctx, selectUser+" WHERE "+where, arg).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Rating, &u.Wins, &u.Losses, &u.Draws, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &u, nil
}

func (p *Postgres) FindUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return p.findUser(ctx, "id = $1", id)
}

func (p *Postgres) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return p.findUser(ctx, "lower(username) = lower($1)", strings.TrimSpace(username))
}

func statDelta(o domain.StatOutcome) (wins, losses, draws int) {
	switch o {
	case domain.OutcomeWin:
		return 1, 0, 0
	case domain.OutcomeLoss:
		return 0, 1, 0
	case domain.OutcomeDraw:
		return 0, 0, 1
	}
	return 0, 0, 0
}

func updateStats(ctx context.Context, db execer, userID int64, o domain.StatOutcome) error {
	w, l, d := statDelta(o)
	const query = `
		UPDATE users SET
			wins = wins + $2,
			losses = losses + $3,
			draws = draws + $4,
			rating = rating + $5
		WHERE id = $1`
	res, err := db.ExecContext(ctx, query, userID, w, l, d, o.RatingDelta())
	if err != nil {
		return fmt.Errorf("update user stats: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errUserMissing(userID)
	}
	return nil
}

func (p *Postgres) UpdateUserStats(ctx context.Context, userID int64, o domain.StatOutcome) error {
	return updateStats(ctx, p.db, userID, o)
}
