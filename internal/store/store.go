package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/park285/Cheese-Arena/internal/domain"
)

var (
	ErrDuplicateGame = errors.New("game code already exists")
	ErrUsernameTaken = errors.New("username already taken")
	ErrGameMissing   = errors.New("game does not exist")
)

// Transition is one all-or-nothing write: the game row, an optional
// appended move (its Seq is assigned by the store) and stat deltas.
type Transition struct {
	Game  *domain.Game
	Move  *domain.Move
	Stats []domain.StatUpdate
}

// Store is the durable record of users, games and moves.
// Lookups return (nil, nil) when the row does not exist.
type Store interface {
	CreateGame(ctx context.Context, g *domain.Game) error
	UpdateGame(ctx context.Context, g *domain.Game) error
	FindGameByCode(ctx context.Context, code string) (*domain.Game, error)
	GameCodeExists(ctx context.Context, code string) (bool, error)
	ListGamesByUser(ctx context.Context, userID int64, limit int) ([]*domain.Game, error)
	ListWaitingGames(ctx context.Context, limit int) ([]*domain.Game, error)

	AppendMove(ctx context.Context, mv *domain.Move) error
	NextMoveSequence(ctx context.Context, code string) (int, error)
	ListMoves(ctx context.Context, code string) ([]*domain.Move, error)

	Commit(ctx context.Context, tr Transition) error

	CreateUser(ctx context.Context, u *domain.User) error
	FindUserByID(ctx context.Context, id int64) (*domain.User, error)
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateUserStats(ctx context.Context, userID int64, o domain.StatOutcome) error

	Close() error
}

func errUserMissing(id int64) error { return fmt.Errorf("user %d does not exist", id) }

const defaultListLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
