package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/obslog"
	"github.com/park285/Cheese-Arena/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,20}$`)

const minPasswordLen = 6

// UserStore is the subset of the store the account service needs.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	FindUserByID(ctx context.Context, id int64) (*domain.User, error)
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// Session is what register and login hand back to the client.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *domain.User
}

// Accounts registers users and exchanges credentials for tokens.
type Accounts struct {
	users  UserStore
	issuer *Issuer
	cost   int
}

func NewAccounts(users UserStore, issuer *Issuer) *Accounts {
	return &Accounts{users: users, issuer: issuer, cost: bcrypt.DefaultCost}
}

// WithHashCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (a *Accounts) WithHashCost(cost int) *Accounts {
	a.cost = cost
	return a
}

func (a *Accounts) Register(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, domain.Errorf(domain.CodeMalformedInput, "username must be 3-20 letters, digits, '_', '-' or '.'")
	}
	if len(password) < minPasswordLen {
		return nil, domain.Errorf(domain.CodeMalformedInput, "password must be at least %d characters", minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, domain.Wrap(domain.CodeMalformedInput, err, "cannot hash password")
	}
	u := &domain.User{Username: username, PasswordHash: string(hash), Rating: domain.DefaultRating}
	if err := a.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			return nil, domain.Errorf(domain.CodeConflict, "username %q is taken", username)
		}
		return nil, domain.Wrap(domain.CodePersistence, err, "create user")
	}
	obslog.L().Info("auth_register", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	return a.session(u)
}

func (a *Accounts) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := a.users.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, domain.Wrap(domain.CodePersistence, err, "load user")
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, domain.Errorf(domain.CodeUnauthorized, "invalid username or password")
	}
	obslog.L().Info("auth_login", zap.Int64("user_id", u.ID))
	return a.session(u)
}

// Profile loads the current user record.
func (a *Accounts) Profile(ctx context.Context, userID int64) (*domain.User, error) {
	u, err := a.users.FindUserByID(ctx, userID)
	if err != nil {
		return nil, domain.Wrap(domain.CodePersistence, err, "load user")
	}
	if u == nil {
		return nil, domain.Errorf(domain.CodeNotFound, "user %d not found", userID)
	}
	return u, nil
}

func (a *Accounts) session(u *domain.User) (*Session, error) {
	token, exp, err := a.issuer.Issue(u.ID, u.Username)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp, User: u}, nil
}
