package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/obslog"
	"go.uber.org/zap"
)

const minSecretLen = 16

// Claims is the signed payload of a session token. Subject holds the user id.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Issuer signs and parses HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretLen)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token and its expiry.
func (i *Issuer) Issue(userID int64, username string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse validates signature and expiry and returns the claims.
func (i *Issuer) Parse(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

// Identity is the authenticated caller.
type Identity struct {
	UserID   int64
	Username string
}

// Verifier resolves tokens to identities, consulting a cache before verifying signatures.
type Verifier struct {
	issuer *Issuer
	cache  TokenCache
}

func NewVerifier(issuer *Issuer, cache TokenCache) *Verifier {
	return &Verifier{issuer: issuer, cache: cache}
}

// Verify returns domain.ErrUnauthorized-coded errors for every rejection.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, domain.Errorf(domain.CodeUnauthorized, "missing token")
	}
	if v.cache != nil {
		if id, ok := v.cache.Get(ctx, token); ok {
			return id, nil
		}
	}
	claims, err := v.issuer.Parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, domain.Errorf(domain.CodeUnauthorized, "token expired")
		}
		return Identity{}, domain.Wrap(domain.CodeUnauthorized, err, "invalid token")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, domain.Errorf(domain.CodeUnauthorized, "invalid token subject")
	}
	id := Identity{UserID: userID, Username: claims.Username}
	if v.cache != nil && claims.ExpiresAt != nil {
		if err := v.cache.Put(ctx, token, id, claims.ExpiresAt.Time); err != nil {
			obslog.L().Warn("token_cache_put_failed", zap.Error(err))
		}
	}
	return id, nil
}
