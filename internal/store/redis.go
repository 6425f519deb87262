package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/redis/go-redis/v9"
)

// finishedTTL bounds how long terminal games and their moves stay in redis.
const finishedTTL = 7 * 24 * time.Hour

// Redis is a Store keeping games as JSON documents, moves as lists and users as hashes.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(redisURL string) (*Redis, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

// NewRedisFromClient shares an existing client.
func NewRedisFromClient(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

// Client exposes the underlying connection for companions such as the token cache.
func (r *Redis) Client() *redis.Client { return r.rdb }

func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

func gameKey(code string) string { return "arena:game:" + strings.TrimSpace(code) }
func movesKey(code string) string { return "arena:moves:" + strings.TrimSpace(code) }
func userKey(id int64) string { return "arena:user:" + strconv.FormatInt(id, 10) }
func usernameKey(name string) string { return "arena:username:" + strings.ToLower(strings.TrimSpace(name)) }
func idxUserKey(id int64) string { return "arena:index:user:" + strconv.FormatInt(id, 10) }
func lobbyKey() string { return "arena:lobby" }
func seqKey(kind string) string { return "arena:seq:" + kind }
func indexScore(g *domain.Game) float64 { return float64(g.CreatedAt.UnixMilli()) }

func (r *Redis) CreateGame(ctx context.Context, g *domain.Game) error {
	if g == nil {
		return fmt.Errorf("nil game payload")
	}
	exists, err := r.GameCodeExists(ctx, g.Code)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateGame
	}
	id, err := r.rdb.Incr(ctx, seqKey("game")).Result()
	if err != nil {
		return fmt.Errorf("next game id: %w", err)
	}
	cp := g.Clone()
	cp.ID = id
	raw, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, gameKey(g.Code), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("save game: %w", err)
	}
	if !ok {
		return ErrDuplicateGame
	}
	g.ID = id
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, idxUserKey(g.WhiteID), redis.Z{Score: indexScore(g), Member: g.Code})
		if g.BlackID != 0 {
			pipe.ZAdd(ctx, idxUserKey(g.BlackID), redis.Z{Score: indexScore(g), Member: g.Code})
		}
		if g.Status == domain.StatusWaiting {
			pipe.SAdd(ctx, lobbyKey(), g.Code)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index game: %w", err)
	}
	return nil
}

func (r *Redis) UpdateGame(ctx context.Context, g *domain.Game) error {
	return r.Commit(ctx, Transition{Game: g})
}

func (r *Redis) FindGameByCode(ctx context.Context, code string) (*domain.Game, error) {
	raw, err := r.rdb.Get(ctx, gameKey(code)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load game: %w", err)
	}
	var g domain.Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game: %w", err)
	}
	return &g, nil
}

func (r *Redis) GameCodeExists(ctx context.Context, code string) (bool, error) {
	n, err := r.rdb.Exists(ctx, gameKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("check game code: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) loadGames(ctx context.Context, codes []string) ([]*domain.Game, error) {
	out := make([]*domain.Game, 0, len(codes))
	for _, c := range codes {
		g, err := r.FindGameByCode(ctx, c)
		if err != nil {
			return nil, err
		}
		if g != nil {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *Redis) ListGamesByUser(ctx context.Context, userID int64, limit int) ([]*domain.Game, error) {
	codes, err := r.rdb.ZRevRange(ctx, idxUserKey(userID), 0, int64(clampLimit(limit)-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list user games: %w", err)
	}
	return r.loadGames(ctx, codes)
}

func (r *Redis) ListWaitingGames(ctx context.Context, limit int) ([]*domain.Game, error) {
	codes, err := r.rdb.SMembers(ctx, lobbyKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list lobby: %w", err)
	}
	games, err := r.loadGames(ctx, codes)
	if err != nil {
		return nil, err
	}
	waiting := games[:0]
	for _, g := range games {
		if g.Status == domain.StatusWaiting {
			waiting = append(waiting, g)
		}
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].CreatedAt.After(waiting[j].CreatedAt) })
	if limit = clampLimit(limit); len(waiting) > limit {
		waiting = waiting[:limit]
	}
	return waiting, nil
}

func (r *Redis) AppendMove(ctx context.Context, mv *domain.Move) error {
	gk, mk := gameKey(mv.GameCode), movesKey(mv.GameCode)
	return r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, gk).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrGameMissing
		}
		length, err := tx.LLen(ctx, mk).Result()
		if err != nil {
			return err
		}
		seq := int(length) + 1
		raw, err := encodeMove(mv, seq)
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, mk, raw)
			return nil
		}); err != nil {
			return err
		}
		mv.Seq = seq
		return nil
	}, gk, mk)
}

func encodeMove(mv *domain.Move, seq int) ([]byte, error) {
	cp := *mv
	cp.Seq = seq
	if cp.PlayedAt.IsZero() {
		cp.PlayedAt = time.Now()
		mv.PlayedAt = cp.PlayedAt
	}
	return json.Marshal(&cp)
}

func (r *Redis) NextMoveSequence(ctx context.Context, code string) (int, error) {
	n, err := r.rdb.LLen(ctx, movesKey(code)).Result()
	if err != nil {
		return 0, fmt.Errorf("count moves: %w", err)
	}
	return int(n) + 1, nil
}

func (r *Redis) ListMoves(ctx context.Context, code string) ([]*domain.Move, error) {
	raws, err := r.rdb.LRange(ctx, movesKey(code), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list moves: %w", err)
	}
	moves := make([]*domain.Move, 0, len(raws))
	for _, raw := range raws {
		var mv domain.Move
		if err := json.Unmarshal([]byte(raw), &mv); err != nil {
			return nil, fmt.Errorf("decode move: %w", err)
		}
		moves = append(moves, &mv)
	}
	return moves, nil
}

// Commit applies the transition with WATCH/MULTI on the game and its move list.
func (r *Redis) Commit(ctx context.Context, tr Transition) error {
	if tr.Game == nil {
		return ErrGameMissing
	}
	code := tr.Game.Code
	gk, mk := gameKey(code), movesKey(code)
	seq := 0
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, gk).Bytes()
		if err == redis.Nil {
			return ErrGameMissing
		}
		if err != nil {
			return err
		}
		var cur domain.Game
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("decode game: %w", err)
		}
		for _, s := range tr.Stats {
			n, err := tx.Exists(ctx, userKey(s.UserID)).Result()
			if err != nil {
				return err
			}
			if n == 0 {
				return errUserMissing(s.UserID)
			}
		}

		next := tr.Game.Clone()
		next.ID = cur.ID
		newRaw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		var moveRaw []byte
		if tr.Move != nil {
			length, err := tx.LLen(ctx, mk).Result()
			if err != nil {
				return err
			}
			seq = int(length) + 1
			tr.Move.GameCode = code
			if moveRaw, err = encodeMove(tr.Move, seq); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			ttl := time.Duration(0)
			if next.Status.Terminal() {
				ttl = finishedTTL
			}
			pipe.Set(ctx, gk, newRaw, ttl)
			if moveRaw != nil {
				pipe.RPush(ctx, mk, moveRaw)
			}
			if ttl > 0 {
				pipe.Expire(ctx, mk, ttl)
			}
			if next.BlackID != 0 && cur.BlackID == 0 {
				pipe.ZAdd(ctx, idxUserKey(next.BlackID), redis.Z{Score: indexScore(next), Member: code})
			}
			if next.Status != domain.StatusWaiting {
				pipe.SRem(ctx, lobbyKey(), code)
			}
			for _, s := range tr.Stats {
				w, l, d := statDelta(s.Outcome)
				uk := userKey(s.UserID)
				pipe.HIncrBy(ctx, uk, "wins", int64(w))
				pipe.HIncrBy(ctx, uk, "losses", int64(l))
				pipe.HIncrBy(ctx, uk, "draws", int64(d))
				pipe.HIncrBy(ctx, uk, "rating", int64(s.Outcome.RatingDelta()))
			}
			return nil
		})
		return err
	}, gk, mk)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("concurrent update on %s: %w", code, err)
	}
	if err != nil {
		return err
	}
	if tr.Move != nil {
		tr.Move.Seq = seq
	}
	return nil
}

func (r *Redis) CreateUser(ctx context.Context, u *domain.User) error {
	if u.Rating == 0 {
		u.Rating = domain.DefaultRating
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	id, err := r.rdb.Incr(ctx, seqKey("user")).Result()
	if err != nil {
		return fmt.Errorf("next user id: %w", err)
	}
	ok, err := r.rdb.SetNX(ctx, usernameKey(u.Username), id, 0).Result()
	if err != nil {
		return fmt.Errorf("reserve username: %w", err)
	}
	if !ok {
		return ErrUsernameTaken
	}
	if err := r.rdb.HSet(ctx, userKey(id), map[string]any{
		"username":      strings.TrimSpace(u.Username),
		"password_hash": u.PasswordHash,
		"rating":        u.Rating,
		"wins":          u.Wins,
		"losses":        u.Losses,
		"draws":         u.Draws,
		"created_at":    u.CreatedAt.UTC().Format(time.RFC3339Nano),
	}).Err(); err != nil {
		_ = r.rdb.Del(ctx, usernameKey(u.Username)).Err()
		return fmt.Errorf("save user: %w", err)
	}
	u.ID = id
	return nil
}

func (r *Redis) FindUserByID(ctx context.Context, id int64) (*domain.User, error) {
	fields, err := r.rdb.HGetAll(ctx, userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	u := &domain.User{ID: id, Username: fields["username"], PasswordHash: fields["password_hash"]}
	u.Rating, _ = strconv.Atoi(fields["rating"])
	u.Wins, _ = strconv.Atoi(fields["wins"])
	u.Losses, _ = strconv.Atoi(fields["losses"])
	u.Draws, _ = strconv.Atoi(fields["draws"])
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	return u, nil
}

func (r *Redis) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	id, err := r.rdb.Get(ctx, usernameKey(username)).Int64()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup username: %w", err)
	}
	return r.FindUserByID(ctx, id)
}

func (r *Redis) UpdateUserStats(ctx context.Context, userID int64, o domain.StatOutcome) error {
	uk := userKey(userID)
	n, err := r.rdb.Exists(ctx, uk).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return errUserMissing(userID)
	}
	w, l, d := statDelta(o)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, uk, "wins", int64(w))
		pipe.HIncrBy(ctx, uk, "losses", int64(l))
		pipe.HIncrBy(ctx, uk, "draws", int64(d))
		pipe.HIncrBy(ctx, uk, "rating", int64(o.RatingDelta()))
		return nil
	})
	return err
}

// ParseRedisURL builds client options from redis:// or rediss:// URLs.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}
