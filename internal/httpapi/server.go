package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/park285/Cheese-Arena/internal/arena"
	"github.com/park285/Cheese-Arena/internal/auth"
	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/obslog"
	"github.com/park285/Cheese-Arena/internal/render"
	"go.uber.org/zap"
)

// Games lists rooms straight from the durable store.
type Games interface {
	ListWaitingGames(ctx context.Context, limit int) ([]*domain.Game, error)
	ListGamesByUser(ctx context.Context, userID int64, limit int) ([]*domain.Game, error)
}

// Realtime is the websocket side the API hands off to. Room updates caused
// by REST calls reach it through the arena's commit hook.
type Realtime interface {
	HandleRoom(w http.ResponseWriter, r *http.Request)
}

type Verifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

type Deps struct {
	Arena    *arena.Manager
	Accounts *auth.Accounts
	Verifier Verifier
	Games    Games
	Realtime Realtime
	Renderer *render.Renderer

	AllowedOrigins []string
	HistoryLimit   int
}

type API struct {
	Deps
}

// NewRouter builds the HTTP surface.
func NewRouter(d Deps) http.Handler {
	if d.HistoryLimit <= 0 {
		d.HistoryLimit = 50
	}
	if d.Renderer == nil {
		d.Renderer = render.NewRenderer()
	}
	a := &API{Deps: d}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.health).Methods(http.MethodGet)

	r.HandleFunc("/ws/games/{code}", d.Realtime.HandleRoom).Methods(http.MethodGet)
	r.HandleFunc("/com/chess/{code}", d.Realtime.HandleRoom).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", a.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", a.login).Methods(http.MethodPost)

	api.Handle("/games", a.authed(a.createGame)).Methods(http.MethodPost)
	api.Handle("/games", a.authed(a.lobby)).Methods(http.MethodGet)
	api.Handle("/games/{code}/join", a.authed(a.joinGame)).Methods(http.MethodPost)
	api.HandleFunc("/games/{code}", a.getGame).Methods(http.MethodGet)
	api.HandleFunc("/games/{code}/moves", a.listMoves).Methods(http.MethodGet)
	api.HandleFunc("/games/{code}/pgn", a.pgn).Methods(http.MethodGet)
	api.HandleFunc("/games/{code}/board.png", a.board).Methods(http.MethodGet)

	api.Handle("/users/me", a.authed(a.me)).Methods(http.MethodGet)
	api.Handle("/users/me/games", a.authed(a.myGames)).Methods(http.MethodGet)

	r.Use(accessLog)
	return cors(d.AllowedOrigins, r)
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "liveRooms": a.Arena.Live()})
}

type identityKey struct{}

func identityFrom(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(identityKey{}).(auth.Identity)
	return id
}

// authed requires a valid bearer token.
func (a *API) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		id, err := a.Verifier.Verify(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func cors(origins []string, next http.Handler) http.Handler {
	wildcard := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case origin == "":
		case wildcard:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for websocket upgrades.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") || strings.HasPrefix(r.URL.Path, "/com/") {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		obslog.L().Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}
