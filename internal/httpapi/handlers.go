package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/park285/Cheese-Arena/internal/arena"
	"github.com/park285/Cheese-Arena/internal/auth"
	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/gateway"
	"github.com/park285/Cheese-Arena/internal/obslog"
	"github.com/park285/Cheese-Arena/internal/render"
	"github.com/park285/Cheese-Arena/pkg/arenadto"
	"go.uber.org/zap"
)

const maxBodyBytes = 16 << 10

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var in arenadto.Credentials
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	s, err := a.Accounts.Register(r.Context(), in.Username, in.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse(s))
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var in arenadto.Credentials
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	s, err := a.Accounts.Login(r.Context(), in.Username, in.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse(s))
}

func (a *API) createGame(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	g, err := a.Arena.Create(r.Context(), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, gateway.Snapshot(g, nil))
}

func (a *API) joinGame(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	code := arena.NormalizeCode(mux.Vars(r)["code"])
	g, err := a.Arena.Join(r.Context(), code, id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, arenadto.JoinResponse{
		Game:     gateway.Snapshot(g, nil),
		YourSide: string(g.SideOf(id.UserID)),
	})
}

func (a *API) lobby(w http.ResponseWriter, r *http.Request) {
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	if status != "" && status != "waiting" {
		writeError(w, domain.Errorf(domain.CodeMalformedInput, "unsupported status filter %q", status))
		return
	}
	games, err := a.Games.ListWaitingGames(r.Context(), a.HistoryLimit)
	if err != nil {
		writeError(w, domain.Wrap(domain.CodePersistence, err, "list waiting games"))
		return
	}
	writeJSON(w, http.StatusOK, gameList(games))
}

func (a *API) getGame(w http.ResponseWriter, r *http.Request) {
	g, err := a.Arena.Snapshot(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gateway.Snapshot(g, nil))
}

func (a *API) listMoves(w http.ResponseWriter, r *http.Request) {
	code := arena.NormalizeCode(mux.Vars(r)["code"])
	moves, err := a.Arena.Moves(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	out := arenadto.MoveList{GameCode: code, Moves: make([]arenadto.MoveRecord, 0, len(moves))}
	for _, mv := range moves {
		out.Moves = append(out.Moves, arenadto.MoveRecord{
			Seq:       mv.Seq,
			From:      mv.From,
			To:        mv.To,
			Piece:     mv.Piece,
			Captured:  mv.Captured,
			Promotion: mv.Promotion,
			SAN:       mv.SAN,
			PlayedAt:  mv.PlayedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) pgn(w http.ResponseWriter, r *http.Request) {
	code := arena.NormalizeCode(mux.Vars(r)["code"])
	doc, err := a.Arena.PGN(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-chess-pgn")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", code+".pgn"))
	_, _ = io.WriteString(w, doc)
}

func (a *API) board(w http.ResponseWriter, r *http.Request) {
	code := arena.NormalizeCode(mux.Vars(r)["code"])
	g, err := a.Arena.Snapshot(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	opts := render.Options{
		Flip:    strings.EqualFold(r.URL.Query().Get("side"), string(domain.SideBlack)),
		Caption: caption(g),
	}
	if moves, err := a.Arena.Moves(r.Context(), code); err == nil && len(moves) > 0 {
		last := moves[len(moves)-1]
		opts.Highlight = &render.Highlight{From: last.From, To: last.To}
	}
	img, err := a.Renderer.RenderPNG(r.Context(), g.Position, opts)
	if err != nil {
		obslog.L().Error("board_render_failed", zap.String("game_code", code), zap.Error(err))
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img)
}

func caption(g *domain.Game) string {
	black := g.BlackName
	if black == "" {
		black = "?"
	}
	return fmt.Sprintf("%s  %s vs %s", g.Code, g.WhiteName, black)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	u, err := a.Accounts.Profile(r.Context(), identityFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile(u))
}

func (a *API) myGames(w http.ResponseWriter, r *http.Request) {
	games, err := a.Games.ListGamesByUser(r.Context(), identityFrom(r.Context()).UserID, a.HistoryLimit)
	if err != nil {
		writeError(w, domain.Wrap(domain.CodePersistence, err, "list games"))
		return
	}
	writeJSON(w, http.StatusOK, gameList(games))
}

func authResponse(s *auth.Session) arenadto.AuthResponse {
	return arenadto.AuthResponse{
		Token:     s.Token,
		UserID:    s.User.ID,
		Username:  s.User.Username,
		ExpiresAt: s.ExpiresAt,
		User:      profile(s.User),
	}
}

func profile(u *domain.User) arenadto.UserProfile {
	return arenadto.UserProfile{
		ID:          u.ID,
		Username:    u.Username,
		Rating:      u.Rating,
		Wins:        u.Wins,
		Losses:      u.Losses,
		Draws:       u.Draws,
		GamesPlayed: u.GamesPlayed(),
		CreatedAt:   u.CreatedAt,
	}
}

func gameList(games []*domain.Game) arenadto.GameList {
	out := arenadto.GameList{Games: make([]arenadto.GameSummary, 0, len(games))}
	for _, g := range games {
		out.Games = append(out.Games, arenadto.GameSummary{
			GameCode:    g.Code,
			WhitePlayer: g.WhiteName,
			BlackPlayer: g.BlackName,
			Status:      string(g.Status),
			Result:      string(g.Result),
			Termination: string(g.Termination),
			MoveCount:   g.MoveCount,
			CreatedAt:   g.CreatedAt,
			LastMoveAt:  g.LastMoveAt,
		})
	}
	return out
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Wrap(domain.CodeMalformedInput, err, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Debug("http_write_failed", zap.Error(err))
	}
}

var statusByCode = map[domain.Code]int{
	domain.CodeNotFound:        http.StatusNotFound,
	domain.CodeInvalidState:    http.StatusConflict,
	domain.CodeSelfJoin:        http.StatusConflict,
	domain.CodeConflict:        http.StatusConflict,
	domain.CodeOutOfTurn:       http.StatusConflict,
	domain.CodeNotAParticipant: http.StatusForbidden,
	domain.CodeMalformedInput:  http.StatusBadRequest,
	domain.CodeIllegalMove:     http.StatusBadRequest,
	domain.CodeUnauthorized:    http.StatusUnauthorized,
	domain.CodePersistence:     http.StatusServiceUnavailable,
}

func writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
		code = "INTERNAL"
	}
	msg := err.Error()
	var de *domain.Error
	if errors.As(err, &de) && de.Msg != "" {
		msg = de.Msg
	}
	if status >= http.StatusInternalServerError {
		obslog.L().Warn("http_error", zap.String("code", string(code)), zap.Error(err))
	}
	writeJSON(w, status, arenadto.ErrorResponse{Error: arenadto.ErrorBody{Code: string(code), Message: msg}})
}
