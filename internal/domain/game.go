package domain

import "time"

// Side identifies a participant's color, or a spectator.
type Side string

const (
	SideWhite     Side = "WHITE"
	SideBlack     Side = "BLACK"
	SideSpectator Side = "SPECTATOR"
)

// Opponent returns the other color. Spectators have no opponent.
func (s Side) Opponent() Side {
	switch s {
	case SideWhite:
		return SideBlack
	case SideBlack:
		return SideWhite
	default:
		return SideSpectator
	}
}

// Status is the lifecycle state of a room.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusActive    Status = "ACTIVE"
	StatusFinished  Status = "FINISHED"
	StatusAbandoned Status = "ABANDONED"
)

// Terminal reports whether the status accepts no further mutation.
func (s Status) Terminal() bool { return s == StatusFinished || s == StatusAbandoned }

// Result is set only once a room reaches a terminal status.
type Result string

const (
	ResultNone      Result = ""
	ResultWhiteWin  Result = "WHITE_WIN"
	ResultBlackWin  Result = "BLACK_WIN"
	ResultDraw      Result = "DRAW"
	ResultAbandoned Result = "ABANDONED"
)

// WinFor maps a winning side to its result.
func WinFor(s Side) Result {
	if s == SideBlack {
		return ResultBlackWin
	}
	return ResultWhiteWin
}

// Winner returns the winning side; ok is false for draws, abandonment and unfinished games.
func (r Result) Winner() (Side, bool) {
	switch r {
	case ResultWhiteWin:
		return SideWhite, true
	case ResultBlackWin:
		return SideBlack, true
	default:
		return "", false
	}
}

// Termination records how a room ended.
type Termination string

const (
	TerminationNone                 Termination = ""
	TerminationCheckmate            Termination = "CHECKMATE"
	TerminationStalemate            Termination = "STALEMATE"
	TerminationDraw                 Termination = "DRAW"
	TerminationInsufficientMaterial Termination = "INSUFFICIENT_MATERIAL"
	TerminationResignation          Termination = "RESIGNATION"
	TerminationAbandonment          Termination = "ABANDONMENT"
)

// Game is the authoritative record of one room.
type Game struct {
	ID          int64       `json:"id"`
	Code        string      `json:"code"`
	WhiteID     int64       `json:"white_id"`
	WhiteName   string      `json:"white_name,omitempty"`
	BlackID     int64       `json:"black_id,omitempty"`
	BlackName   string      `json:"black_name,omitempty"`
	Position    string      `json:"fen"`
	Turn        Side        `json:"turn"`
	Status      Status      `json:"status"`
	Result      Result      `json:"result,omitempty"`
	Termination Termination `json:"termination,omitempty"`
	MoveCount   int         `json:"move_count"`
	CreatedAt   time.Time   `json:"created_at"`
	LastMoveAt  *time.Time  `json:"last_move_at,omitempty"`
}

// HasBlack reports whether a second participant has joined.
func (g *Game) HasBlack() bool { return g != nil && g.BlackID != 0 }

// SideOf returns the user's relation to the game.
func (g *Game) SideOf(userID int64) Side {
	if g == nil || userID == 0 {
		return SideSpectator
	}
	switch userID {
	case g.WhiteID:
		return SideWhite
	case g.BlackID:
		return SideBlack
	}
	return SideSpectator
}

// PlayerID returns the user bound to a side, or 0.
func (g *Game) PlayerID(s Side) int64 {
	switch s {
	case SideWhite:
		return g.WhiteID
	case SideBlack:
		return g.BlackID
	}
	return 0
}

// PlayerName returns the display name bound to a side.
func (g *Game) PlayerName(s Side) string {
	switch s {
	case SideWhite:
		return g.WhiteName
	case SideBlack:
		return g.BlackName
	}
	return ""
}

// Clone returns a deep copy safe to hand across goroutines.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	cp := *g
	if g.LastMoveAt != nil {
		t := *g.LastMoveAt
		cp.LastMoveAt = &t
	}
	return &cp
}

// Move is one append-only entry of a room's history. Seq starts at 1.
type Move struct {
	GameCode  string    `json:"game_code"`
	Seq       int       `json:"seq"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Piece     string    `json:"piece"`
	Captured  string    `json:"captured,omitempty"`
	Promotion string    `json:"promotion,omitempty"`
	SAN       string    `json:"san"`
	PlayedAt  time.Time `json:"played_at"`
}

const (
	DefaultRating = 1200
	RatingStep    = 10
)

// User is an account with its running score.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Rating       int
	Wins         int
	Losses       int
	Draws        int
	CreatedAt    time.Time
}

// GamesPlayed sums the finished games of the user.
func (u *User) GamesPlayed() int { return u.Wins + u.Losses + u.Draws }

// StatOutcome is the per-player effect of a finished game.
type StatOutcome string

const (
	OutcomeWin  StatOutcome = "WIN"
	OutcomeLoss StatOutcome = "LOSS"
	OutcomeDraw StatOutcome = "DRAW"
)

// Apply adjusts counters and rating in place.
func (u *User) Apply(o StatOutcome) {
	switch o {
	case OutcomeWin:
		u.Wins++
		u.Rating += RatingStep
	case OutcomeLoss:
		u.Losses++
		u.Rating -= RatingStep
	case OutcomeDraw:
		u.Draws++
	}
}

// RatingDelta is the rating change an outcome produces.
func (o StatOutcome) RatingDelta() int {
	switch o {
	case OutcomeWin:
		return RatingStep
	case OutcomeLoss:
		return -RatingStep
	}
	return 0
}

// StatUpdate pairs a user with the outcome to record.
type StatUpdate struct {
	UserID  int64
	Outcome StatOutcome
}

// StatsFor derives both players' outcomes from a terminal result.
// Abandoned and unfinished games produce no updates.
func StatsFor(g *Game) []StatUpdate {
	if g == nil || g.Status != StatusFinished || !g.HasBlack() {
		return nil
	}
	switch g.Result {
	case ResultWhiteWin:
		return []StatUpdate{{UserID: g.WhiteID, Outcome: OutcomeWin}, {UserID: g.BlackID, Outcome: OutcomeLoss}}
	case ResultBlackWin:
		return []StatUpdate{{UserID: g.BlackID, Outcome: OutcomeWin}, {UserID: g.WhiteID, Outcome: OutcomeLoss}}
	case ResultDraw:
		return []StatUpdate{{UserID: g.WhiteID, Outcome: OutcomeDraw}, {UserID: g.BlackID, Outcome: OutcomeDraw}}
	}
	return nil
}
