package arenadto

import "time"

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserProfile struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Rating      int       `json:"rating"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Draws       int       `json:"draws"`
	GamesPlayed int       `json:"gamesPlayed"`
	CreatedAt   time.Time `json:"createdAt"`
}

type AuthResponse struct {
	Token     string      `json:"token"`
	UserID    int64       `json:"userId"`
	Username  string      `json:"username"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      UserProfile `json:"user"`
}

type GameSummary struct {
	GameCode    string     `json:"gameCode"`
	WhitePlayer string     `json:"whitePlayer"`
	BlackPlayer string     `json:"blackPlayer,omitempty"`
	Status      string     `json:"status"`
	Result      string     `json:"result,omitempty"`
	Termination string     `json:"termination,omitempty"`
	MoveCount   int        `json:"moveCount"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastMoveAt  *time.Time `json:"lastMoveAt,omitempty"`
}

type GameList struct {
	Games []GameSummary `json:"games"`
}

type MoveRecord struct {
	Seq       int       `json:"seq"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Piece     string    `json:"piece"`
	Captured  string    `json:"captured,omitempty"`
	Promotion string    `json:"promotion,omitempty"`
	SAN       string    `json:"san"`
	PlayedAt  time.Time `json:"playedAt"`
}

type MoveList struct {
	GameCode string       `json:"gameCode"`
	Moves    []MoveRecord `json:"moves"`
}

// JoinResponse is returned by the REST join; the caller then opens the socket.
type JoinResponse struct {
	Game     Snapshot `json:"game"`
	YourSide string   `json:"yourSide"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
