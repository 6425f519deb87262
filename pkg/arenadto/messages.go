package arenadto

import "encoding/json"

// Outbound message types.
const (
	TypeConnected    = "CONNECTED"
	TypePlayerJoined = "PLAYER_JOINED"
	TypePlayerLeft   = "PLAYER_LEFT"
	TypeGameUpdate   = "GAME_UPDATE"
	TypeGameEnd      = "GAME_END"
	TypeMoveInvalid  = "MOVE_INVALID"
	TypeError        = "ERROR"
)

// Inbound message types.
const (
	TypeMove   = "MOVE"
	TypeResign = "RESIGN"
	TypeSync   = "SYNC"
)

// Envelope is every server-to-client frame. YourSide is set only on GAME_UPDATE.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	YourSide  string `json:"yourSide,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Frame is the client-side view of an Envelope with the payload left raw.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	YourSide  string          `json:"yourSide,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ClientMessage is every client-to-server frame.
type ClientMessage struct {
	Type      string `json:"type"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
}

type MoveRef struct {
	From      string `json:"from"`
	To        string `json:"to"`
	SAN       string `json:"san"`
	Promotion string `json:"promotion,omitempty"`
}

// Snapshot is the full room state carried by GAME_UPDATE.
type Snapshot struct {
	GameCode    string   `json:"gameCode"`
	FEN         string   `json:"fen"`
	Turn        string   `json:"turn"`
	Status      string   `json:"status"`
	WhitePlayer string   `json:"whitePlayer"`
	BlackPlayer string   `json:"blackPlayer,omitempty"`
	Result      string   `json:"result,omitempty"`
	Termination string   `json:"termination,omitempty"`
	MoveCount   int      `json:"moveCount"`
	LastMove    *MoveRef `json:"lastMove,omitempty"`
}

// GameEnd names the players by username. Winner is "DRAW" for drawn games
// and Loser is empty then.
type GameEnd struct {
	Winner string `json:"winner"`
	Loser  string `json:"loser,omitempty"`
	Reason string `json:"reason"`
	Method string `json:"method"`
}

const DrawWinner = "DRAW"

// Presence is the data of PLAYER_JOINED and PLAYER_LEFT. Reconnect is only
// set on PLAYER_JOINED, StillConnected only on PLAYER_LEFT.
type Presence struct {
	UserID         int64  `json:"userId"`
	Username       string `json:"username"`
	Side           string `json:"side"`
	Reconnect      bool   `json:"reconnect,omitempty"`
	StillConnected bool   `json:"stillConnected,omitempty"`
}

type Connected struct {
	ConnectionID string `json:"connectionId"`
	GameCode     string `json:"gameCode"`
	UserID       int64  `json:"userId"`
	Side         string `json:"side"`
	Message      string `json:"message"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
