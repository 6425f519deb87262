package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/Cheese-Arena/internal/domain"
)

// StartPosition is the standard initial FEN.
const StartPosition = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// ErrRejected means the move is not legal in the given position.
var ErrRejected = errors.New("move rejected")

// Terminal is the kind of game end detected after a move.
type Terminal string

const (
	TerminalNone                 Terminal = ""
	TerminalCheckmate            Terminal = "CHECKMATE"
	TerminalStalemate            Terminal = "STALEMATE"
	TerminalDraw                 Terminal = "DRAW"
	TerminalInsufficientMaterial Terminal = "INSUFFICIENT_MATERIAL"
)

// Termination maps the engine verdict onto the room record.
func (t Terminal) Termination() domain.Termination {
	switch t {
	case TerminalCheckmate:
		return domain.TerminationCheckmate
	case TerminalStalemate:
		return domain.TerminationStalemate
	case TerminalInsufficientMaterial:
		return domain.TerminationInsufficientMaterial
	case TerminalDraw:
		return domain.TerminationDraw
	}
	return domain.TerminationNone
}

// Outcome is the result of an accepted move.
type Outcome struct {
	Position  string
	SAN       string
	Piece     string // FEN letter of the moved piece
	Captured  string // FEN letter, empty when nothing was taken
	Promotion string
	Terminal  Terminal
	Winner    domain.Side // set only for checkmate
}

// Engine checks legality and reports the resulting position.
type Engine interface {
	TryMove(position, from, to, promotion string) (Outcome, error)
}

// ChessEngine implements Engine on corentings/chess.
type ChessEngine struct{}

func NewChessEngine() *ChessEngine { return &ChessEngine{} }

// TryMove applies from-to(-promotion) to position. Squares are lowercase algebraic.
func (e *ChessEngine) TryMove(position, from, to, promotion string) (Outcome, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	game, err := load(position)
	if err != nil {
		return Outcome{}, err
	}
	pos := game.Position()
	board := pos.Board()

	fromSq, ok := ParseSquare(from)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: bad square %q", ErrRejected, from)
	}
	toSq, ok := ParseSquare(to)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: bad square %q", ErrRejected, to)
	}
	moved := board.Piece(fromSq)
	if moved == nchess.NoPiece {
		return Outcome{}, fmt.Errorf("%w: no piece on %s", ErrRejected, from)
	}

	promo := strings.ToLower(strings.TrimSpace(promotion))
	if promo == "" && moved.Type() == nchess.Pawn && (toSq.Rank() == nchess.Rank8 || toSq.Rank() == nchess.Rank1) {
		promo = "q"
	}
	if moved.Type() != nchess.Pawn {
		promo = ""
	}

	uci := from + to + promo
	if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrRejected, uci)
	}
	mv := lastMove(game)
	if mv == nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrRejected, uci)
	}

	out := Outcome{
		Position:  game.FEN(),
		SAN:       nchess.AlgebraicNotation{}.Encode(pos, mv),
		Piece:     pieceLetter(moved),
		Promotion: promo,
	}
	if mv.HasTag(nchess.EnPassant) {
		out.Captured = pieceLetter(board.Piece(nchess.NewSquare(toSq.File(), fromSq.Rank())))
	} else if mv.HasTag(nchess.Capture) {
		out.Captured = pieceLetter(board.Piece(toSq))
	}

	switch game.Outcome() {
	case nchess.WhiteWon:
		out.Terminal, out.Winner = TerminalCheckmate, domain.SideWhite
	case nchess.BlackWon:
		out.Terminal, out.Winner = TerminalCheckmate, domain.SideBlack
	case nchess.Draw:
		switch game.Method() {
		case nchess.Stalemate:
			out.Terminal = TerminalStalemate
		case nchess.InsufficientMaterial:
			out.Terminal = TerminalInsufficientMaterial
		default:
			out.Terminal = TerminalDraw
		}
	case nchess.NoOutcome:
		// The library only ends the game itself at seventy-five moves.
		if fiftyMoveDraw(game) {
			out.Terminal = TerminalDraw
		}
	}
	return out, nil
}

func fiftyMoveDraw(game *nchess.Game) bool {
	for _, m := range game.EligibleDraws() {
		if m == nchess.FiftyMoveRule {
			return true
		}
	}
	return false
}

// SideToMove reports whose turn it is in position.
func SideToMove(position string) (domain.Side, error) {
	game, err := load(position)
	if err != nil {
		return "", err
	}
	if game.Position().Turn() == nchess.Black {
		return domain.SideBlack, nil
	}
	return domain.SideWhite, nil
}

// Board parses position for rendering.
func Board(position string) (*nchess.Board, error) {
	game, err := load(position)
	if err != nil {
		return nil, err
	}
	return game.Position().Board(), nil
}

// ParseSquare converts "e4" into a board square.
func ParseSquare(s string) (nchess.Square, bool) {
	if !ValidSquare(s) {
		return 0, false
	}
	s = strings.ToLower(s)
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}

// ValidSquare accepts two-character algebraic coordinates in either case.
func ValidSquare(s string) bool {
	if len(s) != 2 {
		return false
	}
	f := s[0] | 0x20
	return f >= 'a' && f <= 'h' && s[1] >= '1' && s[1] <= '8'
}

// ValidPromotion accepts an empty value or one of q, r, b, n.
func ValidPromotion(p string) bool {
	switch strings.ToLower(p) {
	case "", "q", "r", "b", "n":
		return true
	}
	return false
}

func load(position string) (*nchess.Game, error) {
	position = strings.TrimSpace(position)
	if position == "" || position == "startpos" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(position)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	return nchess.NewGame(opt), nil
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func pieceLetter(p nchess.Piece) string {
	if p == nchess.NoPiece {
		return ""
	}
	var l string
	switch p.Type() {
	case nchess.King:
		l = "k"
	case nchess.Queen:
		l = "q"
	case nchess.Rook:
		l = "r"
	case nchess.Bishop:
		l = "b"
	case nchess.Knight:
		l = "n"
	case nchess.Pawn:
		l = "p"
	default:
		return ""
	}
	if p.Color() == nchess.White {
		return strings.ToUpper(l)
	}
	return l
}
