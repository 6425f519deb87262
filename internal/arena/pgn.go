package arena

import (
	"context"
	"fmt"
	"strings"

	"github.com/park285/Cheese-Arena/internal/domain"
)

// PGN exports a room as a PGN document.
func (m *Manager) PGN(ctx context.Context, code string) (string, error) {
	g, err := m.Snapshot(ctx, code)
	if err != nil {
		return "", err
	}
	moves, err := m.store.ListMoves(ctx, g.Code)
	if err != nil {
		return "", domain.Wrap(domain.CodePersistence, err, "list moves")
	}
	white, black := m.Players(ctx, g)
	return buildPGN(g, white, black, moves), nil
}

func pgnResult(r domain.Result) string {
	switch r {
	case domain.ResultWhiteWin:
		return "1-0"
	case domain.ResultBlackWin:
		return "0-1"
	case domain.ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(g *domain.Game, white, black string, moves []*domain.Move) string {
	var b strings.Builder
	date := g.CreatedAt
	result := pgnResult(g.Result)

	b.WriteString("[Event \"Cheese Arena\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(g.Code)))
	if date.IsZero() {
		b.WriteString("[Date \"????.??.??\"]\n")
	} else {
		b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	}
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(white)))
	if black == "" {
		black = "?"
	}
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(black)))
	if g.Termination != domain.TerminationNone {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(string(g.Termination)))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	for i := 0; i < len(moves); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s ", i/2+1, strings.TrimSpace(moves[i].SAN)))
		if i+1 < len(moves) {
			b.WriteString(strings.TrimSpace(moves[i+1].SAN))
			b.WriteString(" ")
		}
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
