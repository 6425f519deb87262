package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Piece outlines on a 45x45 canvas. Every shape sits on the shared base.
var pieceShapes = map[nchess.PieceType][]string{
	nchess.Pawn: {
		`<circle cx="22.5" cy="16" r="6" %s/>`,
		`<path d="M 16 31 Q 22.5 19 29 31 Z" %s/>`,
	},
	nchess.Rook: {
		`<path d="M 16 17 L 29 17 L 29 31 L 16 31 Z" %s/>`,
		`<path d="M 14 11 L 18 11 L 18 13 L 20.5 13 L 20.5 11 L 24.5 11 L 24.5 13 L 27 13 L 27 11 L 31 11 L 31 17 L 14 17 Z" %s/>`,
	},
	nchess.Knight: {
		`<path d="M 16 31 L 18 21 L 13 19 L 19 10 L 26 9 L 31 16 L 29 31 Z" %s/>`,
	},
	nchess.Bishop: {
		`<path d="M 16 31 Q 14 20 22.5 11 Q 31 20 29 31 Z" %s/>`,
		`<circle cx="22.5" cy="8.5" r="2.5" %s/>`,
	},
	nchess.Queen: {
		`<path d="M 14 31 L 10 13 L 17 20 L 22.5 9 L 28 20 L 35 13 L 31 31 Z" %s/>`,
	},
	nchess.King: {
		`<path d="M 15 31 L 13 18 L 32 18 L 30 31 Z" %s/>`,
		`<path d="M 21 5 L 24 5 L 24 8 L 27 8 L 27 11 L 24 11 L 24 18 L 21 18 L 21 11 L 18 11 L 18 8 L 21 8 Z" %s/>`,
	},
}

const pieceBase = `<path d="M 11 31 L 34 31 L 34 37 L 11 37 Z" %s/>`

func pieceSVG(piece nchess.Piece) ([]byte, error) {
	shapes, ok := pieceShapes[piece.Type()]
	if !ok {
		return nil, fmt.Errorf("no outline for piece %v", piece)
	}
	fill, stroke := "#f5f5f0", "#1e1e1e"
	if piece.Color() == nchess.Black {
		fill, stroke = "#2a2a2e", "#0a0a0a"
	}
	style := fmt.Sprintf(`fill="%s" stroke="%s" stroke-width="1.5" stroke-linejoin="round"`, fill, stroke)

	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">`)
	for _, s := range shapes {
		b.WriteString(fmt.Sprintf(s, style))
	}
	b.WriteString(fmt.Sprintf(pieceBase, style))
	b.WriteString(`</svg>`)
	return []byte(b.String()), nil
}

type pieceKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

// pieceImage rasterises a piece at the given square size, caching the result.
func pieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	img, ok := pieceCache[key]
	pieceCacheMu.RUnlock()
	if ok {
		return img, nil
	}

	data, err := pieceSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	rgba := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = rgba
	pieceCacheMu.Unlock()
	return rgba, nil
}
