package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/Cheese-Arena/internal/rules"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	squareSize   = 72
	boardSize    = squareSize * 8
	sideMargin   = 28
	topMargin    = 40
	bottomMargin = 28
)

var (
	lightSquare    = color.RGBA{233, 207, 163, 255}
	darkSquare     = color.RGBA{187, 136, 96, 255}
	backdrop       = color.RGBA{28, 31, 46, 255}
	highlightFill  = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	captionColor   = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	coordinateText = color.NRGBA{R: 204, G: 210, B: 236, A: 255}
)

// Highlight marks the last move on the board.
type Highlight struct {
	From string
	To   string
}

type Options struct {
	Highlight *Highlight
	// Flip draws the board from black's side.
	Flip    bool
	Caption string
}

// Renderer draws positions as PNG images.
type Renderer struct{}

func NewRenderer() *Renderer { return &Renderer{} }

// RenderPNG draws the position given in FEN.
func (r *Renderer) RenderPNG(ctx context.Context, position string, opts Options) ([]byte, error) {
	board, err := rules.Board(position)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, boardSize+sideMargin*2, boardSize+topMargin+bottomMargin))
	draw.Draw(img, img.Bounds(), image.NewUniform(backdrop), image.Point{}, draw.Src)

	l := layout{origin: image.Pt(sideMargin, topMargin), flip: opts.Flip}
	l.drawSquares(img)
	if opts.Highlight != nil {
		l.drawHighlight(img, opts.Highlight)
	}
	if err := l.drawPieces(img, board); err != nil {
		return nil, err
	}
	l.drawCoordinates(img)
	drawCaption(img, opts.Caption)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

type layout struct {
	origin image.Point
	flip   bool
}

// rect is the on-image rectangle of a square.
func (l layout) rect(sq nchess.Square) image.Rectangle {
	col, row := int(sq.File()), 7-int(sq.Rank())
	if l.flip {
		col, row = 7-col, 7-row
	}
	x := l.origin.X + col*squareSize
	y := l.origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func (l layout) drawSquares(dst draw.Image) {
	for i := 0; i < 64; i++ {
		sq := nchess.Square(i)
		clr := lightSquare
		if (int(sq.File())+int(sq.Rank()))%2 == 0 {
			clr = darkSquare
		}
		draw.Draw(dst, l.rect(sq), image.NewUniform(clr), image.Point{}, draw.Src)
	}
}

func (l layout) drawHighlight(dst draw.Image, h *Highlight) {
	for _, s := range []string{h.From, h.To} {
		sq, ok := rules.ParseSquare(strings.ToLower(strings.TrimSpace(s)))
		if !ok {
			continue
		}
		draw.Draw(dst, l.rect(sq), image.NewUniform(highlightFill), image.Point{}, draw.Over)
	}
}

func (l layout) drawPieces(dst draw.Image, board *nchess.Board) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		pimg, err := pieceImage(piece, squareSize)
		if err != nil {
			return err
		}
		draw.Draw(dst, l.rect(sq), pimg, image.Point{}, draw.Over)
	}
	return nil
}

func (l layout) drawCoordinates(dst draw.Image) {
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(coordinateText), Face: basicfont.Face7x13}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		rankSq := nchess.NewSquare(nchess.FileA, nchess.Rank(i))
		r := l.rect(rankSq)
		centered(d, rankSq.Rank().String(), sideMargin/2, r.Min.Y+squareSize/2+ascent/2)

		fileSq := nchess.NewSquare(nchess.File(i), nchess.Rank1)
		f := l.rect(fileSq)
		centered(d, fileSq.File().String(), f.Min.X+squareSize/2, l.origin.Y+boardSize+ascent+4)
	}
}

func drawCaption(dst draw.Image, caption string) {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return
	}
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(captionColor), Face: basicfont.Face7x13}
	centered(d, caption, dst.Bounds().Dx()/2, topMargin/2+basicfont.Face7x13.Metrics().Ascent.Ceil()/2)
}

func centered(d *font.Drawer, text string, centerX, baseline int) {
	w := d.MeasureString(text).Round()
	d.Dot = fixed.P(centerX-w/2, baseline)
	d.DrawString(text)
}
