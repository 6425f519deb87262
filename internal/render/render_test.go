package render

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/Cheese-Arena/internal/rules"
)

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	return img
}

// pieceCenter is a point inside every piece outline for the square at (col,row).
func pieceCenter(col, row int) image.Point {
	return image.Pt(sideMargin+col*squareSize+squareSize/2, topMargin+row*squareSize+squareSize/2+6)
}

func brightness(img image.Image, p image.Point) uint32 {
	r, g, b, _ := img.At(p.X, p.Y).RGBA()
	return (r + g + b) / 3 >> 8
}

func TestRenderPNG_StartPosition(t *testing.T) {
	r := NewRenderer()
	data, err := r.RenderPNG(context.Background(), rules.StartPosition, Options{Caption: "ABC234 alice vs bob"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img := decode(t, data)
	if got := img.Bounds().Dx(); got != boardSize+sideMargin*2 {
		t.Fatalf("width = %d", got)
	}
	if got := img.Bounds().Dy(); got != boardSize+topMargin+bottomMargin {
		t.Fatalf("height = %d", got)
	}
	// a1 holds a white rook, a8 a black rook.
	if b := brightness(img, pieceCenter(0, 7)); b < 200 {
		t.Fatalf("a1 brightness = %d, want white piece", b)
	}
	if b := brightness(img, pieceCenter(0, 0)); b > 80 {
		t.Fatalf("a8 brightness = %d, want black piece", b)
	}
	// An empty square keeps its board colour.
	r4, g4, b4, _ := img.At(pieceCenter(4, 4).X, pieceCenter(4, 4).Y).RGBA()
	if uint8(r4>>8) != lightSquare.R && uint8(r4>>8) != darkSquare.R {
		t.Fatalf("e4 colour = %d,%d,%d", r4>>8, g4>>8, b4>>8)
	}
}

func TestRenderPNG_Flip(t *testing.T) {
	data, err := NewRenderer().RenderPNG(context.Background(), rules.StartPosition, Options{Flip: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img := decode(t, data)
	// From black's side the bottom-left square is h8.
	if b := brightness(img, pieceCenter(0, 7)); b > 80 {
		t.Fatalf("bottom-left brightness = %d, want black piece", b)
	}
}

func TestRenderPNG_Highlight(t *testing.T) {
	plain, err := NewRenderer().RenderPNG(context.Background(), rules.StartPosition, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	marked, err := NewRenderer().RenderPNG(context.Background(), rules.StartPosition, Options{Highlight: &Highlight{From: "E2", To: "e4"}})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	l := layout{origin: image.Pt(sideMargin, topMargin)}
	corner := l.rect(nchess.E4).Min.Add(image.Pt(2, 2))
	a := decode(t, plain).At(corner.X, corner.Y)
	b := decode(t, marked).At(corner.X, corner.Y)
	if a == b {
		t.Fatalf("e4 not highlighted: %v", a)
	}
}

func TestRenderPNG_Errors(t *testing.T) {
	if _, err := NewRenderer().RenderPNG(context.Background(), "not a fen", Options{}); err == nil {
		t.Fatalf("expected error for bad position")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRenderer().RenderPNG(ctx, rules.StartPosition, Options{}); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
