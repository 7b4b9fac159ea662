package board

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	nchess "github.com/corentings/chess/v2"
)

func TestRenderStartPosition(t *testing.T) {
	r := NewRenderer()
	g := nchess.NewGame()
	raw, err := r.RenderPNG(context.Background(), g.Position().Board(), RenderOptions{})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	want := boardSize + 2*boardMargin
	if b := img.Bounds(); b.Dx() != want || b.Dy() != want {
		t.Fatalf("image size %dx%d, want %dx%d", b.Dx(), b.Dy(), want, want)
	}
}

func TestRenderDiffersAfterMove(t *testing.T) {
	r := NewRenderer()
	ctx := context.Background()

	start := nchess.NewGame()
	before, err := r.RenderPNG(ctx, start.Position().Board(), RenderOptions{})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}

	moved := nchess.NewGame()
	if err := moved.PushNotationMove("e2e4", nchess.UCINotation{}, nil); err != nil {
		t.Fatalf("push move: %v", err)
	}
	after, err := r.RenderPNG(ctx, moved.Position().Board(), RenderOptions{
		Highlight: &MoveHighlight{
			From: nchess.NewSquare(nchess.FileE, nchess.Rank2),
			To:   nchess.NewSquare(nchess.FileE, nchess.Rank4),
		},
	})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	if bytes.Equal(before, after) {
		t.Fatal("positions render identically")
	}
}

func TestRenderNilBoard(t *testing.T) {
	r := NewRenderer()
	if _, err := r.RenderPNG(context.Background(), nil, RenderOptions{}); err == nil {
		t.Fatal("expected error for nil board")
	}
}

func TestRenderCancelledContext(t *testing.T) {
	r := NewRenderer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := nchess.NewGame()
	if _, err := r.RenderPNG(ctx, g.Position().Board(), RenderOptions{}); err == nil {
		t.Fatal("expected context error")
	}
}
