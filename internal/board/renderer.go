package board

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// MoveHighlight marks the origin and destination of the last move played.
type MoveHighlight struct {
	From nchess.Square
	To   nchess.Square
}

type RenderOptions struct {
	Highlight *MoveHighlight
}

// Renderer rasterizes a position into a PNG.
type Renderer interface {
	RenderPNG(ctx context.Context, board *nchess.Board, opts RenderOptions) ([]byte, error)
}

type svgBoardRenderer struct{}

func NewRenderer() Renderer {
	return &svgBoardRenderer{}
}

const (
	squareSize   = 72
	boardSquares = 8
	boardSize    = squareSize * boardSquares
	boardMargin  = 24
)

var (
	lightSquare    = color.RGBA{233, 207, 163, 255}
	darkSquare     = color.RGBA{187, 136, 96, 255}
	marginColor    = color.RGBA{38, 36, 33, 255}
	highlightColor = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	coordColor     = color.NRGBA{R: 220, G: 215, B: 200, A: 255}
)

var (
	renderRanks = []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	renderFiles = []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
)

func (r *svgBoardRenderer) RenderPNG(ctx context.Context, board *nchess.Board, opts RenderOptions) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	total := boardSize + boardMargin*2
	origin := image.Point{X: boardMargin, Y: boardMargin}
	img := image.NewRGBA(image.Rect(0, 0, total, total))

	imagedraw.Draw(img, img.Bounds(), image.NewUniform(marginColor), image.Point{}, imagedraw.Src)
	drawSquares(img, origin)
	drawHighlight(img, opts.Highlight, origin)
	if err := drawPieces(img, board, origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func squareOrigin(sq nchess.Square, origin image.Point) image.Point {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	return image.Point{X: origin.X + col*squareSize, Y: origin.Y + row*squareSize}
}

func drawSquares(dst imagedraw.Image, origin image.Point) {
	for row, rank := range renderRanks {
		for col, file := range renderFiles {
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			sq := nchess.NewSquare(file, rank)
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize),
				image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
		}
	}
}

func drawHighlight(dst imagedraw.Image, hl *MoveHighlight, origin image.Point) {
	if hl == nil {
		return
	}
	for _, sq := range []nchess.Square{hl.From, hl.To} {
		p := squareOrigin(sq, origin)
		imagedraw.Draw(dst, image.Rect(p.X, p.Y, p.X+squareSize, p.Y+squareSize),
			image.NewUniform(highlightColor), image.Point{}, imagedraw.Over)
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, origin image.Point) error {
	boardMap := board.SquareMap()
	for row, rank := range renderRanks {
		for col, file := range renderFiles {
			sq := nchess.NewSquare(file, rank)
			piece := boardMap[sq]
			if piece == nchess.NoPiece {
				continue
			}
			img, err := renderPieceImage(piece, squareSize)
			if err != nil {
				return err
			}
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), img, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

func drawCoordinates(dst *image.RGBA, origin image.Point) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(coordColor), Face: face}
	for col := 0; col < boardSquares; col++ {
		label := string(rune('a' + col))
		d.Dot = fixed.P(origin.X+col*squareSize+squareSize/2-3, origin.Y+boardSize+boardMargin/2+4)
		d.DrawString(label)
	}
	for row := 0; row < boardSquares; row++ {
		label := fmt.Sprintf("%d", 8-row)
		d.Dot = fixed.P(origin.X-boardMargin/2-3, origin.Y+row*squareSize+squareSize/2+4)
		d.DrawString(label)
	}
}
