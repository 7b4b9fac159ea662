package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Color identifies a side of the board.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Result is the terminal verdict of a match.
type Result string

const (
	ResultNone      Result = ""
	ResultWhiteWins Result = "white"
	ResultBlackWins Result = "black"
	ResultDraw      Result = "draw"
)

// Rejection reasons reported by Apply.
const (
	ReasonMalformed = "malformed"
	ReasonIllegal   = "illegal"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// ApplyResult is the typed outcome of a move application. Callers branch
// on Legal instead of unwinding through error values.
type ApplyResult struct {
	Legal  bool
	Reason string
	UCI    string
	SAN    string
	FEN    string
	Check  bool
	Over   bool
	Result Result
	Method string
}

// Match wraps the rules library behind the narrow contract the rest of
// the server depends on: apply a candidate move, enumerate legal moves,
// and report terminal state. The position is always reconstructed by
// replaying the stored UCI move list from the start position; stored FEN
// is presentation-only and never trusted as authority.
type Match struct {
	game  *nchess.Game
	moves []string
}

func NewMatch() *Match {
	return &Match{game: nchess.NewGame()}
}

// MatchFromMoves replays a UCI move list from the start position.
func MatchFromMoves(moves []string) (*Match, error) {
	m := NewMatch()
	for i, mv := range moves {
		res := m.Apply(mv)
		if !res.Legal {
			return nil, fmt.Errorf("replay move %d (%s): %s", i+1, mv, res.Reason)
		}
	}
	return m, nil
}

func (m *Match) FEN() string { return m.game.FEN() }

func (m *Match) MovesUCI() []string {
	return append([]string(nil), m.moves...)
}

func (m *Match) SideToMove() Color {
	if m.game.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

// Apply validates moveText (UCI preferred, SAN fallback) against the
// current position and advances it on success.
func (m *Match) Apply(moveText string) ApplyResult {
	raw := strings.TrimSpace(moveText)
	if raw == "" {
		return ApplyResult{Reason: ReasonMalformed}
	}
	if m.game.Outcome() != nchess.NoOutcome {
		return ApplyResult{Reason: ReasonIllegal}
	}

	pos := m.game.Position()
	notationUCI := nchess.UCINotation{}
	notationSAN := nchess.AlgebraicNotation{}

	mv, err := notationUCI.Decode(pos, strings.ToLower(raw))
	if err != nil {
		mv, err = notationSAN.Decode(pos, raw)
		if err != nil {
			return ApplyResult{Reason: ReasonMalformed}
		}
	}
	if err := m.game.Move(mv, nil); err != nil {
		return ApplyResult{Reason: ReasonIllegal}
	}

	san := notationSAN.Encode(pos, mv)
	uci := strings.ToLower(notationUCI.Encode(pos, mv))
	m.moves = append(m.moves, uci)

	result, method := m.Outcome()
	return ApplyResult{
		Legal:  true,
		UCI:    uci,
		SAN:    san,
		FEN:    m.game.FEN(),
		Check:  strings.ContainsAny(san, "+#"),
		Over:   result != ResultNone,
		Result: result,
		Method: method,
	}
}

// Outcome reports the terminal result, or ResultNone while the game is
// still open, along with the termination method.
func (m *Match) Outcome() (Result, string) {
	switch m.game.Outcome() {
	case nchess.WhiteWon:
		return ResultWhiteWins, methodString(m.game)
	case nchess.BlackWon:
		return ResultBlackWins, methodString(m.game)
	case nchess.Draw:
		return ResultDraw, methodString(m.game)
	default:
		return ResultNone, ""
	}
}

func methodString(g *nchess.Game) string {
	return strings.ToLower(g.Method().String())
}

// LegalMovesUCI enumerates every legal move in the current position.
func (m *Match) LegalMovesUCI() []string {
	valid := m.game.ValidMoves()
	out := make([]string, 0, len(valid))
	for _, mv := range valid {
		out = append(out, strings.ToLower(mv.String()))
	}
	return out
}

// LegalTargets lists the destination squares reachable from origin.
func (m *Match) LegalTargets(origin string) ([]string, error) {
	sq := strings.ToLower(strings.TrimSpace(origin))
	if len(sq) != 2 || sq[0] < 'a' || sq[0] > 'h' || sq[1] < '1' || sq[1] > '8' {
		return nil, fmt.Errorf("invalid square: %q", origin)
	}
	var out []string
	for _, mv := range m.game.ValidMoves() {
		if strings.EqualFold(mv.S1().String(), sq) {
			out = append(out, strings.ToLower(mv.S2().String()))
		}
	}
	return out, nil
}

// PGN renders the move text of the match.
func (m *Match) PGN() string { return m.game.String() }

// Board exposes the underlying board for rendering.
func (m *Match) Board() *nchess.Board { return m.game.Position().Board() }

// Squares is an origin and destination pair.
type Squares struct {
	From nchess.Square
	To   nchess.Square
}

// LastMoveSquares returns the squares of the most recent move, or nil when
// no move has been played.
func (m *Match) LastMoveSquares() *Squares {
	played := m.game.Moves()
	if len(played) == 0 {
		return nil
	}
	last := played[len(played)-1]
	return &Squares{From: last.S1(), To: last.S2()}
}
