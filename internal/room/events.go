package room

import "chess-arena/pkg/proto"

// Event is one serialized action against a single room. All events for a
// room are consumed by its loop goroutine one at a time in arrival order.
type Event interface{ isRoomEvent() }

// Join admits a connection, reusing its roster entry if already present.
type Join struct {
	ConnID string
	Handle string
	Outbox chan proto.ServerMessage
}

func (Join) isRoomEvent() {}

// ToggleReady flips the readiness flag of a seated participant.
type ToggleReady struct{ ConnID string }

func (ToggleReady) isRoomEvent() {}

// SubmitMove plays a move for the submitting connection. ClaimedFEN is the
// client's idea of the current position and is advisory only.
type SubmitMove struct {
	ConnID     string
	Move       string
	ClaimedFEN string
}

func (SubmitMove) isRoomEvent() {}

// Leave removes a connection from the roster. Disconnects are delivered as
// Leave events by the transport layer.
type Leave struct{ ConnID string }

func (Leave) isRoomEvent() {}

// GetState reflects internal state without data races. Test and diagnostics
// only.
type GetState struct{ Reply chan View }

func (GetState) isRoomEvent() {}

// Shutdown stops the room loop and closes every outbox.
type Shutdown struct{}

func (Shutdown) isRoomEvent() {}

// oracleMove re-enters an engine reply into the room's serialization point.
// AtPly pins the position the search ran against so a stale reply is dropped
// instead of racing a human move.
type oracleMove struct {
	UCI      string
	AtPly    int
	FellBack bool
}

func (oracleMove) isRoomEvent() {}

// View is a race-free copy of room state for GetState.
type View struct {
	Code        string
	Status      string
	Players     []proto.Player
	ReadyCount  int
	PlayerCount int
	MovesUCI    []string
	FEN         string
}
