// Package proto holds the JSON message envelope exchanged over the room
// websocket. Clients send ClientMessage, the server replies with
// ServerMessage. Unknown fields are ignored on both sides.
package proto

// Client message types.
const (
	TypeJoin        = "join"
	TypeToggleReady = "toggleReady"
	TypeMove        = "move"
	TypeLeave       = "leave"
)

// Server message types.
const (
	TypeAssignRole  = "assignRole"
	TypeRoomStatus  = "roomStatus"
	TypeGameStart   = "gameStart"
	TypeMoveApplied = "moveApplied"
	TypePlayerLeft  = "playerLeft"
	TypeError       = "error"
)

// ClientMessage is one inbound websocket frame.
type ClientMessage struct {
	Type   string `json:"type"`
	Handle string `json:"handle,omitempty"`
	Move   string `json:"move,omitempty"`
	// Board is the client's view of the position. Advisory only; the
	// server never treats it as authoritative.
	Board string `json:"board,omitempty"`
}

// ServerMessage is one outbound websocket frame. Only the fields relevant
// to Type are populated.
type ServerMessage struct {
	Type string `json:"type"`

	// assignRole
	Role string `json:"role,omitempty"` // "white", "black" or "spectator"

	// roomStatus
	Code        string   `json:"code,omitempty"`
	Status      string   `json:"status,omitempty"`
	Players     []Player `json:"players,omitempty"`
	ReadyCount  int      `json:"readyCount,omitempty"`
	PlayerCount int      `json:"playerCount,omitempty"`

	// gameStart / moveApplied
	White      string   `json:"white,omitempty"`
	Black      string   `json:"black,omitempty"`
	Move       string   `json:"move,omitempty"`
	SAN        string   `json:"san,omitempty"`
	FEN        string   `json:"fen,omitempty"`
	Turn       string   `json:"turn,omitempty"`
	IsCheck    bool     `json:"isCheck,omitempty"`
	GameOver   bool     `json:"gameOver,omitempty"`
	Result     string   `json:"result,omitempty"`
	Method     string   `json:"method,omitempty"`
	Moves      []string `json:"moves,omitempty"`
	ByEngine   bool     `json:"byEngine,omitempty"`
	FellBack   bool     `json:"fellBack,omitempty"`
	WhiteDelta int      `json:"whiteDelta,omitempty"`
	BlackDelta int      `json:"blackDelta,omitempty"`

	// playerLeft
	Handle string `json:"handle,omitempty"`

	// error
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Player is one roster entry inside a roomStatus frame.
type Player struct {
	Handle string `json:"handle"`
	Role   string `json:"role"`
	Ready  bool   `json:"ready"`
	Online bool   `json:"online"`
}
