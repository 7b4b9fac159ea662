package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"chess-arena/internal/obslog"
	"chess-arena/internal/room"
	"chess-arena/pkg/proto"
)

const (
	outboxSize   = 64
	writeTimeout = 5 * time.Second
)

// Handler upgrades realtime connections and bridges them onto room inboxes.
// Each connection gets a reader goroutine feeding events in and a writer
// goroutine draining its outbox; a failed read or a closed outbox tears the
// connection down and delivers Leave like any other serialized room event.
type Handler struct {
	registry *room.Registry
}

func NewHandler(registry *room.Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	code := req.URL.Query().Get("room")
	if _, err := room.NormalizeCode(code); err != nil {
		http.Error(w, "invalid room code", http.StatusBadRequest)
		return
	}
	handle := strings.TrimSpace(req.URL.Query().Get("handle"))

	rm, err := h.registry.GetOrCreate(req.Context(), code)
	if err != nil {
		status := http.StatusInternalServerError
		if err == room.ErrTooManyRooms {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	if handle == "" {
		handle = "guest-" + connID[:8]
	}
	outbox := make(chan proto.ServerMessage, outboxSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go writeLoop(ctx, conn, outbox)

	select {
	case rm.Inbox() <- room.Join{ConnID: connID, Handle: handle, Outbox: outbox}:
	case <-ctx.Done():
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	obslog.L().Info("ws_connected", zap.String("room", rm.Code), zap.String("conn", connID), zap.String("handle", handle))
	h.readLoop(ctx, conn, rm, connID)
	obslog.L().Info("ws_disconnected", zap.String("room", rm.Code), zap.String("conn", connID))
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, rm *room.Room, connID string) {
	defer func() {
		// disconnect is just a Leave delivered through the room's inbox;
		// the send must land, or the seat stays occupied forever
		select {
		case rm.Inbox() <- room.Leave{ConnID: connID}:
		case <-rm.Done():
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var msg proto.ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}
		var ev room.Event
		switch msg.Type {
		case proto.TypeJoin:
			// already joined at upgrade time; treat as a state refresh
			continue
		case proto.TypeToggleReady:
			ev = room.ToggleReady{ConnID: connID}
		case proto.TypeMove:
			ev = room.SubmitMove{ConnID: connID, Move: msg.Move, ClaimedFEN: msg.Board}
		case proto.TypeLeave:
			return
		default:
			obslog.L().Debug("ws_unknown_frame", zap.String("type", msg.Type))
			continue
		}
		select {
		case rm.Inbox() <- ev:
		case <-rm.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, outbox <-chan proto.ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outbox:
			if !ok {
				// the room dropped this participant
				conn.Close(websocket.StatusNormalClosure, "room closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}
