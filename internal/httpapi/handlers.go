package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chess-arena/internal/board"
	"chess-arena/internal/elo"
	"chess-arena/internal/engine"
	"chess-arena/internal/obslog"
	"chess-arena/internal/room"
	"chess-arena/internal/rules"
	"chess-arena/internal/store"
)

// Server carries the collaborators behind the synchronous endpoints.
// Ledger, RoomStore and Oracle are optional.
type Server struct {
	Registry      *room.Registry
	Oracle        room.OracleClient
	Ledger        room.Ledger
	StatsSource   StatsSource
	History       HistorySource
	RoomStore     *store.RoomStore
	Renderer      board.Renderer
	DefaultRating int
}

// StatsSource supplies the aggregate counters for /api/stats.
// *store.Repository satisfies it.
type StatsSource interface {
	Totals(ctx context.Context) (accounts, matches int64, err error)
}

// HistorySource lists recently finished games for /api/matches.
// *store.Repository satisfies it.
type HistorySource interface {
	RecentMatches(ctx context.Context, limit int) ([]*store.MatchRecord, error)
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: code, Message: message})
}

type createRoomRequest struct {
	Handle    string `json:"handle"`
	BotMatch  bool   `json:"botMatch"`
	BotRating int    `json:"botRating"`
}

type createRoomResponse struct {
	Code      string `json:"code"`
	BotMatch  bool   `json:"botMatch"`
	BotRating int    `json:"botRating,omitempty"`
}

func (s *Server) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
		writeError(w, http.StatusBadRequest, "badRequest", "malformed JSON body")
		return
	}

	opts := room.Options{BotSeat: req.BotMatch, BotRating: req.BotRating}
	if req.BotMatch && opts.BotRating <= 0 {
		opts.BotRating = s.lookupRating(r.Context(), req.Handle)
	}

	rm, err := s.Registry.Create(r.Context(), opts)
	if err != nil {
		status := http.StatusInternalServerError
		if err == room.ErrTooManyRooms {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "roomCreateFailed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createRoomResponse{Code: rm.Code, BotMatch: req.BotMatch, BotRating: opts.BotRating})
}

// lookupRating resolves a handle's current rating, falling back to the
// configured default for unknown players.
func (s *Server) lookupRating(ctx context.Context, handle string) int {
	handle = strings.TrimSpace(handle)
	if handle == "" || s.Ledger == nil {
		return s.DefaultRating
	}
	acct, err := s.Ledger.EnsureAccount(ctx, uuid.NewString(), handle, s.DefaultRating)
	if err != nil {
		obslog.L().Warn("account_lookup_failed", zap.String("handle", handle), zap.Error(err))
		return s.DefaultRating
	}
	return acct.Rating
}

type moveRequest struct {
	Moves  []string `json:"moves"`
	Move   string   `json:"move"`
	Handle string   `json:"handle"`
	Rating int      `json:"rating"`
}

type ratingChange struct {
	Before int    `json:"before"`
	After  int    `json:"after"`
	Delta  int    `json:"delta"`
	Peak   int    `json:"peak"`
	Rank   string `json:"rank"`
}

type moveResponse struct {
	Moves      []string      `json:"moves"`
	FEN        string        `json:"fen"`
	PlayerSAN  string        `json:"playerSan"`
	EngineMove string        `json:"engineMove,omitempty"`
	EngineSAN  string        `json:"engineSan,omitempty"`
	FellBack   bool          `json:"fellBack,omitempty"`
	IsCheck    bool          `json:"isCheck"`
	GameOver   bool          `json:"gameOver"`
	Result     string        `json:"result,omitempty"`
	Method     string        `json:"method,omitempty"`
	Rating     *ratingChange `json:"rating,omitempty"`
}

// SubmitMove is the stateless human-vs-engine move endpoint. The client
// supplies the full move history; the server replays it, applies the
// player's move and answers with the engine's reply.
func (s *Server) SubmitMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", "malformed JSON body")
		return
	}
	m, err := rules.MatchFromMoves(req.Moves)
	if err != nil {
		writeError(w, http.StatusBadRequest, "badPosition", err.Error())
		return
	}
	if m.SideToMove() != rules.White {
		writeError(w, http.StatusConflict, room.CodeNotYourTurn, "it is the engine's turn")
		return
	}

	res := m.Apply(req.Move)
	if !res.Legal {
		code := room.CodeIllegalMove
		if res.Reason == rules.ReasonMalformed {
			code = room.CodeMalformedMove
		}
		writeError(w, http.StatusUnprocessableEntity, code, "move rejected: "+req.Move)
		return
	}

	rating := req.Rating
	if rating <= 0 {
		rating = s.lookupRating(r.Context(), req.Handle)
	}

	resp := moveResponse{
		PlayerSAN: res.SAN,
		IsCheck:   res.Check,
		GameOver:  res.Over,
		Result:    string(res.Result),
		Method:    res.Method,
	}

	if !res.Over && s.Oracle != nil {
		reply, fellBack, err := s.Oracle.MoveOrFallback(r.Context(), m, rating)
		if err != nil {
			obslog.L().Error("engine_move_failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, "engineUnavailable", "could not produce an engine move")
			return
		}
		if reply != "" {
			engineRes := m.Apply(reply)
			if !engineRes.Legal {
				writeError(w, http.StatusInternalServerError, "engineMoveRejected", reply)
				return
			}
			resp.EngineMove = engineRes.UCI
			resp.EngineSAN = engineRes.SAN
			resp.FellBack = fellBack
			resp.IsCheck = engineRes.Check
			resp.GameOver = engineRes.Over
			resp.Result = string(engineRes.Result)
			resp.Method = engineRes.Method
		}
	}

	resp.Moves = m.MovesUCI()
	resp.FEN = m.FEN()

	if resp.GameOver {
		if rc := s.settleRating(r.Context(), req.Handle, rating, m); rc != nil {
			resp.Rating = rc
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// settleRating applies the Elo movement for a finished engine game and
// files the match record. Writes are retried once; a second failure is
// logged and surfaced as a nil change so the gameplay response still
// succeeds.
func (s *Server) settleRating(ctx context.Context, handle string, opponentRating int, m *rules.Match) *ratingChange {
	handle = strings.TrimSpace(handle)
	if handle == "" || s.Ledger == nil {
		return nil
	}
	result, method := m.Outcome()
	acct, err := s.Ledger.EnsureAccount(ctx, uuid.NewString(), handle, s.DefaultRating)
	if err != nil {
		obslog.L().Error("account_load_failed", zap.String("handle", handle), zap.Error(err))
		return nil
	}
	score := elo.Resolve(result, rules.White)
	mv := elo.Apply(acct.Rating, opponentRating, score)
	won := mv.Won
	drew := result == rules.ResultDraw
	lost := !won && !drew
	if err := s.Ledger.UpdateRating(ctx, handle, mv.After, won, lost, drew); err != nil {
		if err = s.Ledger.UpdateRating(ctx, handle, mv.After, won, lost, drew); err != nil {
			obslog.L().Error("rating_update_failed", zap.String("handle", handle), zap.Error(err))
			return nil
		}
	}

	rec := &store.MatchRecord{
		ID:           uuid.NewString(),
		White:        handle,
		Black:        "engine",
		Result:       string(result),
		Method:       method,
		MovesUCI:     m.MovesUCI(),
		PGN:          m.PGN(),
		WhiteDelta:   mv.Delta,
		BlackDelta:   -mv.Delta,
		BotTier:      engine.TierForRating(opponentRating).Name,
		RatingBefore: mv.Before,
		RatingAfter:  mv.After,
		PlayedAt:     time.Now(),
	}
	if err := s.Ledger.SaveMatch(ctx, rec); err != nil {
		if err2 := s.Ledger.SaveMatch(ctx, rec); err2 != nil {
			obslog.L().Error("match_save_failed", zap.String("handle", handle), zap.Error(err2))
		}
	}
	return &ratingChange{
		Before: mv.Before,
		After:  mv.After,
		Delta:  mv.Delta,
		Peak:   elo.NewPeak(acct.PeakRating, mv.After),
		Rank:   elo.RankName(mv.After),
	}
}

type legalMovesRequest struct {
	Moves  []string `json:"moves"`
	Origin string   `json:"origin"`
}

type legalMovesResponse struct {
	Targets []string `json:"targets"`
}

// LegalMoves lists the destination squares reachable from an origin square.
func (s *Server) LegalMoves(w http.ResponseWriter, r *http.Request) {
	var req legalMovesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", "malformed JSON body")
		return
	}
	m, err := rules.MatchFromMoves(req.Moves)
	if err != nil {
		writeError(w, http.StatusBadRequest, "badPosition", err.Error())
		return
	}
	targets, err := m.LegalTargets(req.Origin)
	if err != nil {
		writeError(w, http.StatusBadRequest, "badOrigin", err.Error())
		return
	}
	if targets == nil {
		targets = []string{}
	}
	writeJSON(w, http.StatusOK, legalMovesResponse{Targets: targets})
}

type matchSummary struct {
	ID           string    `json:"id"`
	RoomCode     string    `json:"roomCode,omitempty"`
	White        string    `json:"white"`
	Black        string    `json:"black"`
	Result       string    `json:"result"`
	Method       string    `json:"method,omitempty"`
	MoveCount    int       `json:"moveCount"`
	WhiteDelta   int       `json:"whiteDelta"`
	BlackDelta   int       `json:"blackDelta"`
	BotTier      string    `json:"botTier,omitempty"`
	RatingBefore int       `json:"ratingBefore,omitempty"`
	RatingAfter  int       `json:"ratingAfter,omitempty"`
	PlayedAt     time.Time `json:"playedAt"`
}

type matchesResponse struct {
	Matches []matchSummary `json:"matches"`
}

// RecentMatches lists the newest finished games.
func (s *Server) RecentMatches(w http.ResponseWriter, r *http.Request) {
	resp := matchesResponse{Matches: []matchSummary{}}
	if s.History == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.History.RecentMatches(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "historyUnavailable", err.Error())
		return
	}
	for _, rec := range recs {
		resp.Matches = append(resp.Matches, matchSummary{
			ID:           rec.ID,
			RoomCode:     rec.RoomCode,
			White:        rec.White,
			Black:        rec.Black,
			Result:       rec.Result,
			Method:       rec.Method,
			MoveCount:    len(rec.MovesUCI),
			WhiteDelta:   rec.WhiteDelta,
			BlackDelta:   rec.BlackDelta,
			BotTier:      rec.BotTier,
			RatingBefore: rec.RatingBefore,
			RatingAfter:  rec.RatingAfter,
			PlayedAt:     rec.PlayedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type statsResponse struct {
	Accounts    int64 `json:"accounts"`
	Matches     int64 `json:"matches"`
	ActiveRooms int64 `json:"activeRooms"`
}

func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	if s.StatsSource != nil {
		accounts, matches, err := s.StatsSource.Totals(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "statsUnavailable", err.Error())
			return
		}
		resp.Accounts = accounts
		resp.Matches = matches
	}
	resp.ActiveRooms = int64(s.Registry.ActiveCount())
	if s.RoomStore != nil {
		if n, err := s.RoomStore.CountActive(r.Context()); err == nil && n > resp.ActiveRooms {
			resp.ActiveRooms = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// BoardPNG renders the current position of a room. Live rooms are read
// through the registry; dormant ones from their persisted snapshot.
func (s *Server) BoardPNG(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	normalized, err := room.NormalizeCode(code)
	if err != nil {
		writeError(w, http.StatusBadRequest, room.CodeInvalidRoom, err.Error())
		return
	}

	var moves []string
	if rm, ok := s.Registry.Lookup(normalized); ok {
		moves = rm.State().MovesUCI
	} else if s.RoomStore != nil {
		snap, err := s.RoomStore.Load(r.Context(), normalized)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "storeUnavailable", err.Error())
			return
		}
		if snap == nil {
			writeError(w, http.StatusNotFound, room.CodeRoomNotFound, "no such room")
			return
		}
		moves = snap.Moves
	} else {
		writeError(w, http.StatusNotFound, room.CodeRoomNotFound, "no such room")
		return
	}

	m, err := rules.MatchFromMoves(moves)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "badPosition", err.Error())
		return
	}
	opts := board.RenderOptions{}
	if hl := m.LastMoveSquares(); hl != nil {
		opts.Highlight = &board.MoveHighlight{From: hl.From, To: hl.To}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	png, err := s.Renderer.RenderPNG(ctx, m.Board(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "renderFailed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
