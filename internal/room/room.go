package room

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chess-arena/internal/elo"
	"chess-arena/internal/engine"
	"chess-arena/internal/msgcat"
	"chess-arena/internal/obslog"
	"chess-arena/internal/rules"
	"chess-arena/internal/store"
	"chess-arena/pkg/proto"
)

// Room lifecycle states.
const (
	StatusWaiting   = "waiting"
	StatusReady     = "ready"
	StatusActive    = "active"
	StatusAbandoned = "abandoned"
)

// Roles on the wire.
const (
	RoleWhite     = "white"
	RoleBlack     = "black"
	RoleSpectator = "spectator"
)

const botConnID = "engine"

// Ledger is the persistence surface for ratings and finished matches.
// *store.Repository satisfies it.
type Ledger interface {
	EnsureAccount(ctx context.Context, id, handle string, startRating int) (*store.Account, error)
	UpdateRating(ctx context.Context, handle string, rating int, won, lost, drew bool) error
	SaveMatch(ctx context.Context, m *store.MatchRecord) error
}

// OracleClient produces the automated opponent's move.
type OracleClient interface {
	MoveOrFallback(ctx context.Context, m *rules.Match, rating int) (uci string, fellBack bool, err error)
}

// Deps are the collaborators a room consults while processing events.
// Store, Ledger and Oracle may each be nil; the room degrades to purely
// in-memory operation without them.
type Deps struct {
	Store         *store.RoomStore
	Ledger        Ledger
	Oracle        OracleClient
	Catalog       *msgcat.Catalog
	DefaultRating int
}

// Participant is one admitted connection.
type Participant struct {
	ConnID string
	Handle string
	Role   string
	Ready  bool
	outbox chan proto.ServerMessage
}

// Room owns all state for one room code. Events are serialized through the
// inbox; nothing outside the loop goroutine touches the mutable fields.
type Room struct {
	Code string

	inbox   chan Event
	match   *rules.Match
	status  string
	roster  map[string]*Participant
	created time.Time
	started time.Time

	botSeat   bool
	botRating int

	deps    Deps
	onEmpty func(code string)

	ctx    context.Context
	cancel context.CancelFunc
}

// Options configure a new room.
type Options struct {
	BotSeat   bool
	BotRating int
	// Moves restores a match in progress, usually from a snapshot.
	Moves []string
}

func newRoom(parent context.Context, code string, deps Deps, opts Options, onEmpty func(string)) (*Room, error) {
	match := rules.NewMatch()
	if len(opts.Moves) > 0 {
		restored, err := rules.MatchFromMoves(opts.Moves)
		if err != nil {
			return nil, err
		}
		match = restored
	}
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		Code:      code,
		inbox:     make(chan Event, 64),
		match:     match,
		status:    StatusWaiting,
		roster:    make(map[string]*Participant),
		created:   time.Now(),
		botSeat:   opts.BotSeat,
		botRating: opts.BotRating,
		deps:      deps,
		onEmpty:   onEmpty,
		ctx:       ctx,
		cancel:    cancel,
	}
	if r.botSeat {
		if r.botRating <= 0 {
			r.botRating = deps.DefaultRating
		}
		r.roster[botConnID] = &Participant{ConnID: botConnID, Handle: "engine", Role: RoleBlack, Ready: true}
	}
	go r.loop()
	return r, nil
}

// Inbox accepts events for this room.
func (r *Room) Inbox() chan<- Event { return r.inbox }

// Done is closed once the room has shut down and stopped draining its
// inbox.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

// State returns a race-free copy of the room's current state.
func (r *Room) State() View {
	reply := make(chan View, 1)
	select {
	case r.inbox <- GetState{Reply: reply}:
		return <-reply
	case <-r.ctx.Done():
		return View{Code: r.Code, Status: StatusAbandoned}
	}
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return
		case ev := <-r.inbox:
			switch e := ev.(type) {
			case Join:
				r.handleJoin(e)
			case ToggleReady:
				r.handleToggleReady(e)
			case SubmitMove:
				r.handleMove(e)
			case Leave:
				r.handleLeave(e.ConnID)
			case oracleMove:
				r.handleOracleMove(e)
			case GetState:
				e.Reply <- r.view()
			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) shutdown() {
	for id, p := range r.roster {
		if p.outbox != nil {
			close(p.outbox)
		}
		delete(r.roster, id)
	}
	r.status = StatusAbandoned
	r.cancel()
}

func (r *Room) handleJoin(e Join) {
	if p, ok := r.roster[e.ConnID]; ok {
		// reconnect keeps the seat, only the outbox is replaced
		if p.outbox != nil && p.outbox != e.Outbox {
			close(p.outbox)
		}
		p.outbox = e.Outbox
		r.sendTo(p, proto.ServerMessage{Type: proto.TypeAssignRole, Role: p.Role, Code: r.Code})
		r.broadcastStatus()
		return
	}

	role := RoleSpectator
	if r.seatHolder(RoleWhite) == nil {
		role = RoleWhite
	} else if r.seatHolder(RoleBlack) == nil {
		role = RoleBlack
	}
	p := &Participant{ConnID: e.ConnID, Handle: e.Handle, Role: role, outbox: e.Outbox}
	r.roster[e.ConnID] = p
	if r.status == StatusWaiting && r.seatsFilled() {
		r.status = StatusReady
	}

	r.sendTo(p, proto.ServerMessage{Type: proto.TypeAssignRole, Role: role, Code: r.Code})
	r.broadcastStatus()
	r.persist()
}

func (r *Room) handleToggleReady(e ToggleReady) {
	p, ok := r.roster[e.ConnID]
	if !ok || (p.Role != RoleWhite && p.Role != RoleBlack) {
		r.sendError(e.ConnID, CodeNotSeated, "room.waiting", nil, "only seated players can ready up")
		return
	}
	if r.status == StatusActive {
		r.sendError(e.ConnID, CodeStaleAction, "game.not_active", nil, "the game already started")
		return
	}
	p.Ready = !p.Ready
	r.broadcastStatus()

	if r.seatsFilled() && r.bothReady() && r.status != StatusActive {
		r.startGame()
	}
	r.persist()
}

func (r *Room) startGame() {
	// a finished game starts over; an interrupted one resumes where it stood
	if result, _ := r.match.Outcome(); result != rules.ResultNone {
		r.match = rules.NewMatch()
	}
	r.status = StatusActive
	r.started = time.Now()
	white, black := r.seatHolder(RoleWhite), r.seatHolder(RoleBlack)
	msg := proto.ServerMessage{
		Type:  proto.TypeGameStart,
		Code:  r.Code,
		White: white.Handle,
		Black: black.Handle,
		FEN:   r.match.FEN(),
		Turn:  string(r.match.SideToMove()),
	}
	if moves := r.match.MovesUCI(); len(moves) > 0 {
		msg.Moves = moves
	}
	if r.deps.Catalog != nil {
		msg.Message = r.deps.Catalog.RenderOr("game.start",
			map[string]any{"White": white.Handle, "Black": black.Handle}, "")
	}
	r.broadcast(msg)
	obslog.L().Info("game_start", zap.String("room", r.Code),
		zap.String("white", white.Handle), zap.String("black", black.Handle),
		zap.Int("ply", len(r.match.MovesUCI())))

	if r.botSeat && r.match.SideToMove() == rules.Black {
		r.dispatchOracle()
	}
}

func (r *Room) handleMove(e SubmitMove) {
	p, ok := r.roster[e.ConnID]
	if !ok || (p.Role != RoleWhite && p.Role != RoleBlack) {
		r.sendError(e.ConnID, CodeNotSeated, "game.not_active", nil, "you are not seated in this room")
		return
	}
	if r.status != StatusActive {
		r.sendError(e.ConnID, CodeStaleAction, "game.not_active", nil, "the game is not in progress")
		return
	}
	if string(r.match.SideToMove()) != p.Role {
		r.sendError(e.ConnID, CodeNotYourTurn, "game.not_your_turn", nil, "it is not your turn")
		return
	}
	if e.ClaimedFEN != "" && e.ClaimedFEN != r.match.FEN() {
		// client state is advisory; the server position stays authoritative
		obslog.L().Debug("stale_client_position", zap.String("room", r.Code), zap.String("conn", e.ConnID))
	}

	res := r.match.Apply(e.Move)
	if !res.Legal {
		code, key := CodeIllegalMove, "game.illegal_move"
		if res.Reason == rules.ReasonMalformed {
			code, key = CodeMalformedMove, "game.malformed_move"
		}
		r.sendError(e.ConnID, code, key, map[string]any{"Move": e.Move}, "move rejected: "+e.Move)
		return
	}

	r.commitMove(res, false, false)

	if !res.Over && r.botSeat && r.match.SideToMove() == rules.Black {
		r.dispatchOracle()
	}
}

func (r *Room) handleOracleMove(e oracleMove) {
	if r.status != StatusActive {
		return
	}
	if len(r.match.MovesUCI()) != e.AtPly {
		obslog.L().Warn("oracle_reply_stale", zap.String("room", r.Code), zap.Int("at_ply", e.AtPly))
		return
	}
	res := r.match.Apply(e.UCI)
	if !res.Legal {
		obslog.L().Error("oracle_reply_illegal", zap.String("room", r.Code), zap.String("move", e.UCI))
		return
	}
	r.commitMove(res, true, e.FellBack)
}

// commitMove broadcasts an accepted move, persists the room and resolves the
// outcome when the position is terminal.
func (r *Room) commitMove(res rules.ApplyResult, byEngine, fellBack bool) {
	msg := proto.ServerMessage{
		Type:     proto.TypeMoveApplied,
		Code:     r.Code,
		Move:     res.UCI,
		SAN:      res.SAN,
		FEN:      res.FEN,
		Turn:     string(r.match.SideToMove()),
		IsCheck:  res.Check,
		GameOver: res.Over,
		ByEngine: byEngine,
		FellBack: fellBack,
	}
	if res.Over {
		msg.Result = string(res.Result)
		msg.Method = res.Method
		msg.WhiteDelta, msg.BlackDelta = r.resolveOutcome(res)
		r.status = StatusReady
		for _, p := range r.roster {
			if p.ConnID != botConnID {
				p.Ready = false
			}
		}
	}
	r.broadcast(msg)
	r.persist()
	if res.Over {
		r.broadcastStatus()
	}
}

// dispatchOracle runs the engine search off the room loop. The reply comes
// back through the inbox pinned to the current ply.
func (r *Room) dispatchOracle() {
	if r.deps.Oracle == nil {
		return
	}
	moves := r.match.MovesUCI()
	rating := r.botRating
	go func() {
		m, err := rules.MatchFromMoves(moves)
		if err != nil {
			obslog.L().Error("oracle_replay_failed", zap.String("room", r.Code), zap.Error(err))
			return
		}
		uci, fellBack, err := r.deps.Oracle.MoveOrFallback(r.ctx, m, rating)
		if err != nil {
			obslog.L().Error("oracle_no_move", zap.String("room", r.Code), zap.Error(err))
			return
		}
		select {
		case r.inbox <- oracleMove{UCI: uci, AtPly: len(moves), FellBack: fellBack}:
		case <-r.ctx.Done():
		}
	}()
}

func (r *Room) handleLeave(connID string) {
	p, ok := r.roster[connID]
	if !ok {
		return
	}
	delete(r.roster, connID)
	if p.outbox != nil {
		close(p.outbox)
	}

	if p.Role == RoleWhite || p.Role == RoleBlack {
		// vacated seat forces a fresh handshake before play resumes
		r.status = StatusWaiting
		for _, other := range r.roster {
			if other.ConnID != botConnID {
				other.Ready = false
			}
		}
	}

	msg := proto.ServerMessage{Type: proto.TypePlayerLeft, Code: r.Code, Handle: p.Handle, PlayerCount: r.humanCount()}
	if r.deps.Catalog != nil {
		msg.Message = r.deps.Catalog.RenderOr("room.left", map[string]any{"Handle": p.Handle}, "")
	}
	r.broadcast(msg)
	r.broadcastStatus()
	r.persist()

	if r.humanCount() == 0 {
		r.discardSnapshot()
		if r.onEmpty != nil {
			r.onEmpty(r.Code)
		}
		r.shutdown()
	}
}

// discardSnapshot drops the persisted snapshot of an emptied room when
// there is nothing left to revive: no move was ever played, or the game
// already reached a terminal result. Interrupted games keep their
// snapshot so a later join can resume them.
func (r *Room) discardSnapshot() {
	if r.deps.Store == nil {
		return
	}
	if result, _ := r.match.Outcome(); result == rules.ResultNone && len(r.match.MovesUCI()) > 0 {
		return
	}
	ctx, cancelCtx := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelCtx()
	if err := r.deps.Store.Delete(ctx, r.Code); err != nil {
		obslog.L().Error("room_discard_failed", zap.String("room", r.Code), zap.Error(err))
	}
}

// resolveOutcome maps a terminal position to rating movement and a ledger
// row. Persistence failures are retried once before being given up on.
func (r *Room) resolveOutcome(res rules.ApplyResult) (whiteDelta, blackDelta int) {
	white, black := r.seatHolder(RoleWhite), r.seatHolder(RoleBlack)
	whiteHandle, blackHandle := "", ""
	if white != nil {
		whiteHandle = white.Handle
	}
	if black != nil {
		blackHandle = black.Handle
	}

	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	rec := &store.MatchRecord{
		ID:         uuid.NewString(),
		RoomCode:   r.Code,
		White:      whiteHandle,
		Black:      blackHandle,
		Result:     string(res.Result),
		Method:     res.Method,
		MovesUCI:   r.match.MovesUCI(),
		PGN:        r.match.PGN(),
		PlayedAt:   time.Now(),
		DurationMS: time.Since(r.started).Milliseconds(),
	}
	if r.botSeat {
		rec.BotTier = engine.TierForRating(r.botRating).Name
	}

	if r.botSeat && r.deps.Ledger != nil && white != nil {
		acct, err := r.deps.Ledger.EnsureAccount(ctx, uuid.NewString(), whiteHandle, r.deps.DefaultRating)
		if err != nil {
			obslog.L().Error("account_load_failed", zap.String("handle", whiteHandle), zap.Error(err))
		} else {
			score := elo.Resolve(res.Result, rules.White)
			mv := elo.Apply(acct.Rating, r.botRating, score)
			whiteDelta = mv.Delta
			blackDelta = -mv.Delta
			rec.WhiteDelta = whiteDelta
			rec.BlackDelta = blackDelta
			rec.RatingBefore = mv.Before
			rec.RatingAfter = mv.After
			if err := r.updateRatingRetry(ctx, whiteHandle, mv, res.Result); err != nil {
				obslog.L().Error("rating_update_failed", zap.String("handle", whiteHandle), zap.Error(err))
			}
		}
	}

	if r.deps.Ledger != nil {
		if err := r.deps.Ledger.SaveMatch(ctx, rec); err != nil {
			if err2 := r.deps.Ledger.SaveMatch(ctx, rec); err2 != nil {
				obslog.L().Error("match_save_failed", zap.String("room", r.Code), zap.Error(err2))
			}
		}
	}
	obslog.L().Info("game_over", zap.String("room", r.Code),
		zap.String("result", string(res.Result)), zap.String("method", res.Method))
	return whiteDelta, blackDelta
}

func (r *Room) updateRatingRetry(ctx context.Context, handle string, mv elo.Movement, result rules.Result) error {
	won := mv.Won
	drew := result == rules.ResultDraw
	lost := !won && !drew
	err := r.deps.Ledger.UpdateRating(ctx, handle, mv.After, won, lost, drew)
	if err == nil {
		return nil
	}
	return r.deps.Ledger.UpdateRating(ctx, handle, mv.After, won, lost, drew)
}

func (r *Room) seatHolder(role string) *Participant {
	for _, p := range r.roster {
		if p.Role == role {
			return p
		}
	}
	return nil
}

func (r *Room) seatsFilled() bool {
	return r.seatHolder(RoleWhite) != nil && r.seatHolder(RoleBlack) != nil
}

func (r *Room) bothReady() bool {
	w, b := r.seatHolder(RoleWhite), r.seatHolder(RoleBlack)
	return w != nil && b != nil && w.Ready && b.Ready
}

func (r *Room) humanCount() int {
	n := 0
	for _, p := range r.roster {
		if p.ConnID != botConnID {
			n++
		}
	}
	return n
}

func (r *Room) readyCount() int {
	n := 0
	for _, p := range r.roster {
		if (p.Role == RoleWhite || p.Role == RoleBlack) && p.Ready {
			n++
		}
	}
	return n
}

func (r *Room) seatedCount() int {
	n := 0
	if r.seatHolder(RoleWhite) != nil {
		n++
	}
	if r.seatHolder(RoleBlack) != nil {
		n++
	}
	return n
}

func (r *Room) view() View {
	players := make([]proto.Player, 0, len(r.roster))
	for _, p := range r.roster {
		players = append(players, proto.Player{Handle: p.Handle, Role: p.Role, Ready: p.Ready, Online: p.outbox != nil || p.ConnID == botConnID})
	}
	return View{
		Code:        r.Code,
		Status:      r.status,
		Players:     players,
		ReadyCount:  r.readyCount(),
		PlayerCount: r.seatedCount(),
		MovesUCI:    r.match.MovesUCI(),
		FEN:         r.match.FEN(),
	}
}

func (r *Room) broadcastStatus() {
	v := r.view()
	r.broadcast(proto.ServerMessage{
		Type:        proto.TypeRoomStatus,
		Code:        r.Code,
		Status:      r.status,
		Players:     v.Players,
		ReadyCount:  v.ReadyCount,
		PlayerCount: v.PlayerCount,
	})
}

// broadcast fans a frame out to every connected participant. A participant
// whose outbox is full is dropped like a disconnect.
func (r *Room) broadcast(msg proto.ServerMessage) {
	var dropped []string
	for id, p := range r.roster {
		if p.outbox == nil {
			continue
		}
		select {
		case p.outbox <- msg:
		default:
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		obslog.L().Warn("slow_consumer_dropped", zap.String("room", r.Code), zap.String("conn", id))
		r.handleLeave(id)
	}
}

func (r *Room) sendTo(p *Participant, msg proto.ServerMessage) {
	if p == nil || p.outbox == nil {
		return
	}
	select {
	case p.outbox <- msg:
	default:
	}
}

// sendError reports a failure only to the originating connection.
func (r *Room) sendError(connID, code, msgKey string, data map[string]any, fallback string) {
	p, ok := r.roster[connID]
	if !ok {
		return
	}
	text := fallback
	if r.deps.Catalog != nil {
		text = r.deps.Catalog.RenderOr(msgKey, data, fallback)
	}
	r.sendTo(p, proto.ServerMessage{Type: proto.TypeError, Code: r.Code, ErrorCode: code, Message: text})
}

func (r *Room) persist() {
	if r.deps.Store == nil {
		return
	}
	snap := &store.RoomSnapshot{
		Code:      r.Code,
		Status:    r.status,
		Seats:     map[string]string{},
		Ready:     map[string]bool{},
		Moves:     r.match.MovesUCI(),
		BotSeat:   r.botSeat,
		BotRating: r.botRating,
		CreatedAt: r.created,
	}
	for _, p := range r.roster {
		switch p.Role {
		case RoleWhite, RoleBlack:
			snap.Seats[p.Handle] = p.Role
			snap.Ready[p.Handle] = p.Ready
		default:
			snap.Spectates = append(snap.Spectates, p.Handle)
		}
	}
	ctx, cancelCtx := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelCtx()
	if err := r.deps.Store.Save(ctx, snap); err != nil {
		obslog.L().Error("room_persist_failed", zap.String("room", r.Code), zap.Error(err))
	}
}
