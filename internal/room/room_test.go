package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"chess-arena/internal/rules"
	"chess-arena/internal/store"
	"chess-arena/pkg/proto"
)

type fakeLedger struct {
	mu      sync.Mutex
	rating  int
	updates []int
	matches []*store.MatchRecord
	failPut int // fail this many UpdateRating calls before succeeding
}

func (f *fakeLedger) EnsureAccount(ctx context.Context, id, handle string, startRating int) (*store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rating == 0 {
		f.rating = startRating
	}
	return &store.Account{ID: id, Handle: handle, Rating: f.rating, PeakRating: f.rating}, nil
}

func (f *fakeLedger) UpdateRating(ctx context.Context, handle string, rating int, won, lost, drew bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut > 0 {
		f.failPut--
		return context.DeadlineExceeded
	}
	f.updates = append(f.updates, rating)
	f.rating = rating
	return nil
}

func (f *fakeLedger) SaveMatch(ctx context.Context, m *store.MatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches = append(f.matches, m)
	return nil
}

func (f *fakeLedger) lastRating() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rating, len(f.updates)
}

// scriptedOracle replies with a fixed move sequence.
type scriptedOracle struct {
	mu    sync.Mutex
	moves []string
}

func (s *scriptedOracle) MoveOrFallback(ctx context.Context, m *rules.Match, rating int) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.moves) == 0 {
		return "", false, context.Canceled
	}
	mv := s.moves[0]
	s.moves = s.moves[1:]
	return mv, false, nil
}

func newTestRoom(t *testing.T, opts Options, deps Deps) *Room {
	t.Helper()
	if deps.DefaultRating == 0 {
		deps.DefaultRating = 1000
	}
	r, err := newRoom(context.Background(), "ABC123", deps, opts, nil)
	if err != nil {
		t.Fatalf("newRoom: %v", err)
	}
	t.Cleanup(func() {
		select {
		case r.inbox <- Shutdown{}:
		case <-r.ctx.Done():
		}
	})
	return r
}

func joinConn(r *Room, connID, handle string) chan proto.ServerMessage {
	out := make(chan proto.ServerMessage, 64)
	r.inbox <- Join{ConnID: connID, Handle: handle, Outbox: out}
	return out
}

func drain(ch chan proto.ServerMessage) []proto.ServerMessage {
	var out []proto.ServerMessage
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func countType(msgs []proto.ServerMessage, typ string) int {
	n := 0
	for _, m := range msgs {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestReadinessHandshakeScenario(t *testing.T) {
	r := newTestRoom(t, Options{}, Deps{})

	outX := joinConn(r, "x", "alice")
	waitFor(t, func() bool { return r.State().PlayerCount == 1 })
	msgsX := drain(outX)
	if len(msgsX) == 0 || msgsX[0].Type != proto.TypeAssignRole || msgsX[0].Role != RoleWhite {
		t.Fatalf("first joiner not assigned white: %+v", msgsX)
	}

	outY := joinConn(r, "y", "bob")
	waitFor(t, func() bool { return r.State().PlayerCount == 2 })
	msgsY := drain(outY)
	if msgsY[0].Role != RoleBlack {
		t.Fatalf("second joiner not assigned black: %+v", msgsY[0])
	}
	if countType(msgsY, proto.TypeGameStart) != 0 {
		t.Fatal("gameStart fired before readiness handshake")
	}

	r.inbox <- ToggleReady{ConnID: "x"}
	waitFor(t, func() bool { return r.State().ReadyCount == 1 })
	if r.State().Status == StatusActive {
		t.Fatal("game started with one ready player")
	}

	r.inbox <- ToggleReady{ConnID: "y"}
	waitFor(t, func() bool { return r.State().Status == StatusActive })

	starts := countType(drain(outX), proto.TypeGameStart) + countType(drain(outY), proto.TypeGameStart)
	if starts != 2 { // one frame per connection
		t.Fatalf("expected one gameStart per connection, got %d frames", starts)
	}

	r.inbox <- SubmitMove{ConnID: "x", Move: "e2e4"}
	waitFor(t, func() bool { return len(r.State().MovesUCI) == 1 })
	msgs := drain(outY)
	applied := -1
	for i, m := range msgs {
		if m.Type == proto.TypeMoveApplied {
			applied = i
		}
	}
	if applied < 0 {
		t.Fatalf("no moveApplied broadcast: %+v", msgs)
	}
	if msgs[applied].Move != "e2e4" || msgs[applied].IsCheck {
		t.Fatalf("bad moveApplied frame: %+v", msgs[applied])
	}
}

func TestRedundantReadyDoesNotRestart(t *testing.T) {
	r := newTestRoom(t, Options{}, Deps{})
	outX := joinConn(r, "x", "alice")
	joinConn(r, "y", "bob")
	r.inbox <- ToggleReady{ConnID: "x"}
	r.inbox <- ToggleReady{ConnID: "y"}
	waitFor(t, func() bool { return r.State().Status == StatusActive })
	drain(outX)

	// a ready toggle during an active game is a stale action
	r.inbox <- ToggleReady{ConnID: "x"}
	waitFor(t, func() bool {
		for _, m := range drain(outX) {
			if m.Type == proto.TypeError && m.ErrorCode == CodeStaleAction {
				return true
			}
			if m.Type == proto.TypeGameStart {
				t.Fatal("gameStart re-fired")
			}
		}
		return false
	})
}

func TestJoinIsIdempotent(t *testing.T) {
	r := newTestRoom(t, Options{}, Deps{})
	joinConn(r, "x", "alice")
	waitFor(t, func() bool { return r.State().PlayerCount == 1 })

	out2 := joinConn(r, "x", "alice")
	waitFor(t, func() bool { return len(drain(out2)) > 0 })
	v := r.State()
	if len(v.Players) != 1 {
		t.Fatalf("duplicate roster entry: %+v", v.Players)
	}
	if v.Players[0].Role != RoleWhite {
		t.Fatalf("role reassigned on rejoin: %+v", v.Players[0])
	}
}

func TestThirdJoinerBecomesSpectator(t *testing.T) {
	r := newTestRoom(t, Options{}, Deps{})
	joinConn(r, "x", "alice")
	joinConn(r, "y", "bob")
	outZ := joinConn(r, "z", "carol")
	waitFor(t, func() bool { return len(r.State().Players) == 3 })
	msgs := drain(outZ)
	if msgs[0].Type != proto.TypeAssignRole || msgs[0].Role != RoleSpectator {
		t.Fatalf("third joiner not a spectator: %+v", msgs[0])
	}
}

func TestMoveOutOfTurnRejected(t *testing.T) {
	r := newTestRoom(t, Options{}, Deps{})
	joinConn(r, "x", "alice")
	outY := joinConn(r, "y", "bob")
	r.inbox <- ToggleReady{ConnID: "x"}
	r.inbox <- ToggleReady{ConnID: "y"}
	waitFor(t, func() bool { return r.State().Status == StatusActive })
	drain(outY)

	r.inbox <- SubmitMove{ConnID: "y", Move: "e7e5"}
	waitFor(t, func() bool {
		for _, m := range drain(outY) {
			if m.Type == proto.TypeError && m.ErrorCode == CodeNotYourTurn {
				return true
			}
		}
		return false
	})
	if len(r.State().MovesUCI) != 0 {
		t.Fatal("rejected move mutated the position")
	}
}

func TestMoveBeforeStartIsStale(t *testing.T) {
	r := newTestRoom(t, Options{}, Deps{})
	outX := joinConn(r, "x", "alice")
	waitFor(t, func() bool { return r.State().PlayerCount == 1 })
	drain(outX)

	r.inbox <- SubmitMove{ConnID: "x", Move: "e2e4"}
	waitFor(t, func() bool {
		for _, m := range drain(outX) {
			if m.Type == proto.TypeError && m.ErrorCode == CodeStaleAction {
				return true
			}
		}
		return false
	})
}

func TestIllegalMoveReportedOnlyToOriginator(t *testing.T) {
	r := newTestRoom(t, Options{}, Deps{})
	outX := joinConn(r, "x", "alice")
	outY := joinConn(r, "y", "bob")
	r.inbox <- ToggleReady{ConnID: "x"}
	r.inbox <- ToggleReady{ConnID: "y"}
	waitFor(t, func() bool { return r.State().Status == StatusActive })
	drain(outX)
	drain(outY)

	r.inbox <- SubmitMove{ConnID: "x", Move: "e2e5"}
	waitFor(t, func() bool {
		for _, m := range drain(outX) {
			if m.Type == proto.TypeError && m.ErrorCode == CodeIllegalMove {
				return true
			}
		}
		return false
	})
	if countType(drain(outY), proto.TypeError) != 0 {
		t.Fatal("error broadcast to a non-originating connection")
	}

	r.inbox <- SubmitMove{ConnID: "x", Move: "??"}
	waitFor(t, func() bool {
		for _, m := range drain(outX) {
			if m.Type == proto.TypeError && m.ErrorCode == CodeMalformedMove {
				return true
			}
		}
		return false
	})
}

func TestSeatVacancyResetsHandshake(t *testing.T) {
	r := newTestRoom(t, Options{}, Deps{})
	joinConn(r, "x", "alice")
	outY := joinConn(r, "y", "bob")
	r.inbox <- ToggleReady{ConnID: "x"}
	r.inbox <- ToggleReady{ConnID: "y"}
	waitFor(t, func() bool { return r.State().Status == StatusActive })

	r.inbox <- Leave{ConnID: "x"}
	waitFor(t, func() bool { return r.State().Status == StatusWaiting })
	v := r.State()
	if v.ReadyCount != 0 {
		t.Fatalf("opponent readiness not reset: %+v", v)
	}
	found := false
	for _, m := range drain(outY) {
		if m.Type == proto.TypePlayerLeft && m.Handle == "alice" {
			found = true
		}
	}
	if !found {
		t.Fatal("playerLeft not broadcast")
	}
}

func TestSeatVacancyResumesPosition(t *testing.T) {
	r := newTestRoom(t, Options{}, Deps{})
	joinConn(r, "x", "alice")
	joinConn(r, "y", "bob")
	r.inbox <- ToggleReady{ConnID: "x"}
	r.inbox <- ToggleReady{ConnID: "y"}
	waitFor(t, func() bool { return r.State().Status == StatusActive })
	r.inbox <- SubmitMove{ConnID: "x", Move: "e2e4"}
	waitFor(t, func() bool { return len(r.State().MovesUCI) == 1 })

	r.inbox <- Leave{ConnID: "y"}
	waitFor(t, func() bool { return r.State().Status == StatusWaiting })

	outY2 := joinConn(r, "y2", "bob")
	waitFor(t, func() bool { return r.State().PlayerCount == 2 })
	r.inbox <- ToggleReady{ConnID: "x"}
	r.inbox <- ToggleReady{ConnID: "y2"}
	waitFor(t, func() bool { return r.State().Status == StatusActive })

	if mv := r.State().MovesUCI; len(mv) != 1 || mv[0] != "e2e4" {
		t.Fatalf("position lost across the re-handshake: %v", mv)
	}
	var start proto.ServerMessage
	for _, m := range drain(outY2) {
		if m.Type == proto.TypeGameStart {
			start = m
		}
	}
	if start.Type == "" {
		t.Fatal("no gameStart after re-handshake")
	}
	if start.Turn != RoleBlack || len(start.Moves) != 1 || start.Moves[0] != "e2e4" {
		t.Fatalf("resumed gameStart frame = %+v", start)
	}
}

func TestRestoredMovesSurviveHandshake(t *testing.T) {
	r := newTestRoom(t, Options{Moves: []string{"e2e4", "e7e5"}}, Deps{})
	joinConn(r, "x", "alice")
	joinConn(r, "y", "bob")
	r.inbox <- ToggleReady{ConnID: "x"}
	r.inbox <- ToggleReady{ConnID: "y"}
	waitFor(t, func() bool { return r.State().Status == StatusActive })
	if mv := r.State().MovesUCI; len(mv) != 2 || mv[1] != "e7e5" {
		t.Fatalf("restored moves discarded by the handshake: %v", mv)
	}
}

func TestRematchStartsFreshGame(t *testing.T) {
	// fool's mate; a finished game starts over at the next handshake
	r := newTestRoom(t, Options{Moves: []string{"f2f3", "e7e5", "g2g4", "d8h4"}}, Deps{})
	joinConn(r, "x", "alice")
	joinConn(r, "y", "bob")
	r.inbox <- ToggleReady{ConnID: "x"}
	r.inbox <- ToggleReady{ConnID: "y"}
	waitFor(t, func() bool { return r.State().Status == StatusActive })
	if mv := r.State().MovesUCI; len(mv) != 0 {
		t.Fatalf("terminal game not reset for the rematch: %v", mv)
	}
}

func TestEmptyRoomRemovedFromRegistry(t *testing.T) {
	reg := NewRegistry(Deps{DefaultRating: 1000}, 10)
	defer reg.Close()

	r, err := reg.Create(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	joinConn(r, "x", "alice")
	joinConn(r, "y", "bob")
	waitFor(t, func() bool { return r.State().PlayerCount == 2 })

	r.inbox <- Leave{ConnID: "x"}
	waitFor(t, func() bool { return r.State().Status == StatusWaiting })
	if reg.ActiveCount() != 1 {
		t.Fatal("room removed while still occupied")
	}

	r.inbox <- Leave{ConnID: "y"}
	waitFor(t, func() bool { return reg.ActiveCount() == 0 })
}

func TestBotGameRatingFlow(t *testing.T) {
	ledger := &fakeLedger{}
	oracle := &scriptedOracle{moves: []string{"e7e5", "b8c6", "g8f6"}}
	r := newTestRoom(t, Options{BotSeat: true, BotRating: 1000},
		Deps{Ledger: ledger, Oracle: oracle, DefaultRating: 1000})

	outX := joinConn(r, "x", "alice")
	waitFor(t, func() bool { return r.State().PlayerCount == 2 })
	if drain(outX)[0].Role != RoleWhite {
		t.Fatal("human not seated as white in a bot room")
	}

	r.inbox <- ToggleReady{ConnID: "x"}
	waitFor(t, func() bool { return r.State().Status == StatusActive })

	for _, mv := range []string{"e2e4", "d1h5", "f1c4"} {
		before := len(r.State().MovesUCI)
		r.inbox <- SubmitMove{ConnID: "x", Move: mv}
		// wait for the human move plus the scripted engine reply
		waitFor(t, func() bool { return len(r.State().MovesUCI) >= before+2 })
	}
	r.inbox <- SubmitMove{ConnID: "x", Move: "h5f7"}
	waitFor(t, func() bool {
		_, n := ledger.lastRating()
		return n == 1
	})

	rating, _ := ledger.lastRating()
	if rating != 1016 {
		t.Fatalf("winner rating = %d, want 1016", rating)
	}

	msgs := drain(outX)
	var last proto.ServerMessage
	for _, m := range msgs {
		if m.Type == proto.TypeMoveApplied && m.GameOver {
			last = m
		}
	}
	if last.Result != "white" || last.WhiteDelta != 16 || last.BlackDelta != -16 {
		t.Fatalf("terminal frame = %+v", last)
	}
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if len(ledger.matches) != 1 || ledger.matches[0].Result != "white" {
		t.Fatalf("match record missing: %+v", ledger.matches)
	}
	if len(ledger.matches[0].MovesUCI) != 7 {
		t.Fatalf("move log incomplete: %v", ledger.matches[0].MovesUCI)
	}
	rec := ledger.matches[0]
	if rec.BotTier != "depth-8" {
		t.Fatalf("bot tier = %q", rec.BotTier)
	}
	if rec.RatingBefore != 1000 || rec.RatingAfter != 1016 {
		t.Fatalf("rating movement = %d -> %d", rec.RatingBefore, rec.RatingAfter)
	}
}

func TestRatingUpdateRetriesOnce(t *testing.T) {
	ledger := &fakeLedger{failPut: 1}
	oracle := &scriptedOracle{moves: []string{"e7e5", "b8c6", "g8f6"}}
	r := newTestRoom(t, Options{BotSeat: true, BotRating: 1000},
		Deps{Ledger: ledger, Oracle: oracle, DefaultRating: 1000})

	joinConn(r, "x", "alice")
	r.inbox <- ToggleReady{ConnID: "x"}
	waitFor(t, func() bool { return r.State().Status == StatusActive })

	for _, mv := range []string{"e2e4", "d1h5", "f1c4"} {
		before := len(r.State().MovesUCI)
		r.inbox <- SubmitMove{ConnID: "x", Move: mv}
		waitFor(t, func() bool { return len(r.State().MovesUCI) >= before+2 })
	}
	r.inbox <- SubmitMove{ConnID: "x", Move: "h5f7"}
	waitFor(t, func() bool {
		_, n := ledger.lastRating()
		return n == 1
	})
}

func TestStaleOracleReplyDropped(t *testing.T) {
	r := newTestRoom(t, Options{}, Deps{})
	joinConn(r, "x", "alice")
	joinConn(r, "y", "bob")
	r.inbox <- ToggleReady{ConnID: "x"}
	r.inbox <- ToggleReady{ConnID: "y"}
	waitFor(t, func() bool { return r.State().Status == StatusActive })

	// reply pinned to a ply that has already advanced
	r.inbox <- SubmitMove{ConnID: "x", Move: "e2e4"}
	waitFor(t, func() bool { return len(r.State().MovesUCI) == 1 })
	r.inbox <- oracleMove{UCI: "e7e5", AtPly: 0}
	waitFor(t, func() bool { return len(r.State().MovesUCI) == 1 })
	if mv := r.State().MovesUCI; len(mv) != 1 || mv[0] != "e2e4" {
		t.Fatalf("stale oracle reply applied: %v", mv)
	}
}
