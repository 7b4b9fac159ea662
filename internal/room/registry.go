package room

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"

	"go.uber.org/zap"

	"chess-arena/internal/obslog"
)

const (
	codeLength  = 6
	codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Registry is the process-wide table of live rooms. At most one Room object
// exists per code; the mutex guards only creation and removal, never the
// rooms' own event processing.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	deps     Deps
	maxRooms int

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRegistry(deps Deps, maxRooms int) *Registry {
	if maxRooms <= 0 {
		maxRooms = 500
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		rooms:    make(map[string]*Room),
		deps:     deps,
		maxRooms: maxRooms,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// NormalizeCode validates and upper-cases a room code.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != codeLength {
		return "", ErrInvalidCode
	}
	for _, c := range code {
		if !strings.ContainsRune(codeLetters, c) {
			return "", ErrInvalidCode
		}
	}
	return code, nil
}

// NewCode draws a fresh random room code. Bytes outside the largest
// multiple of the alphabet size are rejected and redrawn so every
// letter is equally likely.
func NewCode() (string, error) {
	const limit = byte(256 - 256%len(codeLetters))
	out := make([]byte, 0, codeLength)
	buf := make([]byte, codeLength)
	for len(out) < codeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit || len(out) == codeLength {
				continue
			}
			out = append(out, codeLetters[int(b)%len(codeLetters)])
		}
	}
	return string(out), nil
}

// GetOrCreate returns the live room for a code, reviving it from the room
// store when a snapshot exists, or creating it fresh.
func (g *Registry) GetOrCreate(ctx context.Context, code string) (*Room, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[code]; ok {
		return r, nil
	}
	if len(g.rooms) >= g.maxRooms {
		return nil, ErrTooManyRooms
	}

	opts := Options{}
	if g.deps.Store != nil {
		snap, err := g.deps.Store.Load(ctx, code)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			opts.Moves = snap.Moves
			opts.BotSeat = snap.BotSeat
			opts.BotRating = snap.BotRating
		}
	}
	r, err := newRoom(g.ctx, code, g.deps, opts, g.Remove)
	if err != nil {
		return nil, err
	}
	g.rooms[code] = r
	obslog.L().Info("room_opened", zap.String("room", code), zap.Bool("bot", opts.BotSeat))
	return r, nil
}

// Create allocates a fresh code and opens a new room for it.
func (g *Registry) Create(ctx context.Context, opts Options) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.rooms) >= g.maxRooms {
		return nil, ErrTooManyRooms
	}

	for attempt := 0; attempt < 5; attempt++ {
		code, err := NewCode()
		if err != nil {
			return nil, err
		}
		if _, taken := g.rooms[code]; taken {
			continue
		}
		if g.deps.Store != nil {
			ok, err := g.deps.Store.Allocate(ctx, code)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		r, err := newRoom(g.ctx, code, g.deps, opts, g.Remove)
		if err != nil {
			return nil, err
		}
		g.rooms[code] = r
		obslog.L().Info("room_created", zap.String("room", code), zap.Bool("bot", opts.BotSeat))
		return r, nil
	}
	return nil, ErrCodeExhausted
}

// Lookup returns a live room without creating one.
func (g *Registry) Lookup(code string) (*Room, bool) {
	normalized, err := NormalizeCode(code)
	if err != nil {
		return nil, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[normalized]
	return r, ok
}

// Remove drops a room from the table. The persisted snapshot stays behind
// so its history outlives the in-memory object.
func (g *Registry) Remove(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.rooms[code]; ok {
		delete(g.rooms, code)
		obslog.L().Info("room_closed", zap.String("room", code))
	}
}

// ActiveCount reports how many rooms are live in this process.
func (g *Registry) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Close shuts every room down.
func (g *Registry) Close() {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.rooms = make(map[string]*Room)
	g.mu.Unlock()

	for _, r := range rooms {
		select {
		case r.inbox <- Shutdown{}:
		case <-r.ctx.Done():
		}
	}
	g.cancel()
}
