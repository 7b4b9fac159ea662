// Package engine drives the automated opponent: it selects a difficulty
// budget from a rating, asks the external UCI process for a move, and
// degrades to a random legal move when the process misbehaves so a match
// always makes progress.
package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"chess-arena/internal/engine/uci"
	"chess-arena/internal/obslog"
	"chess-arena/internal/rules"
	"go.uber.org/zap"
)

// ErrNoLegalMoves is returned when the oracle is asked to move in a
// terminal position. Callers are expected to check terminality first.
var ErrNoLegalMoves = errors.New("no legal moves in position")

const defaultMoveTimeout = 10 * time.Second

// Oracle produces moves for the automated opponent.
type Oracle struct {
	pool    *uci.Pool
	timeout time.Duration

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewOracle(binaryPath string) (*Oracle, error) {
	pool, err := uci.NewPool(uci.PoolConfig{BinaryPath: binaryPath})
	if err != nil {
		return nil, err
	}
	return &Oracle{
		pool:    pool,
		timeout: defaultMoveTimeout,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// NewFallbackOracle builds an oracle with no engine process behind it.
// Every request takes the random-legal-move path.
func NewFallbackOracle() *Oracle {
	return &Oracle{
		timeout: defaultMoveTimeout,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (o *Oracle) Close() error {
	if o == nil || o.pool == nil {
		return nil
	}
	return o.pool.Close()
}

// BestMove asks the engine for a move at the tier selected for rating.
// It returns the raw engine failure; use MoveOrFallback for the
// always-progress variant.
func (o *Oracle) BestMove(ctx context.Context, moves []string, rating int) (string, error) {
	if o.pool == nil {
		return "", errors.New("engine pool not initialized")
	}
	tier := TierForRating(rating)

	moveCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	session, err := o.pool.Acquire(moveCtx, tier.Opt)
	if err != nil {
		return "", err
	}
	var releaseErr error
	defer func() { o.pool.Release(session, releaseErr) }()

	if err := session.NewGame(moveCtx); err != nil {
		releaseErr = err
		return "", err
	}
	best, err := session.Search(moveCtx, uci.SearchRequest{
		FEN:    "startpos",
		Moves:  moves,
		Limits: uci.Limits{Depth: tier.Depth},
	})
	if err != nil {
		releaseErr = err
		return "", err
	}
	return best, nil
}

// MoveOrFallback returns a legal move for the side to move in m. Engine
// failures are absorbed: the reply falls back to a uniformly random
// legal move and the failure is only logged, never surfaced. The second
// return reports whether the fallback fired.
func (o *Oracle) MoveOrFallback(ctx context.Context, m *rules.Match, rating int) (string, bool, error) {
	legal := m.LegalMovesUCI()
	if len(legal) == 0 {
		return "", false, ErrNoLegalMoves
	}

	best, err := o.BestMove(ctx, m.MovesUCI(), rating)
	if err == nil && contains(legal, best) {
		return best, false, nil
	}
	if err != nil {
		obslog.L().Warn("oracle_fallback",
			zap.Error(err),
			zap.Int("rating", rating),
			zap.Int("legal_moves", len(legal)),
		)
	} else {
		obslog.L().Warn("oracle_fallback",
			zap.String("reason", "engine move not legal"),
			zap.String("move", best),
		)
	}
	return legal[o.intn(len(legal))], true, nil
}

func (o *Oracle) intn(n int) int {
	o.randMu.Lock()
	defer o.randMu.Unlock()
	return o.rand.Intn(n)
}

// SetRandomSeed pins the fallback selection for tests.
func (o *Oracle) SetRandomSeed(seed int64) {
	o.randMu.Lock()
	o.rand = rand.New(rand.NewSource(seed))
	o.randMu.Unlock()
}

func contains(moves []string, mv string) bool {
	for _, m := range moves {
		if m == mv {
			return true
		}
	}
	return false
}
