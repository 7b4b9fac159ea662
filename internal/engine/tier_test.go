package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"chess-arena/internal/rules"
)

func TestDepthForRatingMonotonic(t *testing.T) {
	prev := DepthForRating(-1000)
	for rating := -999; rating <= 3200; rating++ {
		d := DepthForRating(rating)
		if d < prev {
			t.Fatalf("budget decreased at rating %d: %d -> %d", rating, prev, d)
		}
		prev = d
	}
}

func TestDepthForRatingBands(t *testing.T) {
	cases := map[int]int{
		0:    1,
		599:  1,
		600:  2,
		1000: 8,
		1500: 14,
		1999: 20,
		2500: 25,
	}
	for rating, want := range cases {
		if got := DepthForRating(rating); got != want {
			t.Fatalf("DepthForRating(%d) = %d, want %d", rating, got, want)
		}
	}
}

func TestTierGrowsWithRating(t *testing.T) {
	low := TierForRating(1000)
	high := TierForRating(1800)
	if low.Depth >= high.Depth {
		t.Fatalf("tier for 1000 (%d) must be below tier for 1800 (%d)", low.Depth, high.Depth)
	}
	if low.Opt.SkillLevel > high.Opt.SkillLevel {
		t.Fatalf("skill level must not decrease with rating")
	}
}

func TestMoveOrFallbackWithoutEngine(t *testing.T) {
	// No pool configured: every request must fall back to a random
	// legal move of the supplied position.
	o := &Oracle{timeout: time.Second, rand: rand.New(rand.NewSource(1))}

	m := rules.NewMatch()
	legal := map[string]bool{}
	for _, mv := range m.LegalMovesUCI() {
		legal[mv] = true
	}

	for i := 0; i < 10; i++ {
		mv, fellBack, err := o.MoveOrFallback(context.Background(), m, 1200)
		if err != nil {
			t.Fatalf("fallback must not error: %v", err)
		}
		if !fellBack {
			t.Fatalf("expected the fallback path without an engine")
		}
		if !legal[mv] {
			t.Fatalf("fallback produced non-legal move %q", mv)
		}
	}
}

func TestMoveOrFallbackTerminalPosition(t *testing.T) {
	o := &Oracle{timeout: time.Second, rand: rand.New(rand.NewSource(1))}
	m := rules.NewMatch()
	for _, mv := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		if res := m.Apply(mv); !res.Legal {
			t.Fatalf("setup move %s rejected", mv)
		}
	}
	if _, _, err := o.MoveOrFallback(context.Background(), m, 1200); err != ErrNoLegalMoves {
		t.Fatalf("expected ErrNoLegalMoves in mated position, got %v", err)
	}
}
