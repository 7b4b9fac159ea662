package elo

import (
	"testing"

	"chess-arena/internal/rules"
)

func TestDeltaEqualRatings(t *testing.T) {
	if d := Delta(1000, 1000, ScoreWin); d != 16 {
		t.Fatalf("win at equal ratings: expected +16, got %d", d)
	}
	if d := Delta(1000, 1000, ScoreLoss); d != -16 {
		t.Fatalf("loss at equal ratings: expected -16, got %d", d)
	}
}

func TestDeltaSymmetry(t *testing.T) {
	// A win for p and the mirrored loss for o at equal ratings must be
	// opposite-sign deltas of equal magnitude.
	for _, r := range []int{400, 1000, 1500, 2200} {
		win := Delta(r, r, ScoreWin)
		loss := Delta(r, r, ScoreLoss)
		if win != -loss {
			t.Fatalf("asymmetric deltas at rating %d: win=%d loss=%d", r, win, loss)
		}
	}
}

func TestDeltaDrawIsZero(t *testing.T) {
	for _, pair := range [][2]int{{1000, 1000}, {800, 1600}, {2200, 600}} {
		if d := Delta(pair[0], pair[1], ScoreDraw); d != 0 {
			t.Fatalf("draw delta %d for %v, want 0", d, pair)
		}
	}
}

func TestDeltaUnderdogGainsMore(t *testing.T) {
	underdog := Delta(1000, 1400, ScoreWin)
	favorite := Delta(1400, 1000, ScoreWin)
	if underdog <= favorite {
		t.Fatalf("underdog win (%d) should outgain favorite win (%d)", underdog, favorite)
	}
}

func TestApplyMovement(t *testing.T) {
	mv := Apply(1000, 1000, ScoreWin)
	if mv.Before != 1000 || mv.After != 1016 || mv.Delta != 16 || !mv.Won {
		t.Fatalf("unexpected movement: %+v", mv)
	}
}

func TestResolve(t *testing.T) {
	if Resolve(rules.ResultWhiteWins, rules.White) != ScoreWin {
		t.Fatalf("white win as white should score 1")
	}
	if Resolve(rules.ResultWhiteWins, rules.Black) != ScoreLoss {
		t.Fatalf("white win as black should score 0")
	}
	if Resolve(rules.ResultDraw, rules.White) != ScoreDraw {
		t.Fatalf("draw should score 0.5")
	}
}

func TestNewPeakNeverDecreases(t *testing.T) {
	if p := NewPeak(1200, 1016); p != 1200 {
		t.Fatalf("peak must not drop: got %d", p)
	}
	if p := NewPeak(1000, 1016); p != 1016 {
		t.Fatalf("peak must follow a new high: got %d", p)
	}
}

func TestRankNameBands(t *testing.T) {
	cases := map[int]string{
		500:  "Beginner",
		999:  "Novice",
		1200: "Intermediate",
		1850: "Master",
		2400: "Grandmaster",
	}
	for rating, want := range cases {
		if got := RankName(rating); got != want {
			t.Fatalf("RankName(%d) = %q, want %q", rating, got, want)
		}
	}
}
