// Package elo maps terminal positions to rated outcomes and applies the
// resulting rating movement to an account.
package elo

import (
	"math"

	"chess-arena/internal/rules"
)

const kFactor = 32

// Score is the rated player's actual score for a finished match.
type Score float64

const (
	ScoreLoss Score = 0
	ScoreDraw Score = 0.5
	ScoreWin  Score = 1
)

// Resolve maps a terminal result to the score of the player holding the
// given color.
func Resolve(res rules.Result, playerColor rules.Color) Score {
	switch res {
	case rules.ResultWhiteWins:
		if playerColor == rules.White {
			return ScoreWin
		}
		return ScoreLoss
	case rules.ResultBlackWins:
		if playerColor == rules.Black {
			return ScoreWin
		}
		return ScoreLoss
	default:
		return ScoreDraw
	}
}

// Delta computes the rating change for the player. Draws are pinned to a
// zero delta rather than scored through the expected-value formula; the
// rating only moves on decisive games.
func Delta(playerRating, opponentRating int, score Score) int {
	if score == ScoreDraw {
		return 0
	}
	expected := 1 / (1 + math.Pow(10, float64(opponentRating-playerRating)/400))
	return int(math.Round(kFactor * (float64(score) - expected)))
}

// Movement is the ledger-facing summary of one rated result.
type Movement struct {
	Before int
	After  int
	Delta  int
	Won    bool
}

// Apply computes the player's movement against an opponent rating. Peak
// tracking is the caller's concern via NewPeak.
func Apply(playerRating, opponentRating int, score Score) Movement {
	d := Delta(playerRating, opponentRating, score)
	return Movement{
		Before: playerRating,
		After:  playerRating + d,
		Delta:  d,
		Won:    score == ScoreWin,
	}
}

// NewPeak returns the updated peak rating. The peak never decreases.
func NewPeak(peak, rating int) int {
	if rating > peak {
		return rating
	}
	return peak
}

// RankName labels a rating band for display.
func RankName(rating int) string {
	switch {
	case rating < 800:
		return "Beginner"
	case rating < 1000:
		return "Novice"
	case rating < 1200:
		return "Amateur"
	case rating < 1400:
		return "Intermediate"
	case rating < 1600:
		return "Advanced"
	case rating < 1800:
		return "Expert"
	case rating < 2000:
		return "Master"
	default:
		return "Grandmaster"
	}
}
