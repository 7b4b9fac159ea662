package engine

import (
	"fmt"

	"chess-arena/internal/engine/uci"
)

// Tier is the difficulty budget handed to the oracle for one opponent
// strength. Depth is the search budget; Options shape the spawned
// process and double as the pool bucket key.
type Tier struct {
	Name  string
	Depth int
	Opt   uci.Options
}

// tierBands are ascending half-open rating bands. Each entry applies to
// ratings strictly below Ceiling; the last entry covers the rest.
// Budgets must be non-decreasing from top to bottom.
var tierBands = []struct {
	Ceiling int
	Depth   int
	Skill   int
	HashMB  int
}{
	{600, 1, 0, 16},
	{800, 2, 2, 16},
	{1000, 5, 4, 16},
	{1200, 8, 7, 24},
	{1400, 11, 10, 32},
	{1600, 14, 13, 48},
	{1800, 17, 16, 64},
	{2000, 20, 18, 64},
	{2200, 23, 20, 96},
	{0, 25, 20, 128},
}

// DepthForRating maps a rating to a search-depth budget. Monotonic
// non-decreasing over the whole integer domain.
func DepthForRating(rating int) int {
	return TierForRating(rating).Depth
}

// TierForRating selects the difficulty tier for a rating.
func TierForRating(rating int) Tier {
	for _, band := range tierBands[:len(tierBands)-1] {
		if rating < band.Ceiling {
			return tierFromBand(band.Depth, band.Skill, band.HashMB)
		}
	}
	top := tierBands[len(tierBands)-1]
	return tierFromBand(top.Depth, top.Skill, top.HashMB)
}

func tierFromBand(depth, skill, hashMB int) Tier {
	return Tier{
		Name:  fmt.Sprintf("depth-%d", depth),
		Depth: depth,
		Opt: uci.Options{
			Threads:    1,
			HashMB:     hashMB,
			SkillLevel: skill,
		},
	}
}
