package services

import "github.com/soriano-club/clubapi/models"

type tierBand struct {
	tier  models.Tier
	lower int64
}

// tierTable is ordered by lower bound, lowest first.
var tierTable = []tierBand{
	{tier: models.TierBronze, lower: 0},
	{tier: models.TierSilver, lower: 1000},
	{tier: models.TierGold, lower: 5000},
	{tier: models.TierPlatinum, lower: 20000},
}

func bandIndex(points int64) int {
	idx := 0
	for i, b := range tierTable {
		if points >= b.lower {
			idx = i
		}
	}
	return idx
}

// TierOf returns the highest tier whose lower bound is <= points.
func TierOf(points int64) models.Tier {
	return tierTable[bandIndex(points)].tier
}

// NextTier returns the tier above the one points falls in. ok is false at the top tier.
func NextTier(points int64) (tier models.Tier, ok bool) {
	idx := bandIndex(points)
	if idx == len(tierTable)-1 {
		return "", false
	}
	return tierTable[idx+1].tier, true
}

// ProgressToNext returns 0..100, the share of the current band already covered.
// The top tier has no next band and always reports 100.
func ProgressToNext(points int64) int {
	idx := bandIndex(points)
	if idx == len(tierTable)-1 {
		return 100
	}
	lower, upper := tierTable[idx].lower, tierTable[idx+1].lower
	if points <= lower {
		return 0
	}
	pct := (points - lower) * 100 / (upper - lower)
	if pct > 100 {
		pct = 100
	}
	return int(pct)
}

// PointsToNext returns how many lifetime points are missing for the next tier.
func PointsToNext(points int64) int64 {
	idx := bandIndex(points)
	if idx == len(tierTable)-1 {
		return 0
	}
	if points < 0 {
		points = 0
	}
	return tierTable[idx+1].lower - points
}

// TierRank orders tiers; unknown tiers rank below bronze.
func TierRank(t models.Tier) int {
	for i, b := range tierTable {
		if b.tier == t {
			return i
		}
	}
	return -1
}
