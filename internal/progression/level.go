package progression

import "math"

// LevelForXP returns floor(sqrt(totalXP/100)) + 1. Negative totals are level 1.
func LevelForXP(totalXP int) int {
	if totalXP < 100 {
		return 1
	}
	k := int(math.Sqrt(float64(totalXP) / 100))
	// Correct float rounding at exact boundaries.
	for 100*(k+1)*(k+1) <= totalXP {
		k++
	}
	for k > 0 && 100*k*k > totalXP {
		k--
	}
	return k + 1
}

// XPForLevel returns the total XP at which level is reached.
func XPForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	return 100 * (level - 1) * (level - 1)
}

// XPToNextLevel returns how much more XP totalXP needs for the next level.
func XPToNextLevel(totalXP int) int {
	return XPForLevel(LevelForXP(totalXP)+1) - totalXP
}
