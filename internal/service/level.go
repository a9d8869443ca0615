// Package service provides business logic implementations.
package service

// Leveling curve. Level 1 spans XP [0, 100). Reaching level n (n >= 2)
// costs 100 + (n-2)*50 XP on top of the previous level's floor, so the
// floors accumulate as 100, 250, 450, 700, ...
//
// Level is always derived from cumulative XP; it is never stored as an
// independent counter that could drift.

// levelOneCeiling is the XP needed to leave level 1.
const levelOneCeiling = 100

// stepIncrement is the extra XP each further level costs over the last.
const stepIncrement = 50

// LevelFloor returns the cumulative XP at which the given level begins.
// Level 1 begins at 0.
func LevelFloor(level int) int64 {
	if level <= 1 {
		return 0
	}
	var floor int64
	for n := 2; n <= level; n++ {
		floor += levelOneCeiling + int64(n-2)*stepIncrement
	}
	return floor
}

// LevelCeiling returns the cumulative XP at which the given level ends,
// which is the next level's floor.
func LevelCeiling(level int) int64 {
	if level < 1 {
		level = 1
	}
	return LevelFloor(level + 1)
}

// LevelFromXP derives the level for a cumulative XP total by walking the
// floors until xp no longer reaches the next one. Monotonic in xp.
func LevelFromXP(xp int64) int {
	if xp < 0 {
		return 1
	}
	level := 1
	for xp >= LevelCeiling(level) {
		level++
	}
	return level
}

// LevelBounds returns the [floor, ceiling) XP bounds of the level that
// contains the given XP total.
func LevelBounds(xp int64) (floor, ceiling int64) {
	level := LevelFromXP(xp)
	return LevelFloor(level), LevelCeiling(level)
}
