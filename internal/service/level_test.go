package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// TestLevelFromXP tests the level thresholds of the leveling curve.
func TestLevelFromXP(t *testing.T) {
	tests := []struct {
		name     string
		xp       int64
		expected int
	}{
		{"zero xp is level 1", 0, 1},
		{"just below first threshold", 99, 1},
		{"first threshold", 100, 2},
		{"just below second threshold", 249, 2},
		{"second threshold", 250, 3},
		{"just below third threshold", 449, 3},
		{"third threshold", 450, 4},
		{"fourth threshold", 700, 5},
		{"negative xp clamps to level 1", -10, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, LevelFromXP(tt.xp))
		})
	}
}

// TestLevelFloor tests the cumulative XP floor of each level.
func TestLevelFloor(t *testing.T) {
	tests := []struct {
		level    int
		expected int64
	}{
		{1, 0},
		{2, 100},
		{3, 250},
		{4, 450},
		{5, 700},
		{6, 1000},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, LevelFloor(tt.level), "level %d", tt.level)
	}
}

// TestLevelBounds verifies the half-open [floor, ceiling) interval per level.
func TestLevelBounds(t *testing.T) {
	floor, ceiling := LevelBounds(130)
	assert.Equal(t, int64(100), floor)
	assert.Equal(t, int64(250), ceiling)

	floor, ceiling = LevelBounds(0)
	assert.Equal(t, int64(0), floor)
	assert.Equal(t, int64(100), ceiling)
}

// TestLevelProgression walks a user through an XP scenario: 80 XP stays on
// level 1, crossing 100 reaches level 2, 630 lands on level 4.
func TestLevelProgression(t *testing.T) {
	assert.Equal(t, 1, LevelFromXP(80))
	assert.Equal(t, 2, LevelFromXP(130))
	assert.Equal(t, 4, LevelFromXP(630))
}

// TestLevelMonotonicityProperty verifies that more XP never means a lower
// level and that every XP value sits inside its level's bounds.
func TestLevelMonotonicityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int64Range(0, 1_000_000).Draw(t, "a")
		b := rapid.Int64Range(0, 1_000_000).Draw(t, "b")

		levelA := LevelFromXP(a)
		levelB := LevelFromXP(b)
		if a <= b && levelA > levelB {
			t.Fatalf("level decreased: %d xp -> level %d, %d xp -> level %d", a, levelA, b, levelB)
		}

		floor, ceiling := LevelBounds(a)
		if a < floor || a >= ceiling {
			t.Fatalf("%d xp outside level %d bounds [%d, %d)", a, levelA, floor, ceiling)
		}
	})
}
