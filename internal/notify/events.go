// Package notify defines the typed gamification events and their
// fire-and-forget dispatch. Delivery failure is logged and never rolls back
// the transaction that produced the event.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeAchievementEarned  = "achievement_earned"
	TypeLevelUp            = "level_up"
	TypeXPUpdate           = "xp_update"
	TypeChallengeJoined    = "challenge_joined"
	TypeChallengeCompleted = "challenge_completed"
)

// Envelope wraps one event with identity and timing so every payload is
// self-contained for client display.
type Envelope struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Payload   any       `json:"payload"`
}

// NewEnvelope builds an envelope around a payload.
func NewEnvelope(eventType string, userID int64, payload any) Envelope {
	return Envelope{
		ID:        uuid.New(),
		Type:      eventType,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
}

// AchievementEarned announces a newly granted achievement.
type AchievementEarned struct {
	AchievementKey  string `json:"achievement_key"`
	AchievementName string `json:"achievement_name"`
	Category        string `json:"category"`
	Points          int64  `json:"points"`
}

// XPUpdate carries the before/after XP position including the threshold
// bounds of both levels, so a client can animate the XP bar without extra
// lookups.
type XPUpdate struct {
	PointsBefore  int64 `json:"points_before"`
	PointsAfter   int64 `json:"points_after"`
	LevelBefore   int   `json:"level_before"`
	LevelAfter    int   `json:"level_after"`
	FloorBefore   int64 `json:"floor_before"`
	CeilingBefore int64 `json:"ceiling_before"`
	FloorAfter    int64 `json:"floor_after"`
	CeilingAfter  int64 `json:"ceiling_after"`
}

// LevelUp announces a derived level increase.
type LevelUp struct {
	Level       int   `json:"level"`
	TotalPoints int64 `json:"total_points"`
}

// ChallengeJoined announces a new enrollment.
type ChallengeJoined struct {
	ChallengeKey  string    `json:"challenge_key"`
	ChallengeName string    `json:"challenge_name"`
	EndsAt        time.Time `json:"ends_at"`
	TargetValue   float64   `json:"target_value"`
}

// ChallengeCompleted announces a completed challenge and its reward.
type ChallengeCompleted struct {
	ChallengeKey  string  `json:"challenge_key"`
	ChallengeName string  `json:"challenge_name"`
	RewardPoints  int64   `json:"reward_points"`
	FinalProgress float64 `json:"final_progress"`
}
