package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"journal-gamification/internal/criteria"
	"journal-gamification/internal/model"
	"journal-gamification/internal/notify"
	"journal-gamification/internal/repository"
)

// Challenge service errors.
var (
	ErrChallengeClosed    = errors.New("challenge window is not open")
	ErrChallengeOptedOut  = errors.New("user has opted out of challenges")
	ErrChallengeImmutable = errors.New("challenge enrollment is in a terminal state")
)

// ChallengeService manages time-boxed challenge enrollments: joining,
// progress passes, completion rewards and expiry sweeps. Progress for an
// enrollment only ever moves forward; completed and expired are terminal.
type ChallengeService struct {
	challengeRepo   *repository.ChallengeRepository
	achievementRepo *repository.AchievementRepository
	privacyRepo     *repository.PrivacyRepository
	tradeRepo       *repository.TradeRepository
	dispatcher      notify.Dispatcher
}

// NewChallengeService creates a new ChallengeService instance.
func NewChallengeService(
	challengeRepo *repository.ChallengeRepository,
	achievementRepo *repository.AchievementRepository,
	privacyRepo *repository.PrivacyRepository,
	tradeRepo *repository.TradeRepository,
	dispatcher notify.Dispatcher,
) *ChallengeService {
	return &ChallengeService{
		challengeRepo:   challengeRepo,
		achievementRepo: achievementRepo,
		privacyRepo:     privacyRepo,
		tradeRepo:       tradeRepo,
		dispatcher:      dispatcher,
	}
}

// CreateDefinition validates and stores a new challenge definition. The
// criteria must parse and measure progress, and the window must be ordered.
func (s *ChallengeService) CreateDefinition(ctx context.Context, c *model.ChallengeDefinition) (*model.ChallengeDefinition, error) {
	rule, err := criteria.Parse(c.Criteria)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCriteria, err)
	}
	if _, ok := rule.(criteria.ProgressMeasurer); !ok {
		return nil, fmt.Errorf("%w: criteria kind %q cannot measure progress", ErrInvalidCriteria, rule.Kind())
	}
	if !c.EndDate.After(c.StartDate) {
		return nil, fmt.Errorf("%w: end date must be after start date", ErrInvalidCriteria)
	}
	if c.TargetValue <= 0 {
		return nil, fmt.Errorf("%w: target value must be positive", ErrInvalidCriteria)
	}
	return s.challengeRepo.CreateDefinition(ctx, c)
}

// Join enrolls the user in a challenge. Joining twice returns the existing
// enrollment unchanged. Users who opted out of challenges are rejected, as
// are joins outside the challenge window.
func (s *ChallengeService) Join(ctx context.Context, userID, challengeID int64) (*model.UserChallenge, error) {
	settings, err := s.privacyRepo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load privacy settings: %w", err)
	}
	if !settings.ParticipateInChallenges {
		return nil, ErrChallengeOptedOut
	}

	def, err := s.challengeRepo.GetByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !def.WindowContains(time.Now().UTC()) {
		return nil, ErrChallengeClosed
	}

	uc, err := s.challengeRepo.Join(ctx, userID, challengeID)
	if err != nil {
		return nil, err
	}

	if uc.StartedAt.After(time.Now().UTC().Add(-2 * time.Second)) {
		s.dispatcher.Dispatch(ctx, notify.NewEnvelope(notify.TypeChallengeJoined, userID, notify.ChallengeJoined{
			ChallengeKey:  def.Key,
			ChallengeName: def.Name,
			EndsAt:        def.EndDate,
			TargetValue:   def.TargetValue,
		}))
	}

	return uc, nil
}

// GetUserChallenges returns every enrollment for the user, newest first.
func (s *ChallengeService) GetUserChallenges(ctx context.Context, userID int64) ([]model.UserChallenge, error) {
	return s.challengeRepo.GetByUser(ctx, userID)
}

// RunProgressPass measures progress for every active enrollment of every
// open challenge. A failing challenge or participant is logged and skipped,
// never aborting the pass. Returns the number of completions.
func (s *ChallengeService) RunProgressPass(ctx context.Context, now time.Time) (int, error) {
	defs, err := s.challengeRepo.GetOpenDefinitions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load open challenges: %w", err)
	}

	completed := 0
	for _, def := range defs {
		n, err := s.progressChallenge(ctx, &def, now)
		if err != nil {
			log.Error().Err(err).Str("key", def.Key).Msg("Challenge progress pass failed")
			continue
		}
		completed += n
	}
	return completed, nil
}

func (s *ChallengeService) progressChallenge(ctx context.Context, def *model.ChallengeDefinition, now time.Time) (int, error) {
	rule, err := criteria.Parse(def.Criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to parse challenge criteria: %w", err)
	}
	measurer, ok := rule.(criteria.ProgressMeasurer)
	if !ok {
		return 0, fmt.Errorf("criteria kind %q cannot measure progress", rule.Kind())
	}

	enrollments, err := s.challengeRepo.GetActiveByChallengeID(ctx, def.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load enrollments: %w", err)
	}
	if len(enrollments) == 0 {
		return 0, nil
	}

	progresses := make(map[int64]float64, len(enrollments))
	for _, uc := range enrollments {
		p, err := s.measureUser(ctx, uc.UserID, def, measurer, now)
		if err != nil {
			log.Error().Err(err).Int64("user_id", uc.UserID).Str("key", def.Key).
				Msg("Failed to measure challenge progress")
			continue
		}
		progresses[uc.UserID] = p
	}

	// Community challenges advance everyone by the cohort average, so the
	// group either crosses the line together or not at all.
	if def.IsCommunity {
		avg := communityAverage(progresses)
		for id := range progresses {
			progresses[id] = avg
		}
	}

	completed := 0
	for userID, progress := range progresses {
		done, err := s.advance(ctx, def, userID, progress)
		if err != nil {
			log.Error().Err(err).Int64("user_id", userID).Str("key", def.Key).
				Msg("Failed to advance challenge progress")
			continue
		}
		if done {
			completed++
		}
	}
	return completed, nil
}

// communityAverage is the cohort mean over the users that actually produced
// a measurement this pass. A participant whose measurement failed is absent
// from the map and must not pull the average toward zero.
func communityAverage(progresses map[int64]float64) float64 {
	if len(progresses) == 0 {
		return 0
	}
	var sum float64
	for _, p := range progresses {
		sum += p
	}
	return sum / float64(len(progresses))
}

// measureUser evaluates the challenge rule over the user's trades inside
// the challenge window only.
func (s *ChallengeService) measureUser(ctx context.Context, userID int64, def *model.ChallengeDefinition, measurer criteria.ProgressMeasurer, now time.Time) (float64, error) {
	trades, err := s.tradeRepo.GetByUserSince(ctx, userID, def.StartDate)
	if err != nil {
		return 0, err
	}

	inWindow := trades[:0:0]
	for _, t := range trades {
		if def.WindowContains(t.EntryTime) {
			inWindow = append(inWindow, t)
		}
	}

	end := now
	if def.EndDate.Before(end) {
		end = def.EndDate
	}
	return measurer.Progress(criteria.NewWindow(userID, end, inWindow)), nil
}

// advance writes the measured progress (clamped monotonic in SQL) and, when
// the target is reached, completes the enrollment exactly once: the reward
// credit and the status flip share a transaction, and only the pass that
// wins the status flip emits the completion event.
func (s *ChallengeService) advance(ctx context.Context, def *model.ChallengeDefinition, userID int64, progress float64) (bool, error) {
	if progress < def.TargetValue {
		_, err := s.challengeRepo.AdvanceProgress(ctx, userID, def.ID, progress, def.TargetValue)
		return false, err
	}

	won, err := s.challengeRepo.Complete(ctx, userID, def.ID, def.TargetValue, def.RewardPoints)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	if def.RewardAchievement != nil {
		if err := s.grantRewardAchievement(ctx, userID, *def.RewardAchievement); err != nil {
			log.Error().Err(err).Int64("user_id", userID).Str("key", def.Key).
				Msg("Failed to grant challenge reward achievement")
		}
	}

	s.dispatcher.Dispatch(ctx, notify.NewEnvelope(notify.TypeChallengeCompleted, userID, notify.ChallengeCompleted{
		ChallengeKey:  def.Key,
		ChallengeName: def.Name,
		RewardPoints:  def.RewardPoints,
		FinalProgress: def.TargetValue,
	}))

	return true, nil
}

// grantRewardAchievement awards the badge attached to a challenge. The
// reward points already went through the completion transaction, so the
// badge itself carries zero XP here.
func (s *ChallengeService) grantRewardAchievement(ctx context.Context, userID, achievementID int64) error {
	_, err := s.achievementRepo.AwardBatch(ctx, userID, []repository.Award{{
		AchievementID: achievementID,
		Points:        0,
		Metadata:      nil,
		Repeatable:    false,
	}})
	return err
}

// RunExpirySweep flips every active enrollment whose challenge window has
// closed to expired. Safe to run repeatedly.
func (s *ChallengeService) RunExpirySweep(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.challengeRepo.ExpireWindowClosed(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire challenges: %w", err)
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("Expired challenge enrollments")
	}
	return n, nil
}
