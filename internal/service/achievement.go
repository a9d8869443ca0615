package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"journal-gamification/internal/criteria"
	"journal-gamification/internal/model"
	"journal-gamification/internal/notify"
	"journal-gamification/internal/pkg/lock"
	"journal-gamification/internal/repository"
)

// Achievement service errors.
var (
	ErrInvalidCriteria = errors.New("invalid achievement criteria")
)

// parsedDefinition pairs a definition with its criteria parsed exactly
// once at load time.
type parsedDefinition struct {
	model.AchievementDefinition
	Rule criteria.Criteria
}

// AchievementService evaluates achievement rules for a user and records the
// results. Evaluation itself is read-only; newly satisfied rules are
// granted in one atomic write batch together with the XP credit.
type AchievementService struct {
	achievementRepo *repository.AchievementRepository
	statsRepo       *repository.StatsRepository
	tradeRepo       *repository.TradeRepository
	dispatcher      notify.Dispatcher
	userLock        *lock.UserLock

	windowDays  int
	lockTimeout time.Duration

	mu   sync.RWMutex
	defs []parsedDefinition
}

// NewAchievementService creates a new AchievementService instance.
func NewAchievementService(
	achievementRepo *repository.AchievementRepository,
	statsRepo *repository.StatsRepository,
	tradeRepo *repository.TradeRepository,
	dispatcher notify.Dispatcher,
	userLock *lock.UserLock,
	windowDays int,
	lockTimeout time.Duration,
) *AchievementService {
	if windowDays <= 0 {
		windowDays = 365
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &AchievementService{
		achievementRepo: achievementRepo,
		statsRepo:       statsRepo,
		tradeRepo:       tradeRepo,
		dispatcher:      dispatcher,
		userLock:        userLock,
		windowDays:      windowDays,
		lockTimeout:     lockTimeout,
	}
}

// RefreshDefinitions reloads and parses the active achievement catalog.
// Definitions whose criteria fail to parse are skipped with a log entry so
// one malformed row cannot disable the rest of the catalog.
func (s *AchievementService) RefreshDefinitions(ctx context.Context) error {
	defs, err := s.achievementRepo.GetActiveDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load achievement definitions: %w", err)
	}

	parsed := make([]parsedDefinition, 0, len(defs))
	for _, d := range defs {
		rule, err := criteria.Parse(d.Criteria)
		if err != nil {
			log.Error().
				Err(err).
				Str("key", d.Key).
				Msg("Skipping achievement with unparseable criteria")
			continue
		}
		parsed = append(parsed, parsedDefinition{AchievementDefinition: d, Rule: rule})
	}

	s.mu.Lock()
	s.defs = parsed
	s.mu.Unlock()

	log.Info().Int("count", len(parsed)).Msg("Achievement definitions loaded")
	return nil
}

// definitions returns the cached parsed catalog.
func (s *AchievementService) definitions() []parsedDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defs
}

// CreateDefinition validates and stores a new achievement definition, then
// refreshes the catalog cache.
func (s *AchievementService) CreateDefinition(ctx context.Context, d *model.AchievementDefinition) (*model.AchievementDefinition, error) {
	if _, err := criteria.Parse(d.Criteria); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCriteria, err)
	}

	created, err := s.achievementRepo.CreateDefinition(ctx, d)
	if err != nil {
		return nil, err
	}

	if err := s.RefreshDefinitions(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to refresh definitions after create")
	}

	return created, nil
}

// OnTradeRecorded is the per-user trigger invoked after a trading event: it
// maintains the journaling streak and runs a full evaluation pass.
func (s *AchievementService) OnTradeRecorded(ctx context.Context, userID int64) (*EvaluationOutcome, error) {
	if _, err := s.statsRepo.TouchActivity(ctx, userID); err != nil {
		// Streak bookkeeping must not block evaluation.
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to update activity streak")
	}
	return s.EvaluateUser(ctx, userID)
}

// EvaluationOutcome reports what one evaluation pass changed.
type EvaluationOutcome struct {
	Evaluated   int
	Earned      []model.AchievementDefinition
	PointsAdded int64
	TotalPoints int64
	LevelBefore int
	LevelAfter  int
}

// EvaluateUser evaluates every active achievement rule against the user's
// trade window and grants whatever newly holds. Concurrent passes for the
// same user are serialized in-process; across processes the award ledger's
// uniqueness constraint guarantees no double award and no double XP.
func (s *AchievementService) EvaluateUser(ctx context.Context, userID int64) (*EvaluationOutcome, error) {
	outcome := &EvaluationOutcome{}

	err := s.userLock.WithLockContext(ctx, userID, s.lockTimeout, func() error {
		return s.evaluateLocked(ctx, userID, outcome)
	})
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			// Another pass for this user is already running; its result
			// will cover this trigger.
			log.Debug().Int64("user_id", userID).Msg("Evaluation already in flight")
			return outcome, nil
		}
		return nil, err
	}

	return outcome, nil
}

func (s *AchievementService) evaluateLocked(ctx context.Context, userID int64, outcome *EvaluationOutcome) error {
	since := time.Now().UTC().AddDate(0, 0, -s.windowDays)
	trades, err := s.tradeRepo.GetByUserSince(ctx, userID, since)
	if err != nil {
		return fmt.Errorf("failed to load trade window: %w", err)
	}
	window := criteria.NewWindow(userID, time.Now().UTC(), trades)

	lastEarned, err := s.achievementRepo.GetLastEarned(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load earned achievements: %w", err)
	}

	var awards []repository.Award
	byID := make(map[int64]model.AchievementDefinition)

	for _, def := range s.definitions() {
		last, already := lastEarned[def.ID]
		if already && !def.IsRepeatable {
			continue
		}
		outcome.Evaluated++

		result, ok := evaluateRule(def, ruleWindow(def, window, last, already))
		if !ok {
			if def.MaxProgress != nil && result.Value > 0 {
				if err := s.achievementRepo.UpdateProgress(ctx, userID, def.ID, result.Value); err != nil {
					log.Error().Err(err).Str("key", def.Key).Msg("Failed to record progress")
				}
			}
			continue
		}

		byID[def.ID] = def.AchievementDefinition
		awards = append(awards, repository.Award{
			AchievementID: def.ID,
			Points:        def.Points,
			Metadata:      result.Metadata(),
			Repeatable:    def.IsRepeatable,
		})
	}

	if len(awards) == 0 {
		return nil
	}

	batch, err := s.achievementRepo.AwardBatch(ctx, userID, awards)
	if err != nil {
		return fmt.Errorf("failed to award batch: %w", err)
	}

	outcome.PointsAdded = batch.PointsCredited
	outcome.TotalPoints = batch.TotalPoints
	outcome.LevelBefore = LevelFromXP(batch.PreviousPoints)
	outcome.LevelAfter = LevelFromXP(batch.TotalPoints)
	for _, id := range batch.Granted {
		outcome.Earned = append(outcome.Earned, byID[id])
	}

	s.publishOutcome(ctx, userID, batch, outcome)
	return nil
}

// ruleWindow selects the trade window one rule is evaluated against. An
// already-earned repeatable rule only sees trades entered after the previous
// award, so a re-grant always requires fresh qualifying activity; the trades
// that paid out the last award can never pay out again.
func ruleWindow(def parsedDefinition, w *criteria.Window, last time.Time, earned bool) *criteria.Window {
	if earned && def.IsRepeatable {
		return w.After(last)
	}
	return w
}

// evaluateRule runs one rule, converting a panic inside a predicate into
// "not earned this pass" so a single bad rule cannot take down the whole
// evaluation.
func evaluateRule(def parsedDefinition, w *criteria.Window) (result criteria.Result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("key", def.Key).
				Interface("panic", r).
				Msg("Achievement rule panicked; treated as not earned")
			result, ok = criteria.Result{}, false
		}
	}()
	return def.Rule.Evaluate(w)
}

// publishOutcome emits the post-commit events for a granted batch.
// Dispatch is fire-and-forget; nothing here can undo the awards.
func (s *AchievementService) publishOutcome(ctx context.Context, userID int64, batch *repository.AwardResult, outcome *EvaluationOutcome) {
	for _, def := range outcome.Earned {
		s.dispatcher.Dispatch(ctx, notify.NewEnvelope(notify.TypeAchievementEarned, userID, notify.AchievementEarned{
			AchievementKey:  def.Key,
			AchievementName: def.Name,
			Category:        def.Category,
			Points:          def.Points,
		}))
	}

	if batch.PointsCredited == 0 {
		return
	}

	floorBefore, ceilingBefore := LevelBounds(batch.PreviousPoints)
	floorAfter, ceilingAfter := LevelBounds(batch.TotalPoints)
	s.dispatcher.Dispatch(ctx, notify.NewEnvelope(notify.TypeXPUpdate, userID, notify.XPUpdate{
		PointsBefore:  batch.PreviousPoints,
		PointsAfter:   batch.TotalPoints,
		LevelBefore:   outcome.LevelBefore,
		LevelAfter:    outcome.LevelAfter,
		FloorBefore:   floorBefore,
		CeilingBefore: ceilingBefore,
		FloorAfter:    floorAfter,
		CeilingAfter:  ceilingAfter,
	}))

	if outcome.LevelAfter > outcome.LevelBefore {
		s.dispatcher.Dispatch(ctx, notify.NewEnvelope(notify.TypeLevelUp, userID, notify.LevelUp{
			Level:       outcome.LevelAfter,
			TotalPoints: batch.TotalPoints,
		}))
	}
}

// RebuildUserStats re-derives the user's aggregate XP and counters from the
// award ledger and completed challenge enrollments. A crash between an award
// and a stats write heals here.
func (s *AchievementService) RebuildUserStats(ctx context.Context, userID int64) (*model.UserGamificationStats, error) {
	return s.achievementRepo.RecomputeStats(ctx, userID)
}

// GetUserLevel returns the user's stats row with the level derived from
// its XP.
func (s *AchievementService) GetUserLevel(ctx context.Context, userID int64) (*model.UserGamificationStats, int, error) {
	stats, err := s.statsRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return stats, LevelFromXP(stats.TotalPoints), nil
}
