package service

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"journal-gamification/internal/model"
	"journal-gamification/internal/repository"
)

// Leaderboard service errors.
var (
	ErrUnknownMetric = errors.New("unknown leaderboard metric")
)

// consistencyMinTrades is the sample floor below which the consistency
// composite is not meaningful and scores zero.
const consistencyMinTrades = 10

// LeaderboardService compiles daily ranking snapshots. Each compilation
// replaces the full (leaderboard, day) entry set atomically, so readers
// always see either yesterday's complete snapshot or today's, never a mix.
type LeaderboardService struct {
	leaderboardRepo *repository.LeaderboardRepository
	tradeRepo       *repository.TradeRepository
	privacyRepo     *repository.PrivacyRepository
	redis           *redis.Client

	cacheTTL  time.Duration
	cacheTopN int
}

// NewLeaderboardService creates a new LeaderboardService instance.
func NewLeaderboardService(
	leaderboardRepo *repository.LeaderboardRepository,
	tradeRepo *repository.TradeRepository,
	privacyRepo *repository.PrivacyRepository,
	redisClient *redis.Client,
	cacheTTL time.Duration,
	cacheTopN int,
) *LeaderboardService {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	if cacheTopN <= 0 {
		cacheTopN = 100
	}
	return &LeaderboardService{
		leaderboardRepo: leaderboardRepo,
		tradeRepo:       tradeRepo,
		privacyRepo:     privacyRepo,
		redis:           redisClient,
		cacheTTL:        cacheTTL,
		cacheTopN:       cacheTopN,
	}
}

// CompileAll compiles a fresh snapshot for every active leaderboard. One
// failing leaderboard is logged and skipped so the rest still publish.
func (s *LeaderboardService) CompileAll(ctx context.Context, now time.Time) error {
	defs, err := s.leaderboardRepo.GetActiveDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load leaderboard definitions: %w", err)
	}

	for _, def := range defs {
		if err := s.Compile(ctx, &def, now); err != nil {
			log.Error().Err(err).Str("key", def.Key).Msg("Leaderboard compilation failed")
		}
	}
	return nil
}

// Compile builds and atomically publishes the snapshot for one leaderboard.
func (s *LeaderboardService) Compile(ctx context.Context, def *model.LeaderboardDefinition, now time.Time) error {
	from, to := periodBounds(def.PeriodType, now)

	stats, err := s.tradeRepo.GetPeriodStats(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to load period stats: %w", err)
	}

	hidden, err := s.privacyRepo.HiddenFromLeaderboards(ctx)
	if err != nil {
		return fmt.Errorf("failed to load privacy settings: %w", err)
	}

	entries, err := buildEntries(def, stats, hidden)
	if err != nil {
		return err
	}

	if len(entries) < def.MinParticipants {
		log.Debug().
			Str("key", def.Key).
			Int("entries", len(entries)).
			Int("min", def.MinParticipants).
			Msg("Skipping leaderboard below participant floor")
		return nil
	}

	day := snapshotDay(now)
	if err := s.leaderboardRepo.ReplaceSnapshot(ctx, def.ID, day, entries); err != nil {
		return err
	}

	s.cacheTop(ctx, def, day, entries)

	log.Info().
		Str("key", def.Key).
		Int("entries", len(entries)).
		Time("day", day).
		Msg("Leaderboard snapshot published")
	return nil
}

// buildEntries scores the eligible users and ranks them. Users hidden by
// privacy settings are excluded before ranking, not blanked after, so they
// do not occupy a rank.
func buildEntries(def *model.LeaderboardDefinition, stats []repository.PeriodStats, hidden map[int64]bool) ([]model.LeaderboardEntry, error) {
	entries := make([]model.LeaderboardEntry, 0, len(stats))
	for _, st := range stats {
		if hidden[st.UserID] {
			continue
		}
		score, ok, err := metricScore(def.MetricKey, st)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		meta, _ := json.Marshal(map[string]any{
			"trade_count": st.TradeCount,
			"win_rate":    round2(st.WinRate),
		})
		entries = append(entries, model.LeaderboardEntry{
			LeaderboardID: def.ID,
			UserID:        st.UserID,
			Pseudonym:     Pseudonym(st.UserID),
			Score:         score,
			Metadata:      meta,
		})
	}

	// Ties break on user ID so reruns over identical inputs produce an
	// identical ordering.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// metricScore computes the leaderboard score for one user. The bool result
// is false when the user does not qualify for the metric at all.
func metricScore(metric string, st repository.PeriodStats) (float64, bool, error) {
	switch metric {
	case model.MetricTotalPnl:
		return st.TotalPnl, true, nil
	case model.MetricWinRate:
		return st.WinRate, true, nil
	case model.MetricTradeCount:
		return float64(st.TradeCount), true, nil
	case model.MetricVolume:
		return st.Volume, true, nil
	case model.MetricConsistency:
		if st.TradeCount < consistencyMinTrades {
			return 0, false, nil
		}
		return ConsistencyScore(st.AvgPnl, st.StddevPnl, st.WinRate, st.AvgVolume), true, nil
	default:
		return 0, false, fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
	}
}

// ConsistencyScore is the composite rewarding steady profitability over
// streaky spikes. A flat PnL series (zero stddev) scores zero rather than
// dividing by it, and the volume term only ever amplifies, never penalizes.
func ConsistencyScore(avgPnl, stddevPnl, winRate, avgVolume float64) float64 {
	if stddevPnl == 0 {
		return 0
	}
	score := (avgPnl / stddevPnl) * (winRate / 100) * (1 + math.Log(math.Max(1, avgVolume/1000)))
	return math.Max(0, score)
}

// Pseudonym derives the stable anonymized display name for a user. Same
// user, same pseudonym, on every board and every day; the real ID never
// appears in a snapshot row a reader sees. Four digest bytes keep birthday
// collisions negligible at realistic board sizes.
func Pseudonym(userID int64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(userID))
	sum := sha256.Sum256(buf[:])
	return fmt.Sprintf("Trader-%08X", binary.BigEndian.Uint32(sum[:4]))
}

// periodBounds returns the [from, to) time range a period type covers,
// anchored at now.
func periodBounds(periodType string, now time.Time) (time.Time, time.Time) {
	day := snapshotDay(now)
	switch periodType {
	case model.PeriodDaily:
		return day, day.AddDate(0, 0, 1)
	case model.PeriodWeekly:
		// ISO week: Monday start.
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case model.PeriodMonthly:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	case model.PeriodAllTime:
		return time.Unix(0, 0).UTC(), day.AddDate(0, 0, 1)
	default:
		return day, day.AddDate(0, 0, 1)
	}
}

func snapshotDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// GetSnapshot returns the published snapshot for the leaderboard key and
// day, serving the top of the board from the Redis cache when present.
func (s *LeaderboardService) GetSnapshot(ctx context.Context, key string, day time.Time) ([]model.LeaderboardEntry, error) {
	def, err := s.leaderboardRepo.GetDefinitionByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	day = snapshotDay(day)
	if cached := s.cachedTop(ctx, def.ID, day); cached != nil {
		return cached, nil
	}

	return s.leaderboardRepo.GetSnapshot(ctx, def.ID, day)
}

// GetUserRank returns the user's own entry in the snapshot, or nil when the
// user is not on the board.
func (s *LeaderboardService) GetUserRank(ctx context.Context, key string, day time.Time, userID int64) (*model.LeaderboardEntry, error) {
	def, err := s.leaderboardRepo.GetDefinitionByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.leaderboardRepo.GetUserRank(ctx, def.ID, snapshotDay(day), userID)
}

// GetNeighbors returns the snapshot slice of the user's rank plus radius
// ranks either side, for a "you are here" view.
func (s *LeaderboardService) GetNeighbors(ctx context.Context, key string, day time.Time, userID int64, radius int) ([]model.LeaderboardEntry, error) {
	def, err := s.leaderboardRepo.GetDefinitionByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	day = snapshotDay(day)
	own, err := s.leaderboardRepo.GetUserRank(ctx, def.ID, day, userID)
	if err != nil {
		return nil, err
	}
	if own == nil {
		return nil, nil
	}

	entries, err := s.leaderboardRepo.GetSnapshot(ctx, def.ID, day)
	if err != nil {
		return nil, err
	}

	lo := own.Rank - 1 - radius
	if lo < 0 {
		lo = 0
	}
	hi := own.Rank + radius
	if hi > len(entries) {
		hi = len(entries)
	}
	return entries[lo:hi], nil
}

// GetFilteredView re-ranks the published snapshot over a filtered cohort.
// The stored snapshot is never modified; scores are reused as compiled and
// only the rank numbers are re-assigned within the cohort.
func (s *LeaderboardService) GetFilteredView(ctx context.Context, key string, day time.Time, filter repository.CohortFilter) ([]model.LeaderboardEntry, error) {
	def, err := s.leaderboardRepo.GetDefinitionByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	day = snapshotDay(day)
	from, to := periodBounds(def.PeriodType, day)
	cohort, err := s.tradeRepo.SelectCohort(ctx, from, to, filter)
	if err != nil {
		return nil, err
	}
	inCohort := make(map[int64]bool, len(cohort))
	for _, id := range cohort {
		inCohort[id] = true
	}

	entries, err := s.leaderboardRepo.GetSnapshot(ctx, def.ID, day)
	if err != nil {
		return nil, err
	}

	filtered := entries[:0:0]
	for _, e := range entries {
		if inCohort[e.UserID] {
			filtered = append(filtered, e)
		}
	}
	for i := range filtered {
		filtered[i].Rank = i + 1
	}
	return filtered, nil
}

// cacheTop writes the top of a freshly compiled snapshot to Redis. Cache
// failures are logged and ignored; the database snapshot is the truth.
func (s *LeaderboardService) cacheTop(ctx context.Context, def *model.LeaderboardDefinition, day time.Time, entries []model.LeaderboardEntry) {
	if s.redis == nil {
		return
	}

	n := s.cacheTopN
	if n > len(entries) {
		n = len(entries)
	}
	payload, err := json.Marshal(entries[:n])
	if err != nil {
		log.Error().Err(err).Str("key", def.Key).Msg("Failed to marshal snapshot cache")
		return
	}

	if err := s.redis.Set(ctx, snapshotCacheKey(def.ID, day), payload, s.cacheTTL).Err(); err != nil {
		log.Error().Err(err).Str("key", def.Key).Msg("Failed to cache snapshot")
	}
}

func (s *LeaderboardService) cachedTop(ctx context.Context, leaderboardID int64, day time.Time) []model.LeaderboardEntry {
	if s.redis == nil {
		return nil
	}

	raw, err := s.redis.Get(ctx, snapshotCacheKey(leaderboardID, day)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Error().Err(err).Int64("leaderboard_id", leaderboardID).Msg("Snapshot cache read failed")
		}
		return nil
	}

	var entries []model.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Error().Err(err).Int64("leaderboard_id", leaderboardID).Msg("Snapshot cache corrupt")
		return nil
	}
	return entries
}

func snapshotCacheKey(leaderboardID int64, day time.Time) string {
	return fmt.Sprintf("leaderboard:snapshot:%d:%s", leaderboardID, day.Format("2006-01-02"))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
