package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"journal-gamification/internal/model"
	"journal-gamification/internal/repository"
)

// Peer group service errors.
var (
	ErrInsufficientHistory = errors.New("not enough closed trades for style profiling")
	ErrPeerGroupOptedOut   = errors.New("user has opted out of peer group sharing")
)

// minProfileTrades is the closed-trade floor below which style features are
// too noisy to assign a cohort.
const minProfileTrades = 20

// Style buckets derived from average hold time.
const (
	StyleScalper  = "scalper"
	StyleDay      = "day_trader"
	StyleSwing    = "swing"
	StylePosition = "position"
)

// Size tiers derived from average notional per trade.
const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"
)

// Volatility tiers derived from PnL dispersion relative to position size.
const (
	VolatilityLow    = "low"
	VolatilityMedium = "medium"
	VolatilityHigh   = "high"
)

// StyleProfile is the bucketed trading style derived from a user's closed
// trade history.
type StyleProfile struct {
	Style          string `json:"style"`
	SizeTier       string `json:"size_tier"`
	VolatilityTier string `json:"volatility_tier"`
}

// GroupCriteria is the matching rule stored on a peer group. Empty
// dimensions match any profile.
type GroupCriteria struct {
	Style          string `json:"style,omitempty"`
	SizeTier       string `json:"size_tier,omitempty"`
	VolatilityTier string `json:"volatility_tier,omitempty"`
}

// PeerGroupService assigns users to cohorts of similar traders and keeps
// group sizes healthy over time.
type PeerGroupService struct {
	peerGroupRepo *repository.PeerGroupRepository
	tradeRepo     *repository.TradeRepository
	privacyRepo   *repository.PrivacyRepository

	inactivityDays   int
	maxGroupsPerUser int
}

// NewPeerGroupService creates a new PeerGroupService instance.
func NewPeerGroupService(
	peerGroupRepo *repository.PeerGroupRepository,
	tradeRepo *repository.TradeRepository,
	privacyRepo *repository.PrivacyRepository,
	inactivityDays int,
	maxGroupsPerUser int,
) *PeerGroupService {
	if inactivityDays <= 0 {
		inactivityDays = 90
	}
	if maxGroupsPerUser <= 0 {
		maxGroupsPerUser = 3
	}
	return &PeerGroupService{
		peerGroupRepo:    peerGroupRepo,
		tradeRepo:        tradeRepo,
		privacyRepo:      privacyRepo,
		inactivityDays:   inactivityDays,
		maxGroupsPerUser: maxGroupsPerUser,
	}
}

// ProfileUser derives the user's style profile from their full closed-trade
// history. Users under the trade floor get ErrInsufficientHistory.
func (s *PeerGroupService) ProfileUser(ctx context.Context, userID int64) (*StyleProfile, error) {
	features, err := s.tradeRepo.GetStyleFeatures(ctx, userID)
	if err != nil {
		return nil, err
	}
	if features.ClosedTrades < minProfileTrades {
		return nil, ErrInsufficientHistory
	}
	profile := deriveProfile(features)
	return &profile, nil
}

// deriveProfile buckets raw aggregates into the three style dimensions.
func deriveProfile(f *repository.StyleFeatures) StyleProfile {
	var p StyleProfile

	switch {
	case f.AvgHoldHours < 1:
		p.Style = StyleScalper
	case f.AvgHoldHours < 24:
		p.Style = StyleDay
	case f.AvgHoldHours < 24*7:
		p.Style = StyleSwing
	default:
		p.Style = StylePosition
	}

	switch {
	case f.AvgNotional < 5_000:
		p.SizeTier = SizeSmall
	case f.AvgNotional < 50_000:
		p.SizeTier = SizeMedium
	default:
		p.SizeTier = SizeLarge
	}

	// Dispersion relative to position size, so a large account is not
	// automatically "high volatility" in absolute dollars.
	ratio := f.PnlStddev
	if f.AvgNotional > 1 {
		ratio = f.PnlStddev / f.AvgNotional
	}
	switch {
	case ratio < 0.01:
		p.VolatilityTier = VolatilityLow
	case ratio < 0.05:
		p.VolatilityTier = VolatilityMedium
	default:
		p.VolatilityTier = VolatilityHigh
	}

	return p
}

// exactMatchBonus lifts a full criteria match above any partial overlap;
// it must exceed the largest possible partial score (two of three
// dimensions).
const exactMatchBonus = 3

// matchScore ranks a group for a profile by criteria overlap: one point per
// matching specified dimension, plus a bonus when every specified dimension
// matches so exact groups always outrank partial ones. Zero means no overlap
// at all; a group with no criteria matches everyone with score 1.
func matchScore(c GroupCriteria, p StyleProfile) int {
	matched := 0
	specified := 0
	if c.Style != "" {
		specified++
		if c.Style == p.Style {
			matched++
		}
	}
	if c.SizeTier != "" {
		specified++
		if c.SizeTier == p.SizeTier {
			matched++
		}
	}
	if c.VolatilityTier != "" {
		specified++
		if c.VolatilityTier == p.VolatilityTier {
			matched++
		}
	}
	if specified == 0 {
		return 1
	}
	if matched == 0 {
		return 0
	}
	if matched == specified {
		return matched + exactMatchBonus
	}
	return matched
}

// AssignUser profiles the user and joins them to the best-matching groups
// with spare capacity, up to the membership cap. Assignment is idempotent:
// existing memberships count against the cap and are never duplicated.
func (s *PeerGroupService) AssignUser(ctx context.Context, userID int64) ([]model.PeerGroup, error) {
	settings, err := s.privacyRepo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load privacy settings: %w", err)
	}
	if !settings.SharedWithPeerGroup {
		return nil, ErrPeerGroupOptedOut
	}

	profile, err := s.ProfileUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	groups, err := s.peerGroupRepo.GetAllGroups(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.peerGroupRepo.ActiveMemberCounts(ctx)
	if err != nil {
		return nil, err
	}
	memberships, err := s.peerGroupRepo.GetActiveMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}

	inGroup := make(map[int64]bool, len(memberships))
	for _, m := range memberships {
		inGroup[m.GroupID] = true
	}
	slots := s.maxGroupsPerUser - len(memberships)
	if slots <= 0 {
		return nil, nil
	}

	type candidate struct {
		group model.PeerGroup
		score int
		spare int
	}
	var candidates []candidate
	for _, g := range groups {
		if inGroup[g.ID] {
			continue
		}
		crit, err := parseGroupCriteria(g.Criteria)
		if err != nil {
			log.Error().Err(err).Str("group", g.Name).Msg("Skipping group with bad criteria")
			continue
		}
		score := matchScore(crit, *profile)
		if score == 0 {
			continue
		}
		spare := g.MaxMembers - counts[g.ID]
		if spare <= 0 {
			continue
		}
		candidates = append(candidates, candidate{group: g, score: score, spare: spare})
	}

	// Best match first; among equal matches prefer the emptier group so
	// membership spreads instead of piling into one cohort.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].spare > candidates[j].spare
	})

	var joined []model.PeerGroup
	for _, c := range candidates {
		if len(joined) >= slots {
			break
		}
		ok, err := s.peerGroupRepo.Join(ctx, userID, c.group.ID)
		if err != nil {
			log.Error().Err(err).Str("group", c.group.Name).Int64("user_id", userID).
				Msg("Failed to join peer group")
			continue
		}
		if ok {
			joined = append(joined, c.group)
		}
	}
	return joined, nil
}

// AssignActiveUsers runs assignment for everyone who traded in the recent
// window, skipping users who are opted out or under the trade floor.
func (s *PeerGroupService) AssignActiveUsers(ctx context.Context, now time.Time) (int, error) {
	from := now.AddDate(0, 0, -s.inactivityDays)
	userIDs, err := s.tradeRepo.ActiveUserIDs(ctx, from, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load active users: %w", err)
	}

	assigned := 0
	for _, id := range userIDs {
		joined, err := s.AssignUser(ctx, id)
		if err != nil {
			if errors.Is(err, ErrInsufficientHistory) || errors.Is(err, ErrPeerGroupOptedOut) {
				continue
			}
			log.Error().Err(err).Int64("user_id", id).Msg("Peer group assignment failed")
			continue
		}
		assigned += len(joined)
	}
	return assigned, nil
}

// Leave removes the user from a group.
func (s *PeerGroupService) Leave(ctx context.Context, userID, groupID int64) error {
	return s.peerGroupRepo.Leave(ctx, userID, groupID)
}

// GetUserGroups returns the user's active memberships.
func (s *PeerGroupService) GetUserGroups(ctx context.Context, userID int64) ([]model.UserPeerGroup, error) {
	return s.peerGroupRepo.GetActiveMemberships(ctx, userID)
}

// RunMaintenance purges memberships of users inactive past the cutoff and
// rebalances group sizes: groups over 120% of their max capacity shed their
// newest members into compatible groups under 80% of capacity. Joins are
// capacity-bounded, so a group only overflows after its max_members is
// lowered.
func (s *PeerGroupService) RunMaintenance(ctx context.Context, now time.Time) error {
	cutoff := now.AddDate(0, 0, -s.inactivityDays)
	purged, err := s.peerGroupRepo.DeactivateInactiveSince(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge inactive memberships: %w", err)
	}
	if purged > 0 {
		log.Info().Int64("count", purged).Msg("Purged inactive peer group memberships")
	}

	return s.rebalance(ctx)
}

func (s *PeerGroupService) rebalance(ctx context.Context) error {
	groups, err := s.peerGroupRepo.GetAllGroups(ctx)
	if err != nil {
		return err
	}
	counts, err := s.peerGroupRepo.ActiveMemberCounts(ctx)
	if err != nil {
		return err
	}

	criteria := make(map[int64]GroupCriteria, len(groups))
	for _, g := range groups {
		crit, err := parseGroupCriteria(g.Criteria)
		if err != nil {
			log.Error().Err(err).Str("group", g.Name).Msg("Skipping group with bad criteria")
			continue
		}
		criteria[g.ID] = crit
	}

	for _, g := range groups {
		count := counts[g.ID]
		if !overCapacity(count, g.MaxMembers) {
			continue
		}

		// Shed down to capacity, not to the 1.2x trigger.
		excess := count - g.MaxMembers
		targets := underfullCompatible(groups, counts, criteria, g)
		if len(targets) == 0 {
			continue
		}

		// Newest members moved first; long-standing members keep their
		// cohort.
		movable, err := s.peerGroupRepo.NewestActiveMembers(ctx, g.ID, excess)
		if err != nil {
			log.Error().Err(err).Str("group", g.Name).Msg("Failed to load movable members")
			continue
		}

		ti := 0
		for _, m := range movable {
			if ti >= len(targets) {
				break
			}
			target := targets[ti]
			if err := s.peerGroupRepo.Move(ctx, m.UserID, g.ID, target.ID); err != nil {
				log.Error().Err(err).Int64("user_id", m.UserID).
					Str("from", g.Name).Str("to", target.Name).
					Msg("Failed to move member during rebalance")
				continue
			}
			counts[g.ID]--
			counts[target.ID]++
			if !underCapacity(counts[target.ID], target.MaxMembers) {
				ti++
			}
		}
	}
	return nil
}

// underfullCompatible returns groups under 80% of max capacity that share
// at least one specified criteria dimension with the overfull source group.
func underfullCompatible(groups []model.PeerGroup, counts map[int64]int, criteria map[int64]GroupCriteria, src model.PeerGroup) []model.PeerGroup {
	srcCrit, ok := criteria[src.ID]
	if !ok {
		return nil
	}

	var out []model.PeerGroup
	for _, g := range groups {
		if g.ID == src.ID {
			continue
		}
		if !underCapacity(counts[g.ID], g.MaxMembers) {
			continue
		}
		crit, ok := criteria[g.ID]
		if !ok {
			continue
		}
		if sharesDimension(srcCrit, crit) {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return counts[out[i].ID] < counts[out[j].ID]
	})
	return out
}

func sharesDimension(a, b GroupCriteria) bool {
	if a.Style != "" && a.Style == b.Style {
		return true
	}
	if a.SizeTier != "" && a.SizeTier == b.SizeTier {
		return true
	}
	if a.VolatilityTier != "" && a.VolatilityTier == b.VolatilityTier {
		return true
	}
	return false
}

// overCapacity reports whether a group holds more than 120% of its max
// capacity. Groups without a capacity never overflow.
func overCapacity(count, maxMembers int) bool {
	return maxMembers > 0 && float64(count) > 1.2*float64(maxMembers)
}

// underCapacity reports whether a group sits below 80% of its max capacity
// and can absorb members during a rebalance.
func underCapacity(count, maxMembers int) bool {
	return maxMembers > 0 && float64(count) < 0.8*float64(maxMembers)
}

func parseGroupCriteria(raw json.RawMessage) (GroupCriteria, error) {
	var c GroupCriteria
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("failed to parse group criteria: %w", err)
	}
	return c, nil
}
