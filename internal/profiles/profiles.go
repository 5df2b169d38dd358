// Package profiles maintains online behavioral profiles per user and group
// and scores incoming expenses against them. Profiles are learned state, not
// configuration: they converge as expenses flow through.
package profiles

import (
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"splitguard/internal/config"
	"splitguard/internal/model"
)

// History bounds inside a profile.
const (
	maxCategories = 5
	maxUsualHours = 20
	maxLocations  = 10
)

// Scores are the behavioral sub-scores for one expense, each in [0,1].
type Scores struct {
	UserAmountDeviation     float64 `json:"user_amount_deviation"`
	UserCategoryFamiliarity float64 `json:"user_category_familiarity"`
	UserTimeConsistency     float64 `json:"user_time_consistency"`
	GroupDistrust           float64 `json:"group_trust_score"`
	GroupAmountDeviation    float64 `json:"group_amount_deviation"`
	NewUserRisk             float64 `json:"new_user_risk"`
	VelocityRisk            float64 `json:"velocity_risk"`
}

// Overall is the unweighted mean of the sub-scores.
func (s Scores) Overall() float64 {
	sum := s.UserAmountDeviation + s.UserCategoryFamiliarity + s.UserTimeConsistency +
		s.GroupDistrust + s.GroupAmountDeviation + s.NewUserRisk + s.VelocityRisk
	return sum / 7
}

type userState struct {
	mu      sync.Mutex
	profile model.UserProfile
}

type groupState struct {
	mu      sync.Mutex
	profile model.GroupProfile
}

// Store holds the bounded profile population. Least recently active profiles
// are evicted first; an evicted profile restarts cold.
type Store struct {
	mu     sync.Mutex
	users  *lru.Cache[string, *userState]
	groups *lru.Cache[string, *groupState]
}

func NewStore(cfg config.ProfilesConfig) (*Store, error) {
	users, err := lru.New[string, *userState](cfg.MaxUsers)
	if err != nil {
		return nil, fmt.Errorf("user profile cache: %w", err)
	}
	groups, err := lru.New[string, *groupState](cfg.MaxGroups)
	if err != nil {
		return nil, fmt.Errorf("group profile cache: %w", err)
	}
	return &Store{users: users, groups: groups}, nil
}

// Observe scores the expense against the payer's and group's profiles as they
// stood before this expense, then folds the expense into both. The read and
// the update happen under the same per-entity locks so concurrent expenses
// from one entity serialize cleanly.
func (s *Store) Observe(ev model.ExpenseEvent, now time.Time) Scores {
	var scores Scores

	user := s.userState(ev.PayerID)
	user.mu.Lock()
	p := &user.profile
	scores.UserAmountDeviation = amountDeviation(p, ev.Amount)
	scores.UserCategoryFamiliarity = categoryFamiliarity(p, ev.Category)
	scores.UserTimeConsistency = timeConsistency(p, ev.Timestamp)
	scores.NewUserRisk = newUserRisk(p)
	scores.VelocityRisk = velocityRisk(p)
	updateUser(p, ev, now)
	user.mu.Unlock()

	group := s.groupState(ev.GroupID)
	group.mu.Lock()
	g := &group.profile
	scores.GroupDistrust = 1 - g.TrustScore
	scores.GroupAmountDeviation = groupAmountDeviation(g, ev.Amount)
	updateGroup(g, ev)
	group.mu.Unlock()

	return scores
}

// RecordFraud applies confirmed-fraud feedback to the named profiles. Only
// the risk and trust components move; the expense itself was already counted
// when it was observed.
func (s *Store) RecordFraud(userID, groupID string, now time.Time) {
	user := s.userState(userID)
	user.mu.Lock()
	user.profile.RiskScore = math.Min(1, user.profile.RiskScore+0.1)
	user.profile.LastUpdated = now
	user.mu.Unlock()

	group := s.groupState(groupID)
	group.mu.Lock()
	group.profile.RiskIncidents++
	group.profile.TrustScore = math.Max(0, group.profile.TrustScore-0.05)
	group.mu.Unlock()
}

// User returns a copy of the user's profile.
func (s *Store) User(id string) (model.UserProfile, bool) {
	st, ok := s.users.Get(id)
	if !ok {
		return model.UserProfile{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return cloneUser(st.profile), true
}

// Group returns a copy of the group's profile.
func (s *Store) Group(id string) (model.GroupProfile, bool) {
	st, ok := s.groups.Get(id)
	if !ok {
		return model.GroupProfile{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return cloneGroup(st.profile), true
}

func (s *Store) userState(id string) *userState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.users.Get(id); ok {
		return st
	}
	st := &userState{profile: model.UserProfile{UserID: id}}
	s.users.Add(id, st)
	return st
}

func (s *Store) groupState(id string) *groupState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.groups.Get(id); ok {
		return st
	}
	// A group starts fully trusted.
	st := &groupState{profile: model.GroupProfile{GroupID: id, TrustScore: 1.0}}
	s.groups.Add(id, st)
	return st
}

func amountDeviation(p *model.UserProfile, amount float64) float64 {
	if p.TotalExpenses < 3 {
		return 0.3
	}
	if p.AvgAmount == 0 {
		return 0.5
	}
	deviation := math.Abs(amount-p.AvgAmount) / p.AvgAmount
	return math.Min(1, deviation/2)
}

func categoryFamiliarity(p *model.UserProfile, category string) float64 {
	if len(p.Categories) == 0 {
		return 0.2
	}
	for _, c := range p.Categories {
		if c == category {
			return 0.1
		}
	}
	return 0.6
}

func timeConsistency(p *model.UserProfile, ts time.Time) float64 {
	if len(p.UsualHours) == 0 {
		return 0.2
	}
	hour := ts.UTC().Hour()
	for _, usual := range p.UsualHours {
		if abs(hour-usual) <= 2 {
			return 0.1
		}
	}
	return 0.5
}

func groupAmountDeviation(g *model.GroupProfile, amount float64) float64 {
	if g.AvgAmount == 0 {
		return 0.3
	}
	deviation := math.Abs(amount-g.AvgAmount) / g.AvgAmount
	return math.Min(1, deviation/3)
}

func newUserRisk(p *model.UserProfile) float64 {
	switch {
	case p.TotalExpenses < 5:
		return 0.4
	case p.TotalExpenses < 20:
		return 0.2
	default:
		return 0.1
	}
}

func velocityRisk(p *model.UserProfile) float64 {
	if p.TotalExpenses > 100 {
		return 0.3
	}
	return 0.1
}

func updateUser(p *model.UserProfile, ev model.ExpenseEvent, now time.Time) {
	p.TotalExpenses++
	p.AvgAmount = (p.AvgAmount*float64(p.TotalExpenses-1) + ev.Amount) / float64(p.TotalExpenses)

	if ev.Category != "" {
		p.Categories = appendBounded(p.Categories, ev.Category, maxCategories)
	}
	p.UsualHours = append(p.UsualHours, ev.Timestamp.UTC().Hour())
	if len(p.UsualHours) > maxUsualHours {
		p.UsualHours = p.UsualHours[len(p.UsualHours)-maxUsualHours:]
	}
	if ev.PaymentMethod != "" && !contains(p.PaymentMethods, ev.PaymentMethod) {
		p.PaymentMethods = append(p.PaymentMethods, ev.PaymentMethod)
	}
	if ev.Location != "" {
		p.Locations = appendBounded(p.Locations, ev.Location, maxLocations)
	}

	// Unflagged expenses slowly pay risk back down.
	p.RiskScore = math.Max(0, p.RiskScore-0.01)
	p.LastUpdated = now
}

func updateGroup(g *model.GroupProfile, ev model.ExpenseEvent) {
	g.TotalExpenses++
	g.AvgAmount = (g.AvgAmount*float64(g.TotalExpenses-1) + ev.Amount) / float64(g.TotalExpenses)

	if ev.Category != "" {
		g.Categories = appendBounded(g.Categories, ev.Category, maxCategories)
	}
	g.TrustScore = math.Min(1, g.TrustScore+0.001)
}

// appendBounded adds value if absent and keeps only the most recent limit
// entries.
func appendBounded(values []string, value string, limit int) []string {
	if contains(values, value) {
		return values
	}
	values = append(values, value)
	if len(values) > limit {
		values = values[len(values)-limit:]
	}
	return values
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func cloneUser(p model.UserProfile) model.UserProfile {
	p.Categories = append([]string(nil), p.Categories...)
	p.UsualHours = append([]int(nil), p.UsualHours...)
	p.Locations = append([]string(nil), p.Locations...)
	p.PaymentMethods = append([]string(nil), p.PaymentMethods...)
	return p
}

func cloneGroup(g model.GroupProfile) model.GroupProfile {
	g.Categories = append([]string(nil), g.Categories...)
	return g
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
