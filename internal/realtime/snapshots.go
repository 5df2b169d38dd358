package realtime

import (
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"splitguard/internal/model"
)

const snapshotStoreSize = 10000

// Snapshot is the most recent signal readout for one entity.
type Snapshot struct {
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Signals    model.RiskSignals `json:"signals"`
	Overall    float64           `json:"overall"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// SnapshotStore keeps the latest signals per user and per group for the ops
// API. Bounded; the least recently scored entity falls out first.
type SnapshotStore struct {
	users  *lru.Cache[string, Snapshot]
	groups *lru.Cache[string, Snapshot]
}

func NewSnapshotStore() *SnapshotStore {
	users, _ := lru.New[string, Snapshot](snapshotStoreSize)
	groups, _ := lru.New[string, Snapshot](snapshotStoreSize)
	return &SnapshotStore{users: users, groups: groups}
}

func (s *SnapshotStore) Record(userID, groupID string, signals model.RiskSignals, now time.Time) {
	overall := signals.Overall()
	if userID != "" {
		s.users.Add(userID, Snapshot{
			EntityType: "user",
			EntityID:   userID,
			Signals:    signals,
			Overall:    overall,
			UpdatedAt:  now,
		})
	}
	if groupID != "" {
		s.groups.Add(groupID, Snapshot{
			EntityType: "group",
			EntityID:   groupID,
			Signals:    signals,
			Overall:    overall,
			UpdatedAt:  now,
		})
	}
}

func (s *SnapshotStore) User(id string) (Snapshot, bool)  { return s.users.Get(id) }
func (s *SnapshotStore) Group(id string) (Snapshot, bool) { return s.groups.Get(id) }

// All returns every stored snapshot, users first, each set sorted by entity id.
func (s *SnapshotStore) All() []Snapshot {
	out := make([]Snapshot, 0, s.users.Len()+s.groups.Len())
	out = append(out, collect(s.users)...)
	out = append(out, collect(s.groups)...)
	return out
}

func collect(cache *lru.Cache[string, Snapshot]) []Snapshot {
	keys := cache.Keys()
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		if snap, ok := cache.Peek(k); ok {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}
