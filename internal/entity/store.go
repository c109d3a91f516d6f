package entity

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/roach88/flowsim/internal/predicate"
	"github.com/roach88/flowsim/internal/value"
)

// ClaimField is the implicit field holding the id of the flow instance that
// currently owns an entity. Null means available.
const ClaimField = "flow_id"

// Version is one state of an entity over [ValidFrom, ValidTo).
// ValidTo is nil for the current version.
type Version struct {
	Fields    value.Object
	ValidFrom time.Time
	ValidTo   *time.Time
}

// Claim returns the id of the owning flow instance, or "" when available.
func (v *Version) Claim() string {
	if s, ok := v.Fields.Get(ClaimField).(value.String); ok {
		return string(s)
	}
	return ""
}

// Contains reports whether t falls within the version's validity interval.
func (v *Version) Contains(t time.Time) bool {
	if t.Before(v.ValidFrom) {
		return false
	}
	return v.ValidTo == nil || t.Before(*v.ValidTo)
}

func (v *Version) clone() *Version {
	out := &Version{Fields: v.Fields.Clone(), ValidFrom: v.ValidFrom}
	if v.ValidTo != nil {
		to := *v.ValidTo
		out.ValidTo = &to
	}
	return out
}

type key struct {
	typ string
	id  string
}

type record struct {
	versions []*Version
}

func (r *record) current() *Version {
	return r.versions[len(r.versions)-1]
}

// at returns the version valid at t, or nil before registration.
func (r *record) at(t time.Time) *Version {
	// first version starting after t; the one before it is valid at t
	i := sort.Search(len(r.versions), func(i int) bool {
		return r.versions[i].ValidFrom.After(t)
	})
	if i == 0 {
		return nil
	}
	return r.versions[i-1]
}

// Store is the in-memory temporal entity store. It is safe for concurrent
// use, though the scheduler drives it from a single goroutine.
type Store struct {
	mu      sync.RWMutex
	records map[key]*record
	ids     map[string][]string // per type, registration order
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[key]*record),
		ids:     make(map[string][]string),
	}
}

// Register creates an entity with a single open version starting at t.
// The claim field defaults to Null unless fields sets it.
func (s *Store) Register(typ, id string, fields value.Object, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{typ, id}
	if _, exists := s.records[k]; exists {
		return &StoreError{Code: CodeDuplicateEntity, Type: typ, ID: id, Time: t, Message: "entity already registered"}
	}
	initial := fields.Clone()
	if _, ok := initial[ClaimField]; !ok {
		initial[ClaimField] = value.Null{}
	}
	s.records[k] = &record{versions: []*Version{{Fields: initial, ValidFrom: t}}}
	s.ids[typ] = append(s.ids[typ], id)
	return nil
}

// CurrentVersion returns a copy of the latest version, or nil if the entity
// is not registered.
func (s *Store) CurrentVersion(typ, id string) *Version {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[key{typ, id}]
	if !ok {
		return nil
	}
	return r.current().clone()
}

// VersionAt returns a copy of the version valid at t, or nil if the entity is
// not registered or t precedes its registration.
func (s *Store) VersionAt(typ, id string, t time.Time) *Version {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[key{typ, id}]
	if !ok {
		return nil
	}
	v := r.at(t)
	if v == nil {
		return nil
	}
	return v.clone()
}

// Latest returns the start of the entity's current version.
func (s *Store) Latest(typ, id string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[key{typ, id}]
	if !ok {
		return time.Time{}, false
	}
	return r.current().ValidFrom, true
}

// Mutate closes the current version at t and appends a new version with the
// updates applied in order.
func (s *Store) Mutate(typ, id string, updates []Update, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key{typ, id}]
	if !ok {
		return &StoreError{Code: CodeUnknownEntity, Type: typ, ID: id, Time: t, Message: "entity not registered"}
	}
	cur := r.current()
	if !t.After(cur.ValidFrom) {
		return &StoreError{
			Code: CodeNonMonotonicTime, Type: typ, ID: id, Time: t,
			Message: fmt.Sprintf("mutation time is not after current version start %s",
				cur.ValidFrom.UTC().Format(time.RFC3339Nano)),
		}
	}

	fields := cur.Fields.Clone()
	for _, u := range updates {
		next, err := u.apply(fields.Get(u.Field))
		if err != nil {
			return &StoreError{Code: CodeInvalidUpdate, Type: typ, ID: id, Time: t, Message: err.Error()}
		}
		fields[u.Field] = next
	}

	closed := t
	cur.ValidTo = &closed
	r.versions = append(r.versions, &Version{Fields: fields, ValidFrom: t})
	return nil
}

// Query returns the sorted ids of entities of typ whose version at t
// satisfies pred. Entities not yet registered at t are skipped.
func (s *Store) Query(typ string, pred predicate.Predicate, t time.Time) []string {
	return s.query(typ, pred, t, false)
}

// QueryAvailable is Query restricted to unclaimed entities. An entity counts
// as available only if it is unclaimed at t and its current version is
// unclaimed too; a claim stamped after t still reserves the entity.
func (s *Store) QueryAvailable(typ string, pred predicate.Predicate, t time.Time) []string {
	return s.query(typ, pred, t, true)
}

func (s *Store) query(typ string, pred predicate.Predicate, t time.Time, available bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, id := range s.ids[typ] {
		r := s.records[key{typ, id}]
		v := r.at(t)
		if v == nil {
			continue
		}
		if available && (v.Claim() != "" || r.current().Claim() != "") {
			continue
		}
		if predicate.Match(pred, v.Fields) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// History returns copies of every version of an entity, oldest first.
func (s *Store) History(typ, id string) []*Version {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[key{typ, id}]
	if !ok {
		return nil
	}
	out := make([]*Version, len(r.versions))
	for i, v := range r.versions {
		out[i] = v.clone()
	}
	return out
}

// IDs returns the ids of typ in registration order.
func (s *Store) IDs(typ string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.ids[typ])
}

// Types returns the sorted names of all types with at least one entity.
func (s *Store) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.ids))
	for typ := range s.ids {
		out = append(out, typ)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of entities registered under typ.
func (s *Store) Len(typ string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids[typ])
}
