package services

import (
	"errors"
	"sync"
	"time"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/metrics"
)

type CollectionName string

const (
	CollectionBeds     CollectionName = "beds"
	CollectionAlerts   CollectionName = "alerts"
	CollectionRequests CollectionName = "emergency-requests"
)

// Phase tracks one category of operation (fetch or mutate) for a collection.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLoading   Phase = "loading"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

type OpStatus struct {
	Phase     Phase     `json:"phase"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

type CollectionStatus struct {
	Fetch  OpStatus `json:"fetch"`
	Mutate OpStatus `json:"mutate"`
	Size   int      `json:"size"`
}

type ChangeOp string

const (
	ChangeReplace ChangeOp = "replace"
	ChangeUpsert  ChangeOp = "upsert"
	ChangeRemove  ChangeOp = "remove"
	ChangeReset   ChangeOp = "reset"
)

// Change describes one applied mutation, delivered to Watch subscribers.
type Change struct {
	Collection CollectionName `json:"collection"`
	Op         ChangeOp       `json:"op"`
	ID         string         `json:"id,omitempty"`
	At         time.Time      `json:"at"`
}

// collection is an id-keyed, order-preserving list of records.
type collection[T domain.Record] struct {
	items  []T
	index  map[string]int
	fetch  OpStatus
	mutate OpStatus
}

func newCollection[T domain.Record]() *collection[T] {
	return &collection[T]{
		index:  make(map[string]int),
		fetch:  OpStatus{Phase: PhaseIdle},
		mutate: OpStatus{Phase: PhaseIdle},
	}
}

// replace makes the id set exactly that of records. A held record with a
// strictly newer version survives in place of its incoming counterpart.
// It returns how many incoming records were superseded that way.
func (c *collection[T]) replace(records []T) int {
	items := make([]T, 0, len(records))
	index := make(map[string]int, len(records))
	kept := 0
	for _, r := range records {
		id := r.RecordID()
		if id == "" {
			continue
		}
		if i, ok := c.index[id]; ok {
			held := c.items[i]
			if held.RecordVersion().After(r.RecordVersion()) {
				r = held
				kept++
			}
		}
		if i, dup := index[id]; dup {
			items[i] = r
			continue
		}
		index[id] = len(items)
		items = append(items, r)
	}
	c.items = items
	c.index = index
	return kept
}

func (c *collection[T]) upsert(r T) error {
	id := r.RecordID()
	if id == "" {
		return domain.ErrInvalidInput
	}
	if i, ok := c.index[id]; ok {
		if c.items[i].RecordVersion().After(r.RecordVersion()) {
			return domain.ErrStaleUpdate
		}
		c.items[i] = r
		return nil
	}
	c.index[id] = len(c.items)
	c.items = append(c.items, r)
	return nil
}

func (c *collection[T]) remove(id string) bool {
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	delete(c.index, id)
	for j := i; j < len(c.items); j++ {
		c.index[c.items[j].RecordID()] = j
	}
	return true
}

func (c *collection[T]) get(id string) (T, bool) {
	var zero T
	i, ok := c.index[id]
	if !ok {
		return zero, false
	}
	return c.items[i], true
}

func (c *collection[T]) snapshot() []T {
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

func (c *collection[T]) status() CollectionStatus {
	return CollectionStatus{Fetch: c.fetch, Mutate: c.mutate, Size: len(c.items)}
}

func (c *collection[T]) reset() {
	c.items = nil
	c.index = make(map[string]int)
	c.fetch = OpStatus{Phase: PhaseIdle}
	c.mutate = OpStatus{Phase: PhaseIdle}
}

// StateStore is the canonical client-side view of beds, alerts and emergency
// requests. It knows nothing about where records come from.
type StateStore struct {
	mu        sync.RWMutex
	beds      *collection[*domain.Bed]
	alerts    *collection[*domain.Alert]
	requests  *collection[*domain.EmergencyRequest]
	bedsStale bool
	now       func() time.Time
	metrics   *metrics.Metrics

	subsMu  sync.RWMutex
	subs    map[int]chan Change
	nextSub int
}

func NewStateStore(m *metrics.Metrics) *StateStore {
	return &StateStore{
		beds:     newCollection[*domain.Bed](),
		alerts:   newCollection[*domain.Alert](),
		requests: newCollection[*domain.EmergencyRequest](),
		now:      time.Now,
		metrics:  m,
		subs:     make(map[int]chan Change),
	}
}

// Beds

func (s *StateStore) ReplaceBeds(beds []*domain.Bed) {
	s.mu.Lock()
	kept := s.beds.replace(beds)
	s.mu.Unlock()
	for i := 0; i < kept; i++ {
		s.metrics.StaleDropped(string(CollectionBeds))
	}
	s.publish(CollectionBeds, ChangeReplace, "")
}

// UpsertBed stores b by identity. It returns ErrStaleUpdate, leaving the held
// record untouched, when b is older than what the store already has.
func (s *StateStore) UpsertBed(b *domain.Bed) error {
	if b == nil {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	err := s.beds.upsert(b)
	s.mu.Unlock()
	return s.afterUpsert(CollectionBeds, b.ID, err)
}

func (s *StateStore) Beds() []*domain.Bed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.beds.snapshot()
}

func (s *StateStore) Bed(id string) (*domain.Bed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.beds.get(id)
}

// BedByCode looks a bed up by its human code (bedId), not its storage id.
func (s *StateStore) BedByCode(code string) (*domain.Bed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.beds.items {
		if b.BedID == code {
			return b, true
		}
	}
	return nil, false
}

func (s *StateStore) BedsByWard(ward string) []*domain.Bed {
	return s.filterBeds(func(b *domain.Bed) bool { return b.Ward == ward })
}

func (s *StateStore) BedsByStatus(status domain.BedStatus) []*domain.Bed {
	return s.filterBeds(func(b *domain.Bed) bool { return b.Status == status })
}

func (s *StateStore) filterBeds(keep func(*domain.Bed) bool) []*domain.Bed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Bed
	for _, b := range s.beds.items {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

func (s *StateStore) Counts() domain.BedCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CountBeds(s.beds.items)
}

// SetBedsStale marks the bed collection as loaded from the offline cache
// rather than a live fetch.
func (s *StateStore) SetBedsStale(stale bool) {
	s.mu.Lock()
	s.bedsStale = stale
	s.mu.Unlock()
}

func (s *StateStore) BedsStale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bedsStale
}

// Alerts

func (s *StateStore) ReplaceAlerts(alerts []*domain.Alert) {
	s.mu.Lock()
	kept := s.alerts.replace(alerts)
	s.mu.Unlock()
	for i := 0; i < kept; i++ {
		s.metrics.StaleDropped(string(CollectionAlerts))
	}
	s.publish(CollectionAlerts, ChangeReplace, "")
}

func (s *StateStore) UpsertAlert(a *domain.Alert) error {
	if a == nil {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	err := s.alerts.upsert(a)
	s.mu.Unlock()
	return s.afterUpsert(CollectionAlerts, a.ID, err)
}

func (s *StateStore) RemoveAlert(id string) bool {
	s.mu.Lock()
	removed := s.alerts.remove(id)
	s.mu.Unlock()
	if removed {
		s.publish(CollectionAlerts, ChangeRemove, id)
	}
	return removed
}

func (s *StateStore) Alerts() []*domain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alerts.snapshot()
}

// Requests

func (s *StateStore) ReplaceRequests(requests []*domain.EmergencyRequest) {
	s.mu.Lock()
	kept := s.requests.replace(requests)
	s.mu.Unlock()
	for i := 0; i < kept; i++ {
		s.metrics.StaleDropped(string(CollectionRequests))
	}
	s.publish(CollectionRequests, ChangeReplace, "")
}

func (s *StateStore) UpsertRequest(r *domain.EmergencyRequest) error {
	if r == nil {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	err := s.requests.upsert(r)
	s.mu.Unlock()
	return s.afterUpsert(CollectionRequests, r.ID, err)
}

func (s *StateStore) Requests() []*domain.EmergencyRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests.snapshot()
}

func (s *StateStore) Request(id string) (*domain.EmergencyRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests.get(id)
}

func (s *StateStore) PendingRequests() []*domain.EmergencyRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.EmergencyRequest
	for _, r := range s.requests.items {
		if r.Status == domain.RequestPending {
			out = append(out, r)
		}
	}
	return out
}

func (s *StateStore) afterUpsert(name CollectionName, id string, err error) error {
	if errors.Is(err, domain.ErrStaleUpdate) {
		s.metrics.StaleDropped(string(name))
		return err
	}
	if err != nil {
		return err
	}
	s.publish(name, ChangeUpsert, id)
	return nil
}

// Operation phases

func (s *StateStore) BeginFetch(name CollectionName) {
	s.setStatus(name, true, PhaseLoading, nil)
}

func (s *StateStore) FetchSucceeded(name CollectionName) {
	s.setStatus(name, true, PhaseSucceeded, nil)
}

// FetchFailed records err and leaves the collection contents as they were.
func (s *StateStore) FetchFailed(name CollectionName, err error) {
	s.setStatus(name, true, PhaseFailed, err)
}

func (s *StateStore) BeginMutate(name CollectionName) {
	s.setStatus(name, false, PhaseLoading, nil)
}

func (s *StateStore) MutateSucceeded(name CollectionName) {
	s.setStatus(name, false, PhaseSucceeded, nil)
}

func (s *StateStore) MutateFailed(name CollectionName, err error) {
	s.setStatus(name, false, PhaseFailed, err)
}

func (s *StateStore) setStatus(name CollectionName, fetch bool, phase Phase, err error) {
	st := OpStatus{Phase: phase, UpdatedAt: s.now()}
	if err != nil {
		st.Error = domain.UserMessage(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var target *OpStatus
	switch name {
	case CollectionBeds:
		target = pick(&s.beds.fetch, &s.beds.mutate, fetch)
	case CollectionAlerts:
		target = pick(&s.alerts.fetch, &s.alerts.mutate, fetch)
	case CollectionRequests:
		target = pick(&s.requests.fetch, &s.requests.mutate, fetch)
	default:
		return
	}
	*target = st
}

func pick(fetch, mutate *OpStatus, isFetch bool) *OpStatus {
	if isFetch {
		return fetch
	}
	return mutate
}

func (s *StateStore) Status(name CollectionName) CollectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch name {
	case CollectionBeds:
		return s.beds.status()
	case CollectionAlerts:
		return s.alerts.status()
	case CollectionRequests:
		return s.requests.status()
	}
	return CollectionStatus{}
}

// Reset discards every collection, used when the session ends.
func (s *StateStore) Reset() {
	s.mu.Lock()
	s.beds.reset()
	s.alerts.reset()
	s.requests.reset()
	s.bedsStale = false
	s.mu.Unlock()
	for _, name := range []CollectionName{CollectionBeds, CollectionAlerts, CollectionRequests} {
		s.publish(name, ChangeReset, "")
	}
}

// Watch registers a change listener. Slow listeners miss changes rather than
// block writers; the returned cancel closes the channel.
func (s *StateStore) Watch() (<-chan Change, func()) {
	ch := make(chan Change, 32)

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subsMu.Unlock()
		})
	}
	return ch, cancel
}

func (s *StateStore) publish(name CollectionName, op ChangeOp, id string) {
	c := Change{Collection: name, Op: op, ID: id, At: s.now()}
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
