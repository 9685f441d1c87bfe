package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hellocng/deepstack-sub002/common/models"
)

// MemoryEntryStore is an in-process EntryStore with optimistic transactions.
// Reads inside a transaction see committed state plus the transaction's own
// writes; commit fails with ErrVersionConflict when a written entry or a
// listed partition changed since it was read.
type MemoryEntryStore struct {
	entries      map[string]*models.WaitlistEntry
	events       map[string][]*models.EntryEvent
	partitionRev map[string]int64
	nextEventID  int64
	mu           sync.RWMutex

	faultErr   error
	faultCount int
}

// NewMemoryEntryStore creates an empty store
func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{
		entries:      make(map[string]*models.WaitlistEntry),
		events:       make(map[string][]*models.EntryEvent),
		partitionRev: make(map[string]int64),
	}
}

// Seed stores entries as-is, bypassing every check
func (s *MemoryEntryStore) Seed(entries ...*models.WaitlistEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		c := e.Clone()
		if c.Version == 0 {
			c.Version = 1
		}
		s.entries[c.ID] = c
		s.partitionRev[c.Partition().Key()]++
	}
}

// FailTransactions makes the next n InTx calls fail with err before running fn
func (s *MemoryEntryStore) FailTransactions(err error, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.faultErr = err
	s.faultCount = n
}

// Get returns a committed entry
func (s *MemoryEntryStore) Get(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e.Clone(), nil
}

// ListActiveByPartition returns the committed queue for p
func (s *MemoryEntryStore) ListActiveByPartition(ctx context.Context, p models.Partition) ([]*models.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeLocked(p, nil), nil
}

// InTx runs fn against a buffered transaction and commits it atomically
func (s *MemoryEntryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx EntryTx) error) error {
	if err := s.takeFault(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:        s,
		writes:       make(map[string]*models.WaitlistEntry),
		baseVersions: make(map[string]int64),
		observed:     make(map[string]int64),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	return s.commit(tx)
}

// ListEvents returns an entry's committed history in seq order
func (s *MemoryEntryStore) ListEvents(ctx context.Context, entryID string) ([]*models.EntryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entries[entryID]; !ok {
		return nil, ErrEntryNotFound
	}

	events := make([]*models.EntryEvent, 0, len(s.events[entryID]))
	for _, ev := range s.events[entryID] {
		c := *ev
		events = append(events, &c)
	}
	return events, nil
}

// ListByStatus returns up to limit committed entries in status after the cursor,
// least recently updated first
func (s *MemoryEntryStore) ListByStatus(ctx context.Context, status models.EntryStatus, after *StatusCursor, limit int) ([]*models.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.WaitlistEntry, 0)
	for _, e := range s.entries {
		if e.Status == status && !after.Precedes(e) {
			matched = append(matched, e.Clone())
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryEntryStore) takeFault() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.faultCount == 0 {
		return nil
	}
	s.faultCount--
	return s.faultErr
}

// activeLocked returns active entries of p in queue order, overlaying writes
func (s *MemoryEntryStore) activeLocked(p models.Partition, writes map[string]*models.WaitlistEntry) []*models.WaitlistEntry {
	active := make([]*models.WaitlistEntry, 0)

	for id, e := range s.entries {
		if w, ok := writes[id]; ok {
			e = w
		}
		if e.RoomID == p.RoomID && e.GameID == p.GameID && e.Status.IsActive() {
			active = append(active, e.Clone())
		}
	}
	for id, w := range writes {
		if _, committed := s.entries[id]; committed {
			continue
		}
		if w.RoomID == p.RoomID && w.GameID == p.GameID && w.Status.IsActive() {
			active = append(active, w.Clone())
		}
	}

	SortQueue(active)
	return active
}

func (s *MemoryEntryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, rev := range tx.observed {
		if s.partitionRev[key] != rev {
			return fmt.Errorf("%w: partition %s changed", ErrVersionConflict, key)
		}
	}

	touched := make(map[string]models.Partition)
	for id, w := range tx.writes {
		base := tx.baseVersions[id]
		current, exists := s.entries[id]
		switch {
		case base == 0 && exists:
			return fmt.Errorf("%w: entry %s already exists", ErrVersionConflict, id)
		case base != 0 && (!exists || current.Version != base):
			return fmt.Errorf("%w: entry %s", ErrVersionConflict, id)
		}
		touched[w.Partition().Key()] = w.Partition()
	}

	for _, p := range touched {
		if err := checkPartition(s.activeLocked(p, tx.writes)); err != nil {
			return err
		}
	}

	for id, w := range tx.writes {
		s.entries[id] = w
	}
	for _, ev := range tx.events {
		s.nextEventID++
		ev.ID = s.nextEventID
		s.events[ev.EntryID] = append(s.events[ev.EntryID], ev)
	}
	for key := range touched {
		s.partitionRev[key]++
	}

	return nil
}

// checkPartition enforces unique positions and one active entry per player
func checkPartition(active []*models.WaitlistEntry) error {
	positions := make(map[int]string, len(active))
	players := make(map[string]string, len(active))

	for _, e := range active {
		if other, ok := positions[e.Position]; ok {
			return fmt.Errorf("%w: entries %s and %s share position %d", ErrVersionConflict, other, e.ID, e.Position)
		}
		positions[e.Position] = e.ID

		if _, ok := players[e.PlayerID]; ok {
			return fmt.Errorf("%w: player %s", ErrDuplicateActive, e.PlayerID)
		}
		players[e.PlayerID] = e.ID
	}
	return nil
}

// SortQueue orders entries by position, then join time, then id
func SortQueue(entries []*models.WaitlistEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// memoryTx buffers writes until commit
type memoryTx struct {
	store        *MemoryEntryStore
	writes       map[string]*models.WaitlistEntry
	baseVersions map[string]int64
	observed     map[string]int64
	events       []*models.EntryEvent
}

func (t *memoryTx) Get(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	if w, ok := t.writes[id]; ok {
		return w.Clone(), nil
	}
	return t.store.Get(ctx, id)
}

func (t *memoryTx) ListActiveByPartition(ctx context.Context, p models.Partition) ([]*models.WaitlistEntry, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	if _, seen := t.observed[p.Key()]; !seen {
		t.observed[p.Key()] = t.store.partitionRev[p.Key()]
	}
	return t.store.activeLocked(p, t.writes), nil
}

func (t *memoryTx) Insert(ctx context.Context, entry *models.WaitlistEntry) (*models.WaitlistEntry, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	if _, exists := t.store.entries[entry.ID]; exists {
		return nil, fmt.Errorf("entry %s already exists", entry.ID)
	}
	if _, exists := t.writes[entry.ID]; exists {
		return nil, fmt.Errorf("entry %s already exists", entry.ID)
	}

	if entry.Status.IsActive() {
		for _, e := range t.store.activeLocked(entry.Partition(), t.writes) {
			if e.PlayerID == entry.PlayerID {
				return nil, fmt.Errorf("%w: player %s", ErrDuplicateActive, entry.PlayerID)
			}
		}
	}

	created := entry.Clone()
	created.Version = 1
	created.UpdatedAt = created.CreatedAt
	t.writes[created.ID] = created
	t.baseVersions[created.ID] = 0

	return created.Clone(), nil
}

func (t *memoryTx) ConditionalUpdate(ctx context.Context, id string, expectedVersion int64, u models.EntryUpdate) (bool, error) {
	current, err := t.Get(ctx, id)
	if err == ErrEntryNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if current.Version != expectedVersion {
		return false, nil
	}

	if _, tracked := t.baseVersions[id]; !tracked {
		t.baseVersions[id] = current.Version
	}

	current.Apply(u)
	current.Version++
	t.writes[id] = current

	return true, nil
}

func (t *memoryTx) AppendEvent(ctx context.Context, event *models.EntryEvent) error {
	t.store.mu.RLock()
	seq := len(t.store.events[event.EntryID])
	t.store.mu.RUnlock()

	for _, pending := range t.events {
		if pending.EntryID == event.EntryID {
			seq++
		}
	}

	event.Seq = seq + 1
	c := *event
	t.events = append(t.events, &c)
	return nil
}
