package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type chainKey struct {
	tx    string
	route int
}

// MemoryStore keeps records in process.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  uint64
	records map[chainKey]*Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[chainKey]*Record), now: time.Now}
}

func (s *MemoryStore) Upsert(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.TxHash == "" || r.Destination == "" {
		return fmt.Errorf("%w: %+v", ErrInvalidRecord, *r)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := chainKey{r.TxHash, r.Route}
	if existing, ok := s.records[key]; ok {
		existing.Outcome = r.Outcome
		existing.Event = r.Event
		existing.Reason = r.Reason
		existing.UpdatedAt = now
		*r = *existing
		return nil
	}
	s.nextID++
	stored := *r
	stored.ID = s.nextID
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.records[key] = &stored
	*r = stored
	return nil
}

// List returns matching records, newest first.
func (s *MemoryStore) List(ctx context.Context, f Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range s.records {
		if f.matches(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
