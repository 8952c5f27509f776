package tasks

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/voicetask/internal/errors"
	"github.com/GriffinCanCode/voicetask/internal/language"
	"github.com/GriffinCanCode/voicetask/internal/trace"
)

// Saver persists the full collection after every mutation.
type Saver interface {
	SaveTasks(ctx context.Context, records []Record) error
}

// Store is the authoritative in-memory task collection for a session.
// Every mutation is written through to the Saver; a failed save is reported
// as PersistenceWriteFailed but the in-memory change is kept.
type Store struct {
	mu      sync.RWMutex
	records []Record
	saver   Saver
	now     func() time.Time
	last    time.Time
}

// NewStore creates an empty store. A nil saver keeps the store memory-only.
func NewStore(saver Saver) *Store {
	return &Store{saver: saver, now: time.Now}
}

// WithClock overrides the insertion clock.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Load replaces the collection with a persisted snapshot without saving it back.
func (s *Store) Load(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make([]Record, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Description) == "" {
			continue
		}
		s.records = append(s.records, r.clone())
		if r.CreatedAt.After(s.last) {
			s.last = r.CreatedAt
		}
	}
}

// Append stamps each record's CreatedAt and adds the batch in arrival order.
// Stamps never go backwards within the process.
func (s *Store) Append(ctx context.Context, batch []Record) ([]Record, error) {
	for i, r := range batch {
		if strings.TrimSpace(r.Description) == "" {
			return nil, errors.Newf(errors.InvalidArgument, "task %d has an empty description", i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := s.now()
	if stamp.Before(s.last) {
		stamp = s.last
	}
	s.last = stamp

	added := make([]Record, len(batch))
	for i, r := range batch {
		r = r.clone()
		r.CreatedAt = stamp
		added[i] = r
	}
	s.records = append(s.records, added...)

	return added, s.persistLocked(ctx)
}

// DeleteAt removes the record at position i.
func (s *Store) DeleteAt(ctx context.Context, i int) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.records) {
		return Record{}, errors.Newf(errors.IndexOutOfRange, "index %d out of range [0,%d)", i, len(s.records)).
			WithMetadata("index", strconv.Itoa(i))
	}
	removed := s.records[i]
	s.records = append(s.records[:i:i], s.records[i+1:]...)
	return removed, s.persistLocked(ctx)
}

// Clear removes every record.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	return s.persistLocked(ctx)
}

// Snapshot returns a copy of the collection in insertion order.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Language returns the majority language of the current collection.
func (s *Store) Language() language.Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return language.MajorityLanguage(s.records)
}

func (s *Store) snapshotLocked() []Record {
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.clone()
	}
	return out
}

// persistLocked saves while holding the write lock so saves land in mutation order.
func (s *Store) persistLocked(ctx context.Context) error {
	if s.saver == nil {
		return nil
	}
	if err := s.saver.SaveTasks(ctx, s.snapshotLocked()); err != nil {
		trace.Logger(ctx).Error("task snapshot save failed", "tasks", len(s.records), "error", err)
		return errors.Wrap(err, errors.PersistenceWriteFailed, "save tasks")
	}
	return nil
}
