// Package record persists clock records. Both implementations enforce the
// one-open-record-per-student-per-date invariant on their own, so a caller
// outside a transaction still cannot create a second open record.
package record

import (
	"context"
	"sort"
	"sync"

	"rotaclock/internal/attendance/models"
	"rotaclock/pkg/platform/sentinel"
)

// InMemoryStore keeps records in maps guarded by a single RWMutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.ClockRecord
	open    map[openKey]string
}

type openKey struct {
	studentID string
	date      string
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*models.ClockRecord),
		open:    make(map[openKey]string),
	}
}

func (s *InMemoryStore) FindOpenRecord(_ context.Context, studentID, date string) (*models.ClockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.open[openKey{studentID, date}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.records[id].Clone(), nil
}

// InsertIfAbsent stores rec unless the student already has an open record
// for rec.Date, in which case it returns sentinel.ErrAlreadyUsed.
func (s *InMemoryStore) InsertIfAbsent(_ context.Context, rec *models.ClockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	key := openKey{rec.StudentID, rec.Date}
	if rec.IsOpen() {
		if _, taken := s.open[key]; taken {
			return sentinel.ErrAlreadyUsed
		}
		s.open[key] = rec.ID
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// Update replaces an OPEN record. Closed records are immutable.
func (s *InMemoryStore) Update(_ context.Context, rec *models.ClockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[rec.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !current.IsOpen() {
		return sentinel.ErrInvalidState
	}
	if !rec.IsOpen() {
		delete(s.open, openKey{current.StudentID, current.Date})
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (*models.ClockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) ListByStudent(_ context.Context, studentID string) ([]*models.ClockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ClockRecord
	for _, rec := range s.records {
		if rec.StudentID == studentID {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// ListOpenByStudent returns the student's open records, newest date first.
func (s *InMemoryStore) ListOpenByStudent(_ context.Context, studentID string) ([]*models.ClockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ClockRecord
	for key, id := range s.open {
		if key.studentID == studentID {
			out = append(out, s.records[id].Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

func (s *InMemoryStore) ListByRotation(_ context.Context, rotationID string) ([]*models.ClockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ClockRecord
	for _, rec := range s.records {
		if rec.RotationID == rotationID {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// SetFacility attaches enrichment metadata without touching the record's
// lifecycle fields.
func (s *InMemoryStore) SetFacility(_ context.Context, id string, facility *models.Facility) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if facility != nil {
		f := *facility
		rec.Metadata.Facility = &f
	}
	return nil
}
