// Package catalog reads the reference data the engine decides against:
// sites, programs, students and rotations. Admin workflows own their
// mutation; the Put/Upsert methods exist for seeding and tests.
package catalog

import (
	"context"
	"sort"
	"sync"

	"rotaclock/internal/attendance/models"
	"rotaclock/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu        sync.RWMutex
	sites     map[string]*models.ClinicalSite
	programs  map[string]*models.Program
	students  map[string]*models.Student
	rotations map[string]*models.Rotation
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		sites:     make(map[string]*models.ClinicalSite),
		programs:  make(map[string]*models.Program),
		students:  make(map[string]*models.Student),
		rotations: make(map[string]*models.Rotation),
	}
}

func (s *InMemoryStore) PutSite(site models.ClinicalSite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites[site.ID] = &site
}

func (s *InMemoryStore) PutProgram(p models.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programs[p.ID] = &p
}

func (s *InMemoryStore) PutStudent(st models.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[st.ID] = &st
}

func (s *InMemoryStore) PutRotation(r models.Rotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotations[r.ID] = &r
}

func (s *InMemoryStore) FindSite(_ context.Context, id string) (*models.ClinicalSite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *site
	return &c, nil
}

// ListSites returns every site ordered by id.
func (s *InMemoryStore) ListSites(_ context.Context) ([]*models.ClinicalSite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ClinicalSite, 0, len(s.sites))
	for _, site := range s.sites {
		c := *site
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) FindProgram(_ context.Context, id string) (*models.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.programs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *InMemoryStore) FindStudent(_ context.Context, id string) (*models.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *st
	return &c, nil
}

func (s *InMemoryStore) FindRotation(_ context.Context, id string) (*models.Rotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rotations[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *r
	return &c, nil
}

// ListRotations returns every rotation binding the student to the site,
// in id order, regardless of status.
func (s *InMemoryStore) ListRotations(_ context.Context, studentID, siteID string) ([]*models.Rotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Rotation
	for _, r := range s.rotations {
		if r.StudentID == studentID && r.SiteID == siteID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountRotationsAtSite counts non-cancelled rotations at the site.
func (s *InMemoryStore) CountRotationsAtSite(_ context.Context, siteID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.rotations {
		if r.SiteID == siteID && r.Status != models.RotationCancelled {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) AddCompletedHours(_ context.Context, studentID string, hours float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[studentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	st.CompletedHours += hours
	return nil
}
