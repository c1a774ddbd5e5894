package store

import (
	"context"
	"sort"
	"time"

	"clinica/backend/internal/domain"
)

// Patient and practitioner records live in the same snapshot as appointments
// and share its locking and persistence discipline. Their churn is low, so
// they bypass the appointment cache entirely.

func (s *Store) PutPatient(ctx context.Context, p domain.Patient) (domain.Patient, error) {
	if err := ctx.Err(); err != nil {
		return domain.Patient{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		return domain.Patient{}, ErrStoreDegraded
	}

	if existing, ok := s.snap.Patients[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.snap.Patients[p.ID] = p

	if err := s.persistLocked(); err != nil {
		return domain.Patient{}, err
	}
	return p, nil
}

func (s *Store) GetPatient(ctx context.Context, id string) (domain.Patient, error) {
	if err := ctx.Err(); err != nil {
		return domain.Patient{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.snap.Patients[id]
	if !ok {
		return domain.Patient{}, ErrNotFound
	}
	return p, nil
}

func (s *Store) ListPatients(ctx context.Context) ([]domain.Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Patient, 0, len(s.snap.Patients))
	for _, p := range s.snap.Patients {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) PutPractitioner(ctx context.Context, p domain.Practitioner) (domain.Practitioner, error) {
	if err := ctx.Err(); err != nil {
		return domain.Practitioner{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		return domain.Practitioner{}, ErrStoreDegraded
	}

	if existing, ok := s.snap.Practitioners[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.snap.Practitioners[p.ID] = p

	if err := s.persistLocked(); err != nil {
		return domain.Practitioner{}, err
	}
	return p, nil
}

func (s *Store) GetPractitioner(ctx context.Context, id string) (domain.Practitioner, error) {
	if err := ctx.Err(); err != nil {
		return domain.Practitioner{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.snap.Practitioners[id]
	if !ok {
		return domain.Practitioner{}, ErrNotFound
	}
	return p, nil
}

func (s *Store) ListPractitioners(ctx context.Context) ([]domain.Practitioner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Practitioner, 0, len(s.snap.Practitioners))
	for _, p := range s.snap.Practitioners {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
