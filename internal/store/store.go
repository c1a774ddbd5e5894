// Package store implements the concurrent appointment record store: an
// in-memory snapshot guarded by a readers-writer lock, a TTL-bounded LRU
// cache in front of it, and crash-safe persistence through the snapshot
// files. All request handlers share one Store instance owned by the process
// entry point.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinica/backend/internal/cache"
	"clinica/backend/internal/domain"
	"clinica/backend/internal/store/snapshot"
)

type Options struct {
	CacheCapacity int
	CacheTTL      time.Duration

	// AllowDegraded keeps the process serving reads from an empty snapshot
	// when durable recovery is exhausted, instead of failing Open. Writes are
	// refused with ErrStoreDegraded until an operator intervenes.
	AllowDegraded bool
}

type Store struct {
	// mu is the global snapshot lock: many concurrent readers, one writer.
	// Go's RWMutex blocks new readers once a writer is waiting, so a
	// continuous stream of reads cannot starve writes.
	mu    sync.RWMutex
	snap  *snapshot.Snapshot
	files *snapshot.Files
	cache *cache.Cache
	log   *slog.Logger

	// locksMu guards the per-identifier lock table. A write sequence for one
	// appointment (validate, mutate, invalidate cache, persist) holds its
	// identifier lock for the whole critical section, so cache and disk can
	// never disagree about that identifier's final value. Entries are
	// refcounted and removed once the last holder releases, so the table
	// stays bounded by in-flight writes rather than growing with every
	// identifier ever touched.
	locksMu sync.Mutex
	idLocks map[uuid.UUID]*idLock

	degraded bool
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

// Open loads the snapshot from disk and builds the store around it. An
// unrecoverable snapshot surfaces as an error; the operator decides whether
// to clear the data directory and start empty.
func Open(files *snapshot.Files, opts Options, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "store"))

	degraded := false
	snap, err := files.Load()
	if err != nil {
		if !opts.AllowDegraded {
			return nil, err
		}
		log.Error("store degraded: serving reads from empty snapshot, refusing writes", slog.Any("err", err))
		snap = snapshot.NewSnapshot()
		degraded = true
	}
	return &Store{
		snap:     snap,
		files:    files,
		cache:    cache.New(opts.CacheCapacity, opts.CacheTTL),
		log:      log,
		idLocks:  make(map[uuid.UUID]*idLock),
		degraded: degraded,
	}, nil
}

// Degraded reports whether the store refused durable recovery at startup and
// is serving writes-refused. Surfaced through the readiness endpoint.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *Store) acquireID(id uuid.UUID) *idLock {
	s.locksMu.Lock()
	l, ok := s.idLocks[id]
	if !ok {
		l = &idLock{}
		s.idLocks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Store) releaseID(id uuid.UUID, l *idLock) {
	l.mu.Unlock()

	s.locksMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.idLocks, id)
	}
	s.locksMu.Unlock()
}

// UpdateInput carries the mutable fields of an appointment. Nil pointers mean
// "leave unchanged".
type UpdateInput struct {
	Status    *domain.Status
	Notes     *string
	StartTime *time.Time
}

// Filter narrows ListAppointments. Zero values match everything.
type Filter struct {
	PatientID      string
	PractitionerID string
	Status         domain.Status
	From           time.Time
	To             time.Time
}

func (f Filter) matches(a domain.Appointment) bool {
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if f.PractitionerID != "" && a.PractitionerID != f.PractitionerID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && a.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !a.StartTime.Before(f.To) {
		return false
	}
	return true
}

// CreateAppointment assigns identity to the draft, checks the practitioner
// slot for conflicts inside the write critical section, and persists. The
// conflict re-check under the exclusive lock is what makes concurrent
// double-booking attempts lose deterministically.
func (s *Store) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Appointment{}, err
	}
	// Identity is store-assigned. A draft arriving with an id would let a
	// caller replace an existing record through the create path.
	if appt.ID != uuid.Nil {
		return domain.Appointment{}, fmt.Errorf("%w: appointment id is assigned by the store", ErrConflict)
	}
	if err := appt.StampNew(time.Now().UTC()); err != nil {
		return domain.Appointment{}, fmt.Errorf("assign id: %w", err)
	}

	l := s.acquireID(appt.ID)
	defer s.releaseID(appt.ID, l)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		return domain.Appointment{}, ErrStoreDegraded
	}

	key := appt.ID.String()
	if _, exists := s.snap.Appointments[key]; exists {
		return domain.Appointment{}, fmt.Errorf("%w: identifier already in use", ErrConflict)
	}
	for _, other := range s.snap.Appointments {
		if other.Status != domain.StatusCancelled && appt.SameSlot(other) {
			return domain.Appointment{}, ErrConflict
		}
	}

	s.snap.Appointments[key] = appt
	s.cache.Invalidate(key)

	if err := s.persistLocked(); err != nil {
		return domain.Appointment{}, err
	}

	s.log.Info("appointment created",
		slog.String("appointment_id", key),
		slog.String("practitioner_id", appt.PractitionerID),
		slog.Time("start_time", appt.StartTime),
	)
	return appt, nil
}

// GetAppointment consults the cache first and falls back to the snapshot on a
// miss, populating the cache (including known-absent identifiers) for
// subsequent reads. The populate happens while the read lock is still held:
// a writer's invalidation runs under the exclusive lock, so it is always
// ordered after any populate that read the pre-write value. Populating after
// RUnlock would let a slow reader re-insert a value a completed write had
// already invalidated.
func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Appointment{}, err
	}
	key := id.String()

	if appt, negative, ok := s.cache.Get(key); ok {
		if negative {
			return domain.Appointment{}, ErrNotFound
		}
		return appt, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	appt, ok := s.snap.Appointments[key]
	if !ok {
		s.cache.PutNegative(key)
		return domain.Appointment{}, ErrNotFound
	}
	s.cache.Put(key, appt)
	return appt, nil
}

// UpdateAppointment applies changes under the identifier's exclusive critical
// section. Status changes must follow the monotonic transition rule; notes
// and start time are only mutable while the appointment is still scheduled.
func (s *Store) UpdateAppointment(ctx context.Context, id uuid.UUID, in UpdateInput) (domain.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Appointment{}, err
	}

	l := s.acquireID(id)
	defer s.releaseID(id, l)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		return domain.Appointment{}, ErrStoreDegraded
	}

	key := id.String()
	appt, ok := s.snap.Appointments[key]
	if !ok {
		return domain.Appointment{}, ErrNotFound
	}

	if in.Status != nil {
		if !in.Status.Valid() || !appt.Status.CanTransition(*in.Status) {
			return domain.Appointment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, *in.Status)
		}
	}
	if (in.Notes != nil || in.StartTime != nil) && appt.Status != domain.StatusScheduled {
		return domain.Appointment{}, fmt.Errorf("%w: %s appointment is immutable", ErrInvalidTransition, appt.Status)
	}

	if in.StartTime != nil && !in.StartTime.Equal(appt.StartTime) {
		moved := appt
		moved.StartTime = *in.StartTime
		for otherKey, other := range s.snap.Appointments {
			if otherKey == key {
				continue
			}
			if other.Status != domain.StatusCancelled && moved.SameSlot(other) {
				return domain.Appointment{}, ErrConflict
			}
		}
		appt.StartTime = *in.StartTime
	}
	if in.Notes != nil {
		appt.Notes = *in.Notes
	}
	if in.Status != nil {
		appt.Status = *in.Status
	}
	appt.UpdatedAt = time.Now().UTC()

	s.snap.Appointments[key] = appt
	s.cache.Invalidate(key)

	if err := s.persistLocked(); err != nil {
		return domain.Appointment{}, err
	}

	s.log.Info("appointment updated",
		slog.String("appointment_id", key),
		slog.String("status", string(appt.Status)),
	)
	return appt, nil
}

// CancelAppointment is the soft delete: a monotonic transition to cancelled.
func (s *Store) CancelAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	cancelled := domain.StatusCancelled
	return s.UpdateAppointment(ctx, id, UpdateInput{Status: &cancelled})
}

// ListAppointments returns the matching records from a single consistent
// point-in-time view, ordered by start time then id.
func (s *Store) ListAppointments(ctx context.Context, f Filter) ([]domain.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]domain.Appointment, 0, len(s.snap.Appointments))
	for _, a := range s.snap.Appointments {
		if f.matches(a) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Flush persists the current snapshot even when no write happened, bounding
// the loss window after an abnormal termination and advancing backup
// rotation. Runs under the same exclusive discipline as writes.
func (s *Store) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return ErrStoreDegraded
	}
	return s.persistLocked()
}

// SweepCache removes expired cache entries; scheduled by maintenance.
func (s *Store) SweepCache() int {
	n := s.cache.Sweep()
	if n > 0 {
		s.log.Debug("cache sweep", slog.Int("expired", n))
	}
	return n
}

func (s *Store) CacheStats() cache.Stats { return s.cache.Stats() }

// persistLocked writes the snapshot to disk. On failure the in-memory
// mutation is kept and the error is surfaced: memory and disk may diverge
// until the next successful save or scheduled flush reconciles them.
func (s *Store) persistLocked() error {
	if err := s.files.SaveAtomic(s.snap); err != nil {
		s.log.Error("snapshot persist failed", slog.Any("err", err))
		return err
	}
	return nil
}
