package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"clinica/backend/internal/domain"
	"clinica/backend/internal/store/snapshot"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	files, err := snapshot.NewFiles(dir, 3, nil)
	if err != nil {
		t.Fatalf("NewFiles error: %v", err)
	}
	st, err := Open(files, Options{CacheCapacity: 32, CacheTTL: time.Minute}, nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	return st
}

func newStore(t *testing.T) *Store {
	t.Helper()
	return openStore(t, t.TempDir())
}

func draft(practitionerID string, start time.Time) domain.Appointment {
	return domain.Appointment{
		PatientID:      "P1",
		PractitionerID: practitionerID,
		StartTime:      start,
	}
}

var slot10 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestCreateGetRoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	created, err := st.CreateAppointment(ctx, draft("M1", slot10))
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Fatalf("id not assigned")
	}
	if created.Status != domain.StatusScheduled {
		t.Fatalf("status = %s, want scheduled", created.Status)
	}

	got, err := st.GetAppointment(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetAppointment error: %v", err)
	}
	if got.PatientID != "P1" || got.PractitionerID != "M1" || !got.StartTime.Equal(slot10) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestGetUnknownIDIsNotFound(t *testing.T) {
	st := newStore(t)
	id, _ := uuid.NewV7()

	if _, err := st.GetAppointment(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	// Second lookup is served by the negative cache and must agree.
	if _, err := st.GetAppointment(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("negative-cached err = %v, want ErrNotFound", err)
	}
}

func TestDoubleBookingConflicts(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	first, err := st.CreateAppointment(ctx, draft("M1", slot10))
	if err != nil {
		t.Fatalf("first create error: %v", err)
	}

	_, err = st.CreateAppointment(ctx, draft("M1", slot10))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	got, err := st.GetAppointment(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetAppointment error: %v", err)
	}
	if got.Status != domain.StatusScheduled {
		t.Fatalf("first appointment status = %s, want scheduled", got.Status)
	}
}

func TestCancelledSlotCanBeRebooked(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	first, err := st.CreateAppointment(ctx, draft("M1", slot10))
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := st.CancelAppointment(ctx, first.ID); err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	if _, err := st.CreateAppointment(ctx, draft("M1", slot10)); err != nil {
		t.Fatalf("rebook after cancel error: %v", err)
	}
}

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	appt, err := st.CreateAppointment(ctx, draft("M1", slot10))
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	completed := domain.StatusCompleted
	if _, err := st.UpdateAppointment(ctx, appt.ID, UpdateInput{Status: &completed}); err != nil {
		t.Fatalf("scheduled -> completed error: %v", err)
	}

	cancelled := domain.StatusCancelled
	_, err = st.UpdateAppointment(ctx, appt.ID, UpdateInput{Status: &cancelled})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed -> cancelled err = %v, want ErrInvalidTransition", err)
	}

	scheduled := domain.StatusScheduled
	_, err = st.UpdateAppointment(ctx, appt.ID, UpdateInput{Status: &scheduled})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed -> scheduled err = %v, want ErrInvalidTransition", err)
	}
}

func TestCompletedAppointmentFieldsAreImmutable(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	appt, err := st.CreateAppointment(ctx, draft("M1", slot10))
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	completed := domain.StatusCompleted
	if _, err := st.UpdateAppointment(ctx, appt.ID, UpdateInput{Status: &completed}); err != nil {
		t.Fatalf("complete error: %v", err)
	}

	notes := "late edit"
	_, err = st.UpdateAppointment(ctx, appt.ID, UpdateInput{Notes: &notes})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestUpdateVisibleAfterCompletion(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	appt, err := st.CreateAppointment(ctx, draft("M1", slot10))
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	// Warm the cache with the pre-update value.
	if _, err := st.GetAppointment(ctx, appt.ID); err != nil {
		t.Fatalf("get error: %v", err)
	}

	notes := "bring previous exams"
	if _, err := st.UpdateAppointment(ctx, appt.ID, UpdateInput{Notes: &notes}); err != nil {
		t.Fatalf("update error: %v", err)
	}

	got, err := st.GetAppointment(ctx, appt.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.Notes != notes {
		t.Fatalf("stale read after update: notes = %q", got.Notes)
	}
}

func TestRescheduleIntoTakenSlotConflicts(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	if _, err := st.CreateAppointment(ctx, draft("M1", slot10)); err != nil {
		t.Fatalf("create error: %v", err)
	}
	slot11 := slot10.Add(time.Hour)
	second, err := st.CreateAppointment(ctx, draft("M1", slot11))
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	_, err = st.UpdateAppointment(ctx, second.ID, UpdateInput{StartTime: &slot10})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestConcurrentCreatesDistinctSlots(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	const n = 25

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := draft(fmt.Sprintf("M%d", i), slot10)
			d.PatientID = fmt.Sprintf("P%d", i)
			_, errs[i] = st.CreateAppointment(ctx, d)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("create #%d error: %v", i, err)
		}
	}

	appts, err := st.ListAppointments(ctx, Filter{})
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(appts) != n {
		t.Fatalf("list returned %d appointments, want %d", len(appts), n)
	}
	seen := map[string]bool{}
	for _, a := range appts {
		if seen[a.PractitionerID] {
			t.Fatalf("duplicate practitioner %s in list", a.PractitionerID)
		}
		seen[a.PractitionerID] = true
	}
}

func TestConcurrentDoubleBookingOneWinner(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	const n = 10

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = st.CreateAppointment(ctx, draft("M1", slot10))
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("wins = %d conflicts = %d, want 1 and %d", wins, conflicts, n-1)
	}
}

func TestRestartLoadsPersistedState(t *testing.T) {
	dir := t.TempDir()
	st := openStore(t, dir)
	ctx := context.Background()

	created, err := st.CreateAppointment(ctx, draft("M1", slot10))
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := st.PutPatient(ctx, domain.Patient{ID: "P1", Name: "Ana", Document: "1"}); err != nil {
		t.Fatalf("put patient error: %v", err)
	}

	// A second store over the same directory models a process restart.
	st2 := openStore(t, dir)
	got, err := st2.GetAppointment(ctx, created.ID)
	if err != nil {
		t.Fatalf("get after restart error: %v", err)
	}
	if !got.StartTime.Equal(slot10) {
		t.Fatalf("restart mismatch: %+v", got)
	}
	if _, err := st2.GetPatient(ctx, "P1"); err != nil {
		t.Fatalf("patient missing after restart: %v", err)
	}
}

func TestListFilters(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	a1, err := st.CreateAppointment(ctx, draft("M1", slot10))
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := st.CreateAppointment(ctx, draft("M2", slot10)); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := st.CancelAppointment(ctx, a1.ID); err != nil {
		t.Fatalf("cancel error: %v", err)
	}

	scheduled, err := st.ListAppointments(ctx, Filter{Status: domain.StatusScheduled})
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(scheduled) != 1 || scheduled[0].PractitionerID != "M2" {
		t.Fatalf("status filter wrong: %+v", scheduled)
	}

	m1, err := st.ListAppointments(ctx, Filter{PractitionerID: "M1"})
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(m1) != 1 || m1[0].Status != domain.StatusCancelled {
		t.Fatalf("practitioner filter wrong: %+v", m1)
	}

	window, err := st.ListAppointments(ctx, Filter{From: slot10.Add(time.Minute), To: slot10.Add(time.Hour)})
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(window) != 0 {
		t.Fatalf("time window filter wrong: %+v", window)
	}
}

func TestListOrderedByStartTime(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	for _, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		if _, err := st.CreateAppointment(ctx, draft("M1", slot10.Add(offset))); err != nil {
			t.Fatalf("create error: %v", err)
		}
	}

	appts, err := st.ListAppointments(ctx, Filter{})
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	for i := 1; i < len(appts); i++ {
		if appts[i].StartTime.Before(appts[i-1].StartTime) {
			t.Fatalf("list not ordered by start time")
		}
	}
}

func TestCancelledContextAbandonsWrite(t *testing.T) {
	st := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := st.CreateAppointment(ctx, draft("M1", slot10)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	appts, err := st.ListAppointments(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(appts) != 0 {
		t.Fatalf("abandoned write left side effects: %+v", appts)
	}
}

func TestFlushAdvancesBackups(t *testing.T) {
	dir := t.TempDir()
	st := openStore(t, dir)
	ctx := context.Background()

	if _, err := st.CreateAppointment(ctx, draft("M1", slot10)); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("flush error: %v", err)
	}

	// Reload from disk: the flushed snapshot is authoritative.
	st2 := openStore(t, dir)
	appts, err := st2.ListAppointments(ctx, Filter{})
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("flushed snapshot holds %d appointments, want 1", len(appts))
	}
}

func TestCacheStatsAccumulate(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	appt, err := st.CreateAppointment(ctx, draft("M1", slot10))
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := st.GetAppointment(ctx, appt.ID); err != nil { // miss, populate
		t.Fatalf("get error: %v", err)
	}
	if _, err := st.GetAppointment(ctx, appt.ID); err != nil { // hit
		t.Fatalf("get error: %v", err)
	}

	s := st.CacheStats()
	if s.Hits < 1 || s.Misses < 1 {
		t.Fatalf("stats = %+v, want at least one hit and one miss", s)
	}
}

func TestConcurrentReadsNeverMaskCompletedWrites(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	appt, err := st.CreateAppointment(ctx, draft("M1", slot10))
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	// A reader hammering one identifier races each update's cache
	// invalidation. Once an update has returned, every later read must
	// observe it; a reader re-inserting its older view into the cache after
	// the invalidation would mask the write until the entry expires.
	for i := 0; i < 50; i++ {
		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_, _ = st.GetAppointment(ctx, appt.ID)
				}
			}
		}()

		notes := fmt.Sprintf("revision %d", i)
		if _, err := st.UpdateAppointment(ctx, appt.ID, UpdateInput{Notes: &notes}); err != nil {
			t.Fatalf("update #%d error: %v", i, err)
		}
		close(stop)
		wg.Wait()

		got, err := st.GetAppointment(ctx, appt.ID)
		if err != nil {
			t.Fatalf("get error: %v", err)
		}
		if got.Notes != notes {
			t.Fatalf("read after completed write #%d returned %q, want %q", i, got.Notes, notes)
		}
	}
}

func TestCreateRefusesCallerAssignedIdentifier(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	first, err := st.CreateAppointment(ctx, draft("M1", slot10))
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	// A draft reusing an existing identifier must not replace the record.
	dup := draft("M2", slot10.Add(time.Hour))
	dup.ID = first.ID
	if _, err := st.CreateAppointment(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	got, err := st.GetAppointment(ctx, first.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.PractitionerID != "M1" || !got.StartTime.Equal(slot10) {
		t.Fatalf("existing record overwritten: %+v", got)
	}

	// Any caller-supplied identifier is refused, taken or not.
	fresh := draft("M3", slot10.Add(2*time.Hour))
	fresh.ID, _ = uuid.NewV7()
	if _, err := st.CreateAppointment(ctx, fresh); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestIdentifierLocksAreReleasedAfterWrites(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		appt, err := st.CreateAppointment(ctx, draft(fmt.Sprintf("M%d", i), slot10))
		if err != nil {
			t.Fatalf("create error: %v", err)
		}
		if _, err := st.CancelAppointment(ctx, appt.ID); err != nil {
			t.Fatalf("cancel error: %v", err)
		}
	}

	st.locksMu.Lock()
	n := len(st.idLocks)
	st.locksMu.Unlock()
	if n != 0 {
		t.Fatalf("lock table holds %d entries after writes finished, want 0", n)
	}
}

func TestDegradedStoreRefusesWritesServesReads(t *testing.T) {
	dir := t.TempDir()
	files, err := snapshot.NewFiles(dir, 3, nil)
	if err != nil {
		t.Fatalf("NewFiles error: %v", err)
	}
	// An unreadable primary with no backups exhausts recovery.
	if err := writeGarbagePrimary(dir); err != nil {
		t.Fatalf("corrupt primary: %v", err)
	}

	if _, err := Open(files, Options{CacheCapacity: 8, CacheTTL: time.Minute}, nil); err == nil {
		t.Fatalf("expected Open to fail without AllowDegraded")
	}

	st, err := Open(files, Options{CacheCapacity: 8, CacheTTL: time.Minute, AllowDegraded: true}, nil)
	if err != nil {
		t.Fatalf("Open degraded error: %v", err)
	}
	if !st.Degraded() {
		t.Fatalf("store should report degraded")
	}

	ctx := context.Background()
	if _, err := st.CreateAppointment(ctx, draft("M1", slot10)); !errors.Is(err, ErrStoreDegraded) {
		t.Fatalf("create err = %v, want ErrStoreDegraded", err)
	}
	if err := st.Flush(ctx); !errors.Is(err, ErrStoreDegraded) {
		t.Fatalf("flush err = %v, want ErrStoreDegraded", err)
	}

	id, _ := uuid.NewV7()
	if _, err := st.GetAppointment(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("degraded read err = %v, want ErrNotFound", err)
	}
}
