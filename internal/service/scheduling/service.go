// Package scheduling holds the appointment business rules: input validation
// and referential checks on top of the record store's data-access contract.
// Slot conflict detection itself happens inside the store's write critical
// section, where it is race-free.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"clinica/backend/internal/domain"
	"clinica/backend/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// NewValidationError builds a rejection other packages can return through
// the same error path the service uses.
func NewValidationError(msg string) *ValidationError {
	return &ValidationError{msg: msg}
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// recordStore is the slice of the store this service depends on.
type recordStore interface {
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	UpdateAppointment(ctx context.Context, id uuid.UUID, in store.UpdateInput) (domain.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListAppointments(ctx context.Context, f store.Filter) ([]domain.Appointment, error)
	GetPatient(ctx context.Context, id string) (domain.Patient, error)
	GetPractitioner(ctx context.Context, id string) (domain.Practitioner, error)
	PutPatient(ctx context.Context, p domain.Patient) (domain.Patient, error)
	PutPractitioner(ctx context.Context, p domain.Practitioner) (domain.Practitioner, error)
	ListPatients(ctx context.Context) ([]domain.Patient, error)
	ListPractitioners(ctx context.Context) ([]domain.Practitioner, error)
}

type Service struct {
	store recordStore
}

func NewService(st recordStore) *Service {
	return &Service{store: st}
}

type ScheduleInput struct {
	PatientID      string
	PractitionerID string
	StartTime      time.Time
	Notes          string
}

// Schedule validates the draft and books it. Unknown patients or
// practitioners fail validation; a taken slot surfaces store.ErrConflict.
func (s *Service) Schedule(ctx context.Context, in ScheduleInput) (domain.Appointment, error) {
	if in.PatientID == "" {
		return domain.Appointment{}, validationError("patient_id is required")
	}
	if in.PractitionerID == "" {
		return domain.Appointment{}, validationError("practitioner_id is required")
	}
	if in.StartTime.IsZero() {
		return domain.Appointment{}, validationError("start_time is required")
	}

	if _, err := s.store.GetPatient(ctx, in.PatientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Appointment{}, validationError("unknown patient_id")
		}
		return domain.Appointment{}, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.store.GetPractitioner(ctx, in.PractitionerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Appointment{}, validationError("unknown practitioner_id")
		}
		return domain.Appointment{}, fmt.Errorf("load practitioner: %w", err)
	}

	return s.store.CreateAppointment(ctx, domain.Appointment{
		PatientID:      in.PatientID,
		PractitionerID: in.PractitionerID,
		StartTime:      in.StartTime,
		Notes:          strings.TrimSpace(in.Notes),
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if id == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	return s.store.GetAppointment(ctx, id)
}

type UpdateInput struct {
	Status    *domain.Status
	Notes     *string
	StartTime *time.Time
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (domain.Appointment, error) {
	if id == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	if in.Status == nil && in.Notes == nil && in.StartTime == nil {
		return domain.Appointment{}, validationError("no changes requested")
	}
	if in.Status != nil && !in.Status.Valid() {
		return domain.Appointment{}, validationError("invalid status")
	}
	return s.store.UpdateAppointment(ctx, id, store.UpdateInput{
		Status:    in.Status,
		Notes:     in.Notes,
		StartTime: in.StartTime,
	})
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if id == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	return s.store.CancelAppointment(ctx, id)
}

func (s *Service) List(ctx context.Context, f store.Filter) ([]domain.Appointment, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, validationError("invalid status filter")
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return nil, validationError("to must be after from")
	}
	return s.store.ListAppointments(ctx, f)
}

type PatientInput struct {
	ID       string
	Name     string
	Document string
	Phone    string
	Email    string
}

func (s *Service) RegisterPatient(ctx context.Context, in PatientInput) (domain.Patient, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Patient{}, validationError("name is required")
	}
	if strings.TrimSpace(in.Document) == "" {
		return domain.Patient{}, validationError("document is required")
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = "P" + uuid.NewString()[:8]
	}

	// A document number identifies one person; refuse a second registration
	// under a different id.
	existing, err := s.store.ListPatients(ctx)
	if err != nil {
		return domain.Patient{}, fmt.Errorf("list patients: %w", err)
	}
	for _, p := range existing {
		if p.Document == in.Document && p.ID != id {
			return domain.Patient{}, validationError("document already registered")
		}
	}

	return s.store.PutPatient(ctx, domain.Patient{
		ID:       id,
		Name:     name,
		Document: strings.TrimSpace(in.Document),
		Phone:    strings.TrimSpace(in.Phone),
		Email:    strings.TrimSpace(in.Email),
	})
}

func (s *Service) GetPatient(ctx context.Context, id string) (domain.Patient, error) {
	if id == "" {
		return domain.Patient{}, validationError("patient_id is required")
	}
	return s.store.GetPatient(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context) ([]domain.Patient, error) {
	return s.store.ListPatients(ctx)
}

type PractitionerInput struct {
	ID        string
	Name      string
	License   string
	Specialty string
}

func (s *Service) RegisterPractitioner(ctx context.Context, in PractitionerInput) (domain.Practitioner, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Practitioner{}, validationError("name is required")
	}
	if strings.TrimSpace(in.License) == "" {
		return domain.Practitioner{}, validationError("license is required")
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = "M" + uuid.NewString()[:8]
	}

	existing, err := s.store.ListPractitioners(ctx)
	if err != nil {
		return domain.Practitioner{}, fmt.Errorf("list practitioners: %w", err)
	}
	for _, p := range existing {
		if p.License == in.License && p.ID != id {
			return domain.Practitioner{}, validationError("license already registered")
		}
	}

	return s.store.PutPractitioner(ctx, domain.Practitioner{
		ID:        id,
		Name:      name,
		License:   strings.TrimSpace(in.License),
		Specialty: strings.TrimSpace(in.Specialty),
	})
}

func (s *Service) ListPractitioners(ctx context.Context) ([]domain.Practitioner, error) {
	return s.store.ListPractitioners(ctx)
}
