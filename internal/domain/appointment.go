package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment. Transitions are monotonic:
// a scheduled appointment may become completed or cancelled, and neither of
// those states can be left again.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal status
// change. Staying in the same state is always allowed (non-status updates).
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	return s == StatusScheduled && (next == StatusCompleted || next == StatusCancelled)
}

type Appointment struct {
	ID             uuid.UUID `json:"id"`
	PatientID      string    `json:"patient_id"`
	PractitionerID string    `json:"practitioner_id"`
	StartTime      time.Time `json:"start_time"`
	Notes          string    `json:"notes,omitempty"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StampNew assigns identity and creation timestamps to a freshly scheduled
// appointment. The identifier is immutable afterwards.
func (a *Appointment) StampNew(now time.Time) error {
	if a.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		a.ID = id
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	return nil
}

// SameSlot reports whether two appointments occupy the same practitioner
// slot. Slot identity is practitioner + exact start time.
func (a Appointment) SameSlot(other Appointment) bool {
	return a.PractitionerID == other.PractitionerID && a.StartTime.Equal(other.StartTime)
}
