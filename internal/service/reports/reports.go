// Package reports derives operator-facing summaries from the record store.
// Rendering (PDF, templating) is someone else's job; this package only
// assembles data and writes CSV.
package reports

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"clinica/backend/internal/domain"
	"clinica/backend/internal/store"
)

const unknownName = "unknown"

type recordStore interface {
	ListAppointments(ctx context.Context, f store.Filter) ([]domain.Appointment, error)
	ListPatients(ctx context.Context) ([]domain.Patient, error)
	ListPractitioners(ctx context.Context) ([]domain.Practitioner, error)
}

type Service struct {
	store recordStore
}

func NewService(st recordStore) *Service {
	return &Service{store: st}
}

// DailySummary is one clinic day, optionally narrowed to one practitioner.
type DailySummary struct {
	Date         string               `json:"date"`
	Total        int                  `json:"total"`
	ByStatus     map[string]int       `json:"by_status"`
	Appointments []domain.Appointment `json:"appointments"`
}

// Daily returns the appointments of the clinic-local day containing date,
// time-ordered, with per-status counts.
func (s *Service) Daily(ctx context.Context, date time.Time, practitionerID string) (DailySummary, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	f := store.Filter{
		PractitionerID: practitionerID,
		From:           dayStart,
		To:             dayStart.AddDate(0, 0, 1),
	}
	appts, err := s.store.ListAppointments(ctx, f)
	if err != nil {
		return DailySummary{}, fmt.Errorf("list appointments: %w", err)
	}

	sum := DailySummary{
		Date:         dayStart.Format("2006-01-02"),
		Total:        len(appts),
		ByStatus:     map[string]int{},
		Appointments: appts,
	}
	for _, a := range appts {
		sum.ByStatus[string(a.Status)]++
	}
	return sum, nil
}

// ExportCSV streams the matching appointments as CSV rows with patient and
// practitioner names resolved. Dangling references render as "unknown"
// rather than failing the whole export.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, f store.Filter) error {
	appts, err := s.store.ListAppointments(ctx, f)
	if err != nil {
		return fmt.Errorf("list appointments: %w", err)
	}
	patients, err := s.store.ListPatients(ctx)
	if err != nil {
		return fmt.Errorf("list patients: %w", err)
	}
	practitioners, err := s.store.ListPractitioners(ctx)
	if err != nil {
		return fmt.Errorf("list practitioners: %w", err)
	}

	patientName := make(map[string]string, len(patients))
	for _, p := range patients {
		patientName[p.ID] = p.Name
	}
	practitionerName := make(map[string]string, len(practitioners))
	for _, p := range practitioners {
		practitionerName[p.ID] = p.Name
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "patient", "practitioner", "start_time", "status", "notes"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, a := range appts {
		pn, ok := patientName[a.PatientID]
		if !ok {
			pn = unknownName
		}
		dn, ok := practitionerName[a.PractitionerID]
		if !ok {
			dn = unknownName
		}
		row := []string{
			a.ID.String(),
			pn,
			dn,
			a.StartTime.Format(time.RFC3339),
			string(a.Status),
			a.Notes,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
