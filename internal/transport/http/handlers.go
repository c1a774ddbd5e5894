package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"clinica/backend/internal/cache"
	"clinica/backend/internal/domain"
	"clinica/backend/internal/service/reports"
	"clinica/backend/internal/service/scheduling"
	"clinica/backend/internal/store"
)

type schedulingService interface {
	Schedule(ctx context.Context, in scheduling.ScheduleInput) (domain.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	Update(ctx context.Context, id uuid.UUID, in scheduling.UpdateInput) (domain.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	List(ctx context.Context, f store.Filter) ([]domain.Appointment, error)
	RegisterPatient(ctx context.Context, in scheduling.PatientInput) (domain.Patient, error)
	GetPatient(ctx context.Context, id string) (domain.Patient, error)
	ListPatients(ctx context.Context) ([]domain.Patient, error)
	RegisterPractitioner(ctx context.Context, in scheduling.PractitionerInput) (domain.Practitioner, error)
	ListPractitioners(ctx context.Context) ([]domain.Practitioner, error)
}

type reportsService interface {
	Daily(ctx context.Context, date time.Time, practitionerID string) (reports.DailySummary, error)
	ExportCSV(ctx context.Context, w io.Writer, f store.Filter) error
}

type storeHealth interface {
	Degraded() bool
	CacheStats() cache.Stats
}

type Handlers struct {
	scheduling schedulingService
	reports    reportsService
	health     storeHealth
	log        *slog.Logger
}

func NewHandlers(sched schedulingService, rep reportsService, health storeHealth, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		scheduling: sched,
		reports:    rep,
		health:     health,
		log:        log.With(slog.String("component", "http")),
	}
}

func (h *Handlers) scheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	appt, err := h.scheduling.Schedule(r.Context(), scheduling.ScheduleInput{
		PatientID:      req.PatientID,
		PractitionerID: req.PractitionerID,
		StartTime:      req.StartTime,
		Notes:          req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *Handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	appt, err := h.scheduling.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) updateAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	in := scheduling.UpdateInput{
		Notes:     req.Notes,
		StartTime: req.StartTime,
	}
	if req.Status != nil {
		st := domain.Status(*req.Status)
		in.Status = &st
	}

	appt, err := h.scheduling.Update(r.Context(), id, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	appt, err := h.scheduling.Cancel(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}
	appts, err := h.scheduling.List(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
}

func (h *Handlers) registerPatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	p, err := h.scheduling.RegisterPatient(r.Context(), scheduling.PatientInput{
		ID:       req.ID,
		Name:     req.Name,
		Document: req.Document,
		Phone:    req.Phone,
		Email:    req.Email,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) getPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.scheduling.GetPatient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) listPatients(w http.ResponseWriter, r *http.Request) {
	ps, err := h.scheduling.ListPatients(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *Handlers) registerPractitioner(w http.ResponseWriter, r *http.Request) {
	var req practitionerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	p, err := h.scheduling.RegisterPractitioner(r.Context(), scheduling.PractitionerInput{
		ID:        req.ID,
		Name:      req.Name,
		License:   req.License,
		Specialty: req.Specialty,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) listPractitioners(w http.ResponseWriter, r *http.Request) {
	ps, err := h.scheduling.ListPractitioners(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *Handlers) dailyReport(w http.ResponseWriter, r *http.Request) {
	date := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}
	sum, err := h.reports.Daily(r.Context(), date, r.URL.Query().Get("practitioner_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handlers) exportCSV(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}
	// Assembled in memory first: once headers go out a failure could only be
	// logged, and the client would take a truncated 200 for a full export.
	var buf bytes.Buffer
	if err := h.reports.ExportCSV(r.Context(), &buf, f); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="appointments.csv"`)
	if _, err := buf.WriteTo(w); err != nil {
		h.log.Error("csv export write failed", slog.Any("err", err))
	}
}

func (h *Handlers) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) readiness(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status": "ready",
		"cache":  h.health.CacheStats(),
	}
	code := http.StatusOK
	if h.health.Degraded() {
		body["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *scheduling.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, "validation_failed", vErr.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no such record")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "slot_taken", "the practitioner already has an appointment at that time")
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, store.ErrStoreDegraded):
		writeError(w, http.StatusServiceUnavailable, "store_degraded", "store is read-only until operator intervention")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "request_cancelled", err.Error())
	default:
		h.log.Error("request failed",
			slog.Any("err", err),
			slog.String("path", r.URL.Path),
			slog.String("request_id", requestIDFrom(r.Context())),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func filterFromQuery(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{
		PatientID:      q.Get("patient_id"),
		PractitionerID: q.Get("practitioner_id"),
		Status:         domain.Status(q.Get("status")),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.Filter{}, errors.New("from must be RFC 3339")
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.Filter{}, errors.New("to must be RFC 3339")
		}
		f.To = t
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind, details string) {
	writeJSON(w, code, errorResponse{Error: kind, Details: details})
}
