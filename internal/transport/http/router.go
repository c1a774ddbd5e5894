// Package http is the thin web-facing consumer of the record store: routing,
// JSON decoding and error mapping only. Business rules live in the services.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func NewRouter(svc *Handlers, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(log))

	r.Get("/health/live", svc.liveness)
	r.Get("/health/ready", svc.readiness)

	r.Route("/api", func(r chi.Router) {
		r.Post("/appointments", svc.scheduleAppointment)
		r.Get("/appointments", svc.listAppointments)
		r.Get("/appointments/{id}", svc.getAppointment)
		r.Patch("/appointments/{id}", svc.updateAppointment)
		r.Post("/appointments/{id}/cancel", svc.cancelAppointment)

		r.Post("/patients", svc.registerPatient)
		r.Get("/patients", svc.listPatients)
		r.Get("/patients/{id}", svc.getPatient)

		r.Post("/practitioners", svc.registerPractitioner)
		r.Get("/practitioners", svc.listPractitioners)

		r.Get("/reports/daily", svc.dailyReport)
		r.Get("/reports/export", svc.exportCSV)
	})

	return r
}
