package handlers

import "net/http"

// Register mounts the provider and client API. Public routes go through RegisterPublic so the
// caller can put a rate limiter in front of them.
func Register(mux *http.ServeMux, b *BookingHandler, s *ScheduleHandler, bl *BlackoutHandler, sv *ServiceHandler) {
	mux.HandleFunc("POST /api/v1/appointments", b.Create)
	mux.HandleFunc("GET /api/v1/appointments", b.List)
	mux.HandleFunc("POST /api/v1/appointments/cancel", b.Cancel)

	mux.HandleFunc("POST /api/v1/schedules", s.Create)
	mux.HandleFunc("POST /api/v1/schedules/days", s.AddDays)
	mux.HandleFunc("PUT /api/v1/schedules/hours", s.UpdateHours)
	mux.HandleFunc("DELETE /api/v1/schedules", s.Delete)
	mux.HandleFunc("GET /api/v1/schedules", s.List)

	mux.HandleFunc("POST /api/v1/blackouts", bl.Create)
	mux.HandleFunc("DELETE /api/v1/blackouts", bl.Delete)
	mux.HandleFunc("GET /api/v1/blackouts", bl.List)

	mux.HandleFunc("POST /api/v1/services", sv.Create)
	mux.HandleFunc("GET /api/v1/services", sv.List)
	mux.HandleFunc("GET /api/v1/services/{id}", sv.Get)
	mux.HandleFunc("PUT /api/v1/services", sv.Update)
	mux.HandleFunc("POST /api/v1/services/activate", sv.Activate)
	mux.HandleFunc("POST /api/v1/services/deactivate", sv.Deactivate)
}

func RegisterPublic(mux *http.ServeMux, b *BookingHandler) {
	mux.HandleFunc("GET /api/v1/public/slots", b.Slots)
}
