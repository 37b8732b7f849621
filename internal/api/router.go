package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/availability"
	"github.com/hackgods/telehealth-scheduling/internal/discovery"
	"github.com/hackgods/telehealth-scheduling/internal/identity"
	"github.com/hackgods/telehealth-scheduling/internal/schedule"
)

type RouterConfig struct {
	Schedules    *schedule.Service
	Appointments *appointment.Service
	Presence     *availability.Service
	Discovery    *discovery.Service
	Verifier     *identity.Verifier
	Log          *logrus.Logger
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &handlers{
		schedules:    cfg.Schedules,
		appointments: cfg.Appointments,
		presence:     cfg.Presence,
		log:          cfg.Log,
		validate:     newRequestValidator(),
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier))

		r.Get("/doctors/search", searchDoctorsHandler(cfg.Discovery, cfg.Log))
		r.Route("/doctors/{doctorID}", func(r chi.Router) {
			r.Put("/schedule", h.setSchedule)
			r.Get("/schedule", h.getSchedule)
			r.Get("/slots/open", h.getOpenSlots)
			r.Post("/presence", h.transitionPresence)
			r.Get("/presence", h.getPresence)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.createAppointment)
			r.Get("/", h.listAppointments)
			r.Get("/{id}", h.getAppointment)
			r.Post("/{id}/cancel", h.appointmentAction(h.cancelAppointment))
			r.Post("/{id}/confirm", h.appointmentAction(h.confirmAppointment))
			r.Post("/{id}/complete", h.appointmentAction(h.completeAppointment))
		})
	})

	return r
}
