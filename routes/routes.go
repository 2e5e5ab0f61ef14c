package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	_ "github.com/Dosada05/club-system/docs"
	"github.com/Dosada05/club-system/handlers"
	"github.com/Dosada05/club-system/metrics"
	"github.com/Dosada05/club-system/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // Alias to avoid conflict
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handlers struct {
	Auth         *handlers.AuthHandler
	Registration *handlers.RegistrationHandler
	Member       *handlers.MemberHandler
	Event        *handlers.EventHandler
	Admin        *handlers.AdminHandler
}

type Options struct {
	AllowedOrigins []string
	Authenticator  *middleware.Authenticator
	Metrics        *metrics.Metrics
	DB             Pinger
}

func SetupRoutes(router chi.Router, h Handlers, opts Options) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if opts.Metrics != nil {
		router.Use(opts.Metrics.Middleware)
		router.Handle("/metrics", opts.Metrics.Handler())
	}

	router.Get("/healthz", healthz(opts.DB))
	router.Get("/swagger/*", httpSwagger.WrapHandler)

	// Публичные маршруты: клиент предъявляет подтверждение от провайдера идентичности
	router.Post("/auth/session", h.Auth.SignIn)
	router.Route("/registration", func(r chi.Router) {
		r.Post("/", h.Registration.Submit)
		r.Put("/", h.Registration.UpdatePending)
		r.Post("/resubmit", h.Registration.Resubmit)
	})

	router.Group(func(r chi.Router) {
		r.Use(opts.Authenticator.Authenticate)

		r.Delete("/auth/session", h.Auth.SignOut)

		r.Route("/me", func(r chi.Router) {
			r.Get("/", h.Member.Me)
			r.Put("/profile", h.Member.CompleteProfile)
			r.Put("/avatar", h.Member.UploadAvatar)
			r.Get("/profiles", h.Member.ListProfiles)
			r.Post("/active-profile", h.Member.SwitchProfile)
			r.Get("/parent-requests", h.Member.ListParentRequests)
			r.Post("/parent-requests/{requestID}/approve", h.Member.ApproveParentRequest)
			r.Post("/parent-requests/{requestID}/reject", h.Member.RejectParentRequest)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.Event.ListEvents)
			r.Route("/{eventID}", func(r chi.Router) {
				r.Get("/", h.Event.GetEvent)
				r.Post("/attendance", h.Event.SetAttendance)
				r.Post("/payment", h.Event.MarkPaid)
				r.Post("/participation-requests", h.Event.RequestParticipation)
			})
		})

		// Маршруты администратора
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Route("/registrations", func(r chi.Router) {
				r.Get("/", h.Admin.ListRegistrations)
				r.Get("/{requestID}", h.Admin.GetRegistration)
				r.Post("/{requestID}/approve", h.Admin.ApproveRegistration)
				r.Post("/{requestID}/reject", h.Admin.RejectRegistration)
			})

			r.Route("/members", func(r chi.Router) {
				r.Get("/", h.Admin.ListMembers)
				r.Post("/{memberID}/status", h.Admin.ChangeStatus)
				r.Put("/{memberID}/role", h.Admin.ChangeRole)
				r.Put("/{memberID}/groups", h.Admin.SetGroups)
				r.Get("/{memberID}/history", h.Admin.StatusHistory)
			})

			r.Route("/kids", func(r chi.Router) {
				r.Post("/", h.Admin.CreateKid)
				r.Post("/{kidID}/parents", h.Admin.AddSecondaryParent)
				r.Post("/{kidID}/deactivate", h.Admin.DeactivateKid)
				r.Post("/{kidID}/reactivate", h.Admin.ReactivateKid)
			})

			r.Route("/events", func(r chi.Router) {
				r.Post("/", h.Event.CreateEvent)
				r.Route("/{eventID}", func(r chi.Router) {
					r.Put("/", h.Event.UpdateEvent)
					r.Delete("/", h.Event.DeleteEvent)
					r.Post("/cancel", h.Event.CancelEvent)
					r.Get("/attendance", h.Event.ListAttendance)
					r.Post("/attendance", h.Event.AddPastAttendees)
					r.Put("/attendance/{subjectID}/attended", h.Event.SetAttended)
					r.Get("/participation-requests", h.Event.ListParticipationRequests)
				})
			})

			r.Post("/payments/confirm", h.Event.ConfirmPayments)
			r.Post("/participation-requests/{requestID}/approve", h.Event.ApproveParticipation)
			r.Post("/participation-requests/{requestID}/reject", h.Event.RejectParticipation)
		})
	})
}

func healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, map[string]string{"status": "ok"}
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				status, body = http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
