package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bharath3010/curalink-backend/internal/availability"
	"github.com/bharath3010/curalink-backend/internal/bookings"
	"github.com/bharath3010/curalink-backend/internal/cancellation"
	httpmiddleware "github.com/bharath3010/curalink-backend/internal/http/middleware"
	"github.com/bharath3010/curalink-backend/internal/http/respond"
	"github.com/bharath3010/curalink-backend/internal/payments"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Availability       *availability.Handler
	Bookings           *bookings.Handler
	Cancellation       *cancellation.Handler
	Payments           *payments.Handler
	PayPalWebhook      *payments.WebhookHandler
	DB                 Pinger
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	JWTSecret          string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.DB))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.PayPalWebhook != nil {
			public.Post("/webhooks/paypal", cfg.PayPalWebhook.Handle)
		}
	})

	r.Route("/api", func(api chi.Router) {
		if cfg.RateLimitRPS > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		}
		api.Use(httpmiddleware.Identity(cfg.JWTSecret))

		if cfg.Availability != nil {
			api.Get("/doctors/{doctorID}/availability", cfg.Availability.GetAvailability)
		}
		api.Route("/appointments", func(appts chi.Router) {
			if cfg.Bookings != nil {
				appts.Post("/", cfg.Bookings.CreateAppointment)
				appts.Get("/{id}", cfg.Bookings.GetAppointment)
			}
			if cfg.Cancellation != nil {
				appts.Post("/{id}/cancel", cfg.Cancellation.CancelAppointment)
			}
		})
		if cfg.Payments != nil {
			api.Route("/payments", func(pay chi.Router) {
				pay.Post("/create-order", cfg.Payments.CreateOrder)
				pay.Post("/capture-order", cfg.Payments.CaptureOrder)
			})
		}
	})

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				respond.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "down"})
				return
			}
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
