package http

import (
	"net/http"

	"github.com/fintrack-api/internal/application/analytics"
	"github.com/fintrack-api/internal/application/notification"
	"github.com/fintrack-api/internal/application/preference"
	templateapp "github.com/fintrack-api/internal/application/template"
	"github.com/fintrack-api/internal/config"
	"github.com/fintrack-api/internal/domain"
	"github.com/fintrack-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/fintrack-api/internal/infrastructure/jwt"
	s3infra "github.com/fintrack-api/internal/infrastructure/s3"
	"github.com/fintrack-api/internal/infrastructure/sns"
	"github.com/fintrack-api/internal/transport/http/handler"
	appmiddleware "github.com/fintrack-api/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	UserRepo        *dynamo.UserRepo
	EventRepo       *dynamo.EventRepo
	QueueRepo       *dynamo.QueueRepo
	DeliveryLogRepo *dynamo.DeliveryLogRepo
	PreferenceRepo  *dynamo.PreferenceRepo
	TemplateRepo    *dynamo.TemplateRepo
	S3Store         *s3infra.Store
	SMSSender       sns.SMSSender
	JWTProvider     *jwtinfra.Provider
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = func(next http.Handler) http.Handler { return next }
	}

	// 5 requests/second, burst of 10 — applied to sensitive public endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	prefSvc := preference.NewService(preference.ServiceDeps{
		PreferenceRepo:    deps.PreferenceRepo,
		UserRepo:          deps.UserRepo,
		UnsubscribeSecret: cfg.UnsubscribeSecret,
	})
	notifSvc := notification.NewService(notification.ServiceDeps{
		EventRepo:    deps.EventRepo,
		QueueRepo:    deps.QueueRepo,
		Preferences:  prefSvc,
		UserRepo:     deps.UserRepo,
		TemplateRepo: deps.TemplateRepo,
		SMSSender:    deps.SMSSender,
		Defaults: notification.Defaults{
			BaseURL:           cfg.AppBaseURL,
			SupportEmail:      cfg.SupportEmail,
			CompanyName:       cfg.CompanyName,
			UnsubscribeSecret: cfg.UnsubscribeSecret,
		},
	})
	templateSvc := templateapp.NewService(templateapp.ServiceDeps{
		TemplateRepo: deps.TemplateRepo,
	})
	analyticsDeps := analytics.ServiceDeps{DeliveryLogRepo: deps.DeliveryLogRepo}
	if deps.S3Store != nil {
		analyticsDeps.ReportStore = deps.S3Store
	}
	analyticsSvc := analytics.NewService(analyticsDeps)

	healthH := handler.NewHealthHandler()
	notifH := handler.NewNotificationHandler(notifSvc)
	prefH := handler.NewPreferenceHandler(prefSvc)
	unsubH := handler.NewUnsubscribeHandler(prefSvc)
	templateH := handler.NewTemplateHandler(templateSvc)
	trackingH := handler.NewTrackingHandler(analyticsSvc)
	analyticsH := handler.NewAnalyticsHandler(analyticsSvc)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)
		r.Get("/test", healthH.Test)
		r.Post("/test", healthH.Test)

		// Referenced from email bodies: pixel, redirect and one-click
		// unsubscribe. The signed token is the only credential.
		r.Get("/t/open/{id}", trackingH.Open)
		r.Get("/t/click/{id}", trackingH.Click)
		r.With(sensitiveRL.Limit).Get("/unsubscribe/{token}", unsubH.Unsubscribe)
		r.With(sensitiveRL.Limit).Post("/unsubscribe/{token}", unsubH.Unsubscribe)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Post("/notifications", notifH.Trigger)
			r.Get("/notifications/queue", notifH.ListQueue)
			r.Delete("/notifications/queue/{id}", notifH.Cancel)
			r.Get("/notifications/history", analyticsH.History)
			r.Get("/preferences", prefH.Get)
			r.Put("/preferences", prefH.Update)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

				r.Get("/templates", templateH.List)
				r.Post("/templates", templateH.Create)
				r.Get("/templates/{id}", templateH.Get)
				r.Put("/templates/{id}", templateH.Update)
				r.Delete("/templates/{id}", templateH.Delete)
				r.Post("/templates/{id}/preview", templateH.Preview)

				r.Get("/analytics/summary", analyticsH.Summary)
				r.Post("/analytics/export", analyticsH.Export)
			})
		})
	})

	return r
}
