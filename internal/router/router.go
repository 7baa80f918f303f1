// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/auth"
	"github.com/unclebandit/campaign-engine/internal/controller"
	"github.com/unclebandit/campaign-engine/internal/handler"
)

type Handlers struct {
	Campaigns *controller.CampaignController
	Messages  *controller.MessageController
	Contacts  *controller.ContactController
	Webhooks  *handler.WebhookHandler
	Verifier  *auth.Verifier
	// Ready reports dependency health for /healthz; nil means always ready.
	Ready func() error
}

func SetupRoutes(h Handlers, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature", "X-Auth-smrtPhone"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if h.Ready != nil {
			if err := h.Ready(); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Provider callbacks authenticate by webhook id or signature, not bearer token.
	r.Route("/webhooks", func(r chi.Router) {
		r.Options("/sms/{webhookID}", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Post("/sms/{webhookID}", h.Webhooks.HandleSMSWebhook)
		r.Post("/stripe", h.Webhooks.HandleStripeWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Require(h.Verifier, logger))

		r.Post("/messages", h.Messages.Send)
		r.Post("/messages/{id}/resend", h.Messages.Resend)

		r.Get("/contacts/{id}", h.Contacts.GetDetails)
		r.Post("/contacts/{id}/primary-phone", h.Contacts.SetPrimaryPhone)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.Campaigns.CreateCampaign)
			r.Get("/", h.Campaigns.ListCampaigns)
			r.Get("/{id}", h.Campaigns.GetCampaignDetails)
			r.Post("/{id}/start", h.Campaigns.Start)
			r.Post("/{id}/pause", h.Campaigns.Pause)
			r.Post("/{id}/resume", h.Campaigns.Resume)
			r.Post("/{id}/cancel", h.Campaigns.Cancel)
			r.Post("/{id}/preview", h.Campaigns.PersonalizedPreview)
		})
	})

	return r
}

func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
