// internal/handler/webhook_handler.go
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/response"
	"github.com/unclebandit/campaign-engine/internal/service"
)

const maxWebhookBody = 1 << 20

type SMSEventProcessor interface {
	HandleEvent(ctx context.Context, webhookID string, raw []byte) (service.WebhookResult, error)
}

type StripeEventProcessor interface {
	HandleStripeEvent(ctx context.Context, payload []byte, signature string) error
}

// WebhookHandler receives provider callbacks. Providers retry on anything
// but 2xx, so acknowledged no-ops answer 200.
type WebhookHandler struct {
	SMS    SMSEventProcessor
	Stripe StripeEventProcessor
	Logger *zap.Logger
}

func (h *WebhookHandler) HandleSMSWebhook(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhookID")
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "unreadable body")
		return
	}

	result, err := h.SMS.HandleEvent(r.Context(), webhookID, raw)
	var (
		dup *appErrors.DuplicateEvent
		ae  *appErrors.AuthError
		ve  *appErrors.ValidationError
	)
	switch {
	case err == nil:
		response.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "result": result})
	case errors.As(err, &dup):
		h.Logger.Info("duplicate webhook event", zap.String("webhook_id", webhookID), zap.String("reason", dup.Reason))
		response.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "result": service.WebhookDuplicate})
	case errors.As(err, &ae), errors.As(err, &ve):
		h.Logger.Warn("webhook rejected", zap.String("webhook_id", webhookID), zap.Error(err))
		response.Error(w, http.StatusBadRequest, err.Error())
	default:
		h.Logger.Error("webhook processing failed", zap.String("webhook_id", webhookID), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "unreadable body")
		return
	}

	err = h.Stripe.HandleStripeEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	var (
		ae *appErrors.AuthError
		ve *appErrors.ValidationError
	)
	switch {
	case err == nil:
		response.JSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.As(err, &ae), errors.As(err, &ve):
		h.Logger.Warn("stripe webhook rejected", zap.Error(err))
		response.Error(w, http.StatusBadRequest, err.Error())
	default:
		h.Logger.Error("stripe webhook failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "internal error")
	}
}
