package controller

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/auth"
	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/response"
)

// StatusFor maps a service error onto an HTTP status.
func StatusFor(err error) int {
	var (
		ve *appErrors.ValidationError
		ce *appErrors.ConfigError
		rl *appErrors.RateLimitExceeded
		pe *appErrors.ProviderError
		it *appErrors.InvalidTransition
		ae *appErrors.AuthError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &ce):
		return http.StatusBadRequest
	case errors.As(err, &rl):
		return http.StatusTooManyRequests
	case errors.As(err, &pe):
		return http.StatusFailedDependency
	case appErrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &it), errors.Is(err, appErrors.ErrAlreadyDispatched):
		return http.StatusConflict
	case errors.As(err, &ae):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		response.Error(w, status, "internal error")
		return
	}
	response.Error(w, status, err.Error())
}

// workspace reads the caller's workspace set by the auth middleware.
func workspace(w http.ResponseWriter, r *http.Request) (string, bool) {
	ws, ok := auth.WorkspaceID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "missing workspace")
	}
	return ws, ok
}
