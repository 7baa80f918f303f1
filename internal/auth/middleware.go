package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/response"
)

type contextKey string

const ContextWorkspaceID contextKey = "workspaceID"

func WorkspaceID(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(ContextWorkspaceID).(string)
	return val, ok && val != ""
}

// WithWorkspace returns ctx scoped to a workspace.
func WithWorkspace(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, ContextWorkspaceID, workspaceID)
}

// Require rejects requests without a valid bearer token.
func Require(v *Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				response.Error(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := v.ParseAndValidate(token)
			if err != nil {
				logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
				response.Error(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithWorkspace(r.Context(), claims.WorkspaceID)))
		})
	}
}
