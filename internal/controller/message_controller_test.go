package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/controller"
	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/service"
)

type MockMessageService struct {
	msg *model.Message
	err error
	got service.SendRequest
}

func (m *MockMessageService) Send(_ context.Context, req service.SendRequest) (*model.Message, error) {
	m.got = req
	return m.msg, m.err
}

func (m *MockMessageService) Resend(_ context.Context, _, _ string) (*model.Message, error) {
	return m.msg, m.err
}

func messageRouter(svc controller.MessageService) http.Handler {
	ctrl := &controller.MessageController{Messages: svc, Logger: zap.NewNop()}
	r := chi.NewRouter()
	r.Use(withWorkspace("ws_1"))
	r.Post("/messages", ctrl.Send)
	r.Post("/messages/{id}/resend", ctrl.Resend)
	return r
}

func TestSendMessageStatusCodes(t *testing.T) {
	stored := &model.Message{ID: "msg_1"}
	cases := []struct {
		name   string
		msg    *model.Message
		err    error
		status int
	}{
		{"ok", stored, nil, http.StatusOK},
		{"validation", nil, appErrors.NewValidationError("recipient", "invalid phone number"), http.StatusBadRequest},
		{"config", nil, appErrors.NewConfigError("ws_1", "no active sender"), http.StatusBadRequest},
		{"rate limit", nil, appErrors.NewRateLimitExceeded("snd_1", "2024-05-01", 50), http.StatusTooManyRequests},
		{"provider", stored, appErrors.NewProviderError("smrtphone", 422, "bad number"), http.StatusFailedDependency},
		{"unexpected", nil, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		svc := &MockMessageService{msg: tc.msg, err: tc.err}
		w := do(messageRouter(svc), "POST", "/messages", map[string]string{"contact_id": "ctc_1", "body": "hi", "recipient": "+15550001111"})
		if w.Code != tc.status {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.status, w.Code)
		}
		var body struct {
			Success   bool   `json:"success"`
			MessageID string `json:"message_id"`
		}
		json.NewDecoder(w.Body).Decode(&body)
		if body.Success != (tc.err == nil) {
			t.Errorf("%s: unexpected success flag", tc.name)
		}
		if tc.msg != nil && body.MessageID != "msg_1" {
			t.Errorf("%s: expected message id in body", tc.name)
		}
		if svc.got.WorkspaceID != "ws_1" || svc.got.CampaignID != nil {
			t.Errorf("%s: request not scoped to caller: %+v", tc.name, svc.got)
		}
	}
}

func TestResendNotFound(t *testing.T) {
	w := do(messageRouter(&MockMessageService{err: appErrors.NewNotFound("message", "msg_x")}), "POST", "/messages/msg_x/resend", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
