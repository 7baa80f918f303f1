package controller

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/response"
	"github.com/unclebandit/campaign-engine/internal/service"
)

type MessageService interface {
	Send(ctx context.Context, req service.SendRequest) (*model.Message, error)
	Resend(ctx context.Context, workspaceID, messageID string) (*model.Message, error)
}

type MessageController struct {
	Messages MessageService
	Logger   *zap.Logger
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (c *MessageController) Send(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	var req service.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.WorkspaceID = ws
	req.CampaignID = nil

	msg, err := c.Messages.Send(r.Context(), req)
	c.reply(w, msg, err)
}

func (c *MessageController) Resend(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	msg, err := c.Messages.Resend(r.Context(), ws, chi.URLParam(r, "id"))
	c.reply(w, msg, err)
}

// reply keeps the stored message id visible when the provider rejected the send.
func (c *MessageController) reply(w http.ResponseWriter, msg *model.Message, err error) {
	if err == nil {
		response.JSON(w, http.StatusOK, sendResponse{Success: true, MessageID: msg.ID})
		return
	}
	status := StatusFor(err)
	if status == http.StatusInternalServerError || msg == nil {
		writeError(w, c.Logger, err)
		return
	}
	response.JSON(w, status, sendResponse{Success: false, MessageID: msg.ID, Error: err.Error()})
}
