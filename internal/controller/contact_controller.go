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

type ContactService interface {
	GetDetails(ctx context.Context, workspaceID, contactID string) (*service.ContactDetails, error)
	SetPrimaryPhone(ctx context.Context, workspaceID, contactID, number string) (*model.Contact, error)
}

type ContactController struct {
	Contacts ContactService
	Logger   *zap.Logger
}

func (c *ContactController) GetDetails(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	details, err := c.Contacts.GetDetails(r.Context(), ws, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	response.JSON(w, http.StatusOK, details)
}

func (c *ContactController) SetPrimaryPhone(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	var body struct {
		Number string `json:"number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid body")
		return
	}
	contact, err := c.Contacts.SetPrimaryPhone(r.Context(), ws, chi.URLParam(r, "id"), body.Number)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	response.JSON(w, http.StatusOK, contact)
}
