// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/response"
	"github.com/unclebandit/campaign-engine/internal/service"
)

type CampaignService interface {
	CreateCampaign(ctx context.Context, workspaceID string, in service.CreateCampaignInput) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, workspaceID string, page, pageSize int, status string) ([]model.Campaign, map[string]int, error)
	GetCampaignDetails(ctx context.Context, workspaceID, id string) (*service.CampaignDetails, error)
	RenderPreview(ctx context.Context, workspaceID, campaignID, contactID string, overrideTemplate *string) (string, error)
	Start(ctx context.Context, workspaceID, id string) (*model.Campaign, error)
	Pause(ctx context.Context, workspaceID, id string) (*model.Campaign, error)
	Resume(ctx context.Context, workspaceID, id string) (*model.Campaign, error)
	Cancel(ctx context.Context, workspaceID, id string) (*model.Campaign, error)
}

type CampaignController struct {
	CampaignService CampaignService
	Logger          *zap.Logger
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	campaignID := chi.URLParam(r, "id")

	var body struct {
		ContactID        string  `json:"contact_id"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid body")
		return
	}

	rendered, err := c.CampaignService.RenderPreview(r.Context(), ws, campaignID, body.ContactID, body.OverrideTemplate)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"rendered_message": rendered,
		"used_template":    body.OverrideTemplate,
		"contact_id":       body.ContactID,
	})
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	var body service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid body")
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), ws, body)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	response.JSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	// Parse query parameters
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), ws, page, pageSize, status)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination, // page, page_size, total_count, total_pages
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	details, err := c.CampaignService.GetCampaignDetails(r.Context(), ws, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	response.JSON(w, http.StatusOK, details)
}

func (c *CampaignController) Start(w http.ResponseWriter, r *http.Request) {
	c.command(w, r, c.CampaignService.Start)
}

func (c *CampaignController) Pause(w http.ResponseWriter, r *http.Request) {
	c.command(w, r, c.CampaignService.Pause)
}

func (c *CampaignController) Resume(w http.ResponseWriter, r *http.Request) {
	c.command(w, r, c.CampaignService.Resume)
}

func (c *CampaignController) Cancel(w http.ResponseWriter, r *http.Request) {
	c.command(w, r, c.CampaignService.Cancel)
}

type campaignCommand func(ctx context.Context, workspaceID, id string) (*model.Campaign, error)

func (c *CampaignController) command(w http.ResponseWriter, r *http.Request, cmd campaignCommand) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	campaign, err := cmd(r.Context(), ws, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	response.JSON(w, http.StatusOK, campaign)
}
