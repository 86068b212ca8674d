// internal/handler/campaign_handler.go
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// CampaignHandler serves the read-only progress endpoints.
type CampaignHandler struct {
	Service *service.CampaignService
}

func NewCampaignHandler(svc *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{Service: svc}
}

func (h *CampaignHandler) Routes(r chi.Router) {
	r.Post("/campaigns/estimate", h.EstimateHandler)
	r.Get("/campaigns/{id}/stats", h.GetCampaignStatsHandler)
	r.Get("/campaigns/{id}/recipients", h.ListRecipientsHandler)
}

func (h *CampaignHandler) GetCampaignStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.GetCampaignStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}

// ListRecipientsHandler returns one page of email logs in resolution order.
func (h *CampaignHandler) ListRecipientsHandler(w http.ResponseWriter, r *http.Request) {
	logs, pagination, err := h.Service.GetCampaignRecipients(r.Context(), chi.URLParam(r, "id"),
		QueryInt(r, "page"), QueryInt(r, "page_size"))
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"data":       logs,
		"pagination": pagination,
	})
}

type estimateRequest struct {
	TargetAudience  model.TargetAudience `json:"target_audience"`
	CustomEmailList []string             `json:"custom_email_list"`
	EmailsPerHour   int                  `json:"emails_per_hour"`
}

// EstimateHandler is a dry run of audience resolution; nothing is written.
func (h *CampaignHandler) EstimateHandler(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := Decode(r, &req); err != nil {
		Error(w, r, err)
		return
	}
	est, err := h.Service.Estimate(r.Context(), req.TargetAudience, req.CustomEmailList, req.EmailsPerHour)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, est)
}
