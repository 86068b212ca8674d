// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Dispatcher      service.BatchDispatcher
}

func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns", c.ListCampaigns)
	r.Get("/campaigns/{id}", c.GetCampaignDetails)
	r.Post("/campaigns/{id}/start", c.transition(c.CampaignService.StartCampaign))
	r.Post("/campaigns/{id}/pause", c.transition(c.CampaignService.PauseCampaign))
	r.Post("/campaigns/{id}/resume", c.transition(c.CampaignService.ResumeCampaign))
	r.Post("/campaigns/{id}/cancel", c.transition(c.CampaignService.CancelCampaign))
	r.Post("/campaigns/{id}/dispatch", c.DispatchNextBatch)
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CreateCampaignInput
	if err := handler.Decode(r, &body); err != nil {
		handler.Error(w, r, err)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), body)
	if err != nil {
		handler.Error(w, r, err)
		return
	}
	handler.JSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(),
		handler.QueryInt(r, "page"), handler.QueryInt(r, "page_size"), r.URL.Query().Get("status"))
	if err != nil {
		handler.Error(w, r, err)
		return
	}

	handler.JSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination, // already contains total_count, total_pages, page, page_size
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	details, err := c.CampaignService.GetCampaignDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.Error(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, details)
}

func (c *CampaignController) transition(op func(ctx context.Context, id string) (*model.Campaign, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaign, err := op(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handler.Error(w, r, err)
			return
		}
		handler.JSON(w, http.StatusOK, campaign)
	}
}

// DispatchNextBatch runs one tick for the campaign. It lets an external cron drive dispatch over HTTP.
func (c *CampaignController) DispatchNextBatch(w http.ResponseWriter, r *http.Request) {
	result, err := c.Dispatcher.DispatchNextBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.Error(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, result)
}
