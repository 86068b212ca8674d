package service

import (
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type transition struct {
	name string
	from []model.CampaignStatus
	to   model.CampaignStatus
}

var (
	startTransition = transition{"start",
		[]model.CampaignStatus{model.CampaignDraft, model.CampaignPaused}, model.CampaignActive}
	pauseTransition = transition{"pause",
		[]model.CampaignStatus{model.CampaignActive}, model.CampaignPaused}
	resumeTransition = transition{"resume",
		[]model.CampaignStatus{model.CampaignPaused}, model.CampaignActive}
	cancelTransition = transition{"cancel",
		[]model.CampaignStatus{model.CampaignDraft, model.CampaignActive, model.CampaignPaused}, model.CampaignCancelled}
	completeTransition = transition{"complete",
		[]model.CampaignStatus{model.CampaignActive}, model.CampaignCompleted}
)

func (t transition) allows(s model.CampaignStatus) bool {
	for _, f := range t.from {
		if f == s {
			return true
		}
	}
	return false
}

// CanTransition reports whether any lifecycle operation moves a campaign from one status to another.
func CanTransition(from, to model.CampaignStatus) bool {
	for _, t := range []transition{startTransition, pauseTransition, resumeTransition, cancelTransition, completeTransition} {
		if t.to == to && t.allows(from) {
			return true
		}
	}
	return false
}
