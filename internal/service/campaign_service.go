// internal/service/campaign_service.go
package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logging"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LogRepo      repository.EmailLogRepositoryInterface
	Audience     *AudienceResolver

	DefaultEmailsPerHour int
	Now                  func() time.Time

	log *logrus.Logger
}

func NewCampaignService(campaigns repository.CampaignRepositoryInterface, logs repository.EmailLogRepositoryInterface,
	audience *AudienceResolver, defaultEmailsPerHour int) *CampaignService {
	if defaultEmailsPerHour <= 0 {
		defaultEmailsPerHour = model.DefaultEmailsPerHour
	}
	return &CampaignService{
		CampaignRepo:         campaigns,
		LogRepo:              logs,
		Audience:             audience,
		DefaultEmailsPerHour: defaultEmailsPerHour,
		Now:                  func() time.Time { return time.Now().UTC() },
		log:                  logging.New("campaign-service"),
	}
}

type CreateCampaignInput struct {
	Name            string               `json:"name"`
	Subject         string               `json:"subject"`
	Template        string               `json:"template"`
	TargetAudience  model.TargetAudience `json:"target_audience"`
	CustomEmailList []string             `json:"custom_email_list"`
	EmailsPerHour   int                  `json:"emails_per_hour"`
	ScheduledAt     *time.Time           `json:"scheduled_at"`
	CreatedBy       string               `json:"created_by"`
}

// CampaignDetails is a campaign together with its live stats.
type CampaignDetails struct {
	*model.Campaign
	Stats *model.Stats `json:"stats"`
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	name := strings.TrimSpace(in.Name)
	subject := strings.TrimSpace(in.Subject)
	if name == "" || subject == "" || strings.TrimSpace(in.Template) == "" {
		return nil, appErrors.NewValidation("missing required fields: name, subject, and template are required")
	}
	if utf8.RuneCountInString(in.Template) < model.MinTemplateLength {
		return nil, appErrors.NewValidation("template must be at least %d characters long", model.MinTemplateLength)
	}

	audience := in.TargetAudience
	if audience == "" {
		audience = model.DefaultTargetAudience
	}
	if !audience.Valid() {
		return nil, appErrors.NewValidation("unknown target audience %q", audience)
	}

	emailsPerHour := in.EmailsPerHour
	if emailsPerHour == 0 {
		emailsPerHour = s.DefaultEmailsPerHour
	}
	if emailsPerHour < 0 {
		return nil, appErrors.NewValidation("emails_per_hour must be positive, got %d", emailsPerHour)
	}

	list := pq.StringArray{}
	if audience == model.AudienceCustomList {
		if bad := InvalidAddresses(in.CustomEmailList); len(bad) > 0 {
			return nil, appErrors.NewValidation("invalid email addresses in custom list: %s", strings.Join(bad, ", "))
		}
		for _, e := range in.CustomEmailList {
			list = append(list, strings.TrimSpace(e))
		}
		if len(list) == 0 {
			return nil, appErrors.NewValidation("custom_list audience requires a non-empty custom_email_list")
		}
	}

	c := &model.Campaign{
		ID:              uuid.NewString(),
		Name:            name,
		Subject:         subject,
		Template:        in.Template,
		Status:          model.CampaignDraft,
		TargetAudience:  audience,
		CustomEmailList: list,
		EmailsPerHour:   emailsPerHour,
		ScheduledAt:     in.ScheduledAt,
		CreatedBy:       in.CreatedBy,
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}

	s.log.WithField("campaign_id", c.ID).WithField("name", c.Name).Info("campaign created")
	return c, nil
}

// StartCampaign activates a draft or paused campaign. The audience is resolved and its email logs are
// written only the first time; a campaign that was already resolved keeps its rows and total.
func (s *CampaignService) StartCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !startTransition.allows(c.Status) {
		return nil, appErrors.NewConflict("cannot start campaign in status %s", c.Status)
	}

	if c.ResolvedAt == nil {
		recipients, err := s.Audience.Resolve(ctx, c.TargetAudience, c.CustomEmailList)
		if err != nil {
			return nil, err
		}
		total, err := s.LogRepo.Materialize(ctx, id, recipients, s.Now())
		if err != nil {
			return nil, err
		}
		s.log.WithField("campaign_id", id).WithField("total_emails", total).Info("audience resolved")
	}

	return s.transition(ctx, id, startTransition)
}

func (s *CampaignService) PauseCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	return s.transition(ctx, id, pauseTransition)
}

func (s *CampaignService) ResumeCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	return s.transition(ctx, id, resumeTransition)
}

// CancelCampaign stops a campaign for good. Rows still pending stay as they are.
func (s *CampaignService) CancelCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	return s.transition(ctx, id, cancelTransition)
}

func (s *CampaignService) transition(ctx context.Context, id string, t transition) (*model.Campaign, error) {
	c, err := s.CampaignRepo.UpdateStatus(ctx, id, repository.StatusChange{From: t.from, To: t.to, At: s.Now()})
	if err != nil {
		if appErrors.KindOf(err) == appErrors.KindConflict {
			s.log.WithField("campaign_id", id).WithField("op", t.name).Debug(err)
		}
		return nil, err
	}
	s.log.WithField("campaign_id", id).WithField("status", c.Status).Infof("campaign %s", t.name)
	return c, nil
}

func (s *CampaignService) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	return s.CampaignRepo.GetByID(ctx, id)
}

func (s *CampaignService) GetCampaignDetails(ctx context.Context, id string) (*CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.LogRepo.CountByStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: c, Stats: buildStats(c, counts)}, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if status != "" && !model.CampaignStatus(status).Valid() {
		return nil, nil, appErrors.NewValidation("unknown status filter %q", status)
	}
	page, pageSize, offset := paginate(page, pageSize)

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}
	return campaigns, pagination(page, pageSize, total), nil
}

// GetCampaignRecipients pages through the email logs in resolution order.
func (s *CampaignService) GetCampaignRecipients(ctx context.Context, id string, page, pageSize int) ([]model.EmailLog, map[string]int, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, id); err != nil {
		return nil, nil, err
	}
	page, pageSize, offset := paginate(page, pageSize)

	ptrs, total, err := s.LogRepo.ListByCampaign(ctx, id, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}

	logs := make([]model.EmailLog, len(ptrs))
	for i, l := range ptrs {
		logs[i] = *l
	}
	return logs, pagination(page, pageSize, total), nil
}

func paginate(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize, (page - 1) * pageSize
}

func pagination(page, pageSize, total int) map[string]int {
	return map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
}
