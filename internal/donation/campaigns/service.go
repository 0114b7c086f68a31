// Package campaigns lets businesses publish donation campaigns and follow
// their progress.
package campaigns

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"caredrop/internal/donation/models"
	id "caredrop/pkg/domain"
	dErrors "caredrop/pkg/domain-errors"
	audit "caredrop/pkg/platform/audit"
	"caredrop/pkg/platform/sentinel"
	"caredrop/pkg/requestcontext"
)

type Store interface {
	FindAgency(ctx context.Context, agencyID id.AgencyID) (*models.Agency, error)
	CreateCampaign(ctx context.Context, campaign *models.Campaign) error
	ListCampaignsByBusiness(ctx context.Context, businessID id.BusinessID) ([]*models.Campaign, error)
	CountClaimsByCampaign(ctx context.Context, campaignIDs []id.CampaignID) (map[id.CampaignID]models.ClaimCounts, error)
}

// Allocator runs the initial distribution of a new campaign.
type Allocator interface {
	Allocate(ctx context.Context, caller requestcontext.Principal, cmd models.AllocateCommand) (*models.AllocationResult, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store          Store
	allocator      Allocator
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func New(store Store, allocator Allocator, opts ...Option) *Service {
	s := &Service{
		store:     store,
		allocator: allocator,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create publishes a campaign for the calling business and immediately
// allocates its full quantity.
//
// The campaign is persisted before allocation runs. If allocation then fails
// the campaign is still returned with nothing distributed; the business can
// retry through an explicit allocation.
func (s *Service) Create(ctx context.Context, business requestcontext.Principal, cmd models.CreateCampaignCommand) (*models.Campaign, int, error) {
	if business.Role != requestcontext.RoleBusiness {
		return nil, 0, dErrors.New(dErrors.CodeForbidden, "only businesses can create campaigns")
	}
	if cmd.AgencyID != nil {
		if _, err := s.store.FindAgency(ctx, *cmd.AgencyID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, 0, dErrors.New(dErrors.CodeNotFound, "agency not found")
			}
			return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load agency")
		}
	}

	now := requestcontext.Now(ctx)
	campaign, err := models.NewCampaign(
		id.CampaignID(uuid.New()),
		id.BusinessID(business.UserID),
		business.Name,
		cmd.ItemName,
		cmd.Quantity,
		cmd.AgencyID,
		cmd.RedemptionEndDate,
		now,
	)
	if err != nil {
		if de, ok := dErrors.As(err); ok {
			return nil, 0, dErrors.New(dErrors.CodeValidation, de.Message)
		}
		return nil, 0, err
	}
	if err := s.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save campaign")
	}
	s.logAudit(ctx, audit.Event{
		Action:     string(audit.EventCampaignCreated),
		CampaignID: campaign.ID,
		ActorID:    business.UserID.String(),
		Quantity:   campaign.Quantity,
	})

	result, err := s.allocator.Allocate(ctx, business, models.AllocateCommand{
		CampaignID: campaign.ID,
		Quantity:   campaign.Quantity,
	})
	if err != nil {
		distributed := 0
		if result != nil {
			distributed = result.Distributed
		}
		s.logger.WarnContext(ctx, "initial allocation failed",
			"campaign_id", campaign.ID.String(),
			"distributed", distributed,
			"code", string(dErrors.CodeOf(err)),
			"error", err,
		)
		return campaign, distributed, nil
	}
	return campaign, result.Distributed, nil
}

// ListForBusiness returns the business's campaigns, newest first, with their
// claim progress.
func (s *Service) ListForBusiness(ctx context.Context, businessID id.BusinessID) ([]models.CampaignSummary, error) {
	campaigns, err := s.store.ListCampaignsByBusiness(ctx, businessID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list campaigns")
	}
	if len(campaigns) == 0 {
		return []models.CampaignSummary{}, nil
	}

	ids := make([]id.CampaignID, len(campaigns))
	for i, campaign := range campaigns {
		ids[i] = campaign.ID
	}
	counts, err := s.store.CountClaimsByCampaign(ctx, ids)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count claims")
	}

	out := make([]models.CampaignSummary, len(campaigns))
	for i, campaign := range campaigns {
		out[i] = models.CampaignSummary{Campaign: *campaign, Counts: counts[campaign.ID]}
	}
	return out, nil
}

func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	event.RequestID = requestcontext.RequestID(ctx)
	args := []any{"event", event.Action, "log_type", "audit", "campaign_id", event.CampaignID.String()}
	if event.RequestID != "" {
		args = append(args, "request_id", event.RequestID)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, event.Action, args...)
	}
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
