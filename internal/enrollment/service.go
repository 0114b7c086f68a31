// Package enrollment links a signed-in account to an agency roster entry,
// turning it into a recipient profile.
//
// Enrollment does not allocate anything itself. After the profile is stored
// it calls the post-enrollment hook, which may give the new recipient a
// pending claim from an open campaign of their agency.
package enrollment

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"caredrop/internal/donation/models"
	id "caredrop/pkg/domain"
	dErrors "caredrop/pkg/domain-errors"
	audit "caredrop/pkg/platform/audit"
	"caredrop/pkg/platform/sentinel"
	"caredrop/pkg/requestcontext"
)

type Store interface {
	FindAgency(ctx context.Context, agencyID id.AgencyID) (*models.Agency, error)
	FindRosterEntry(ctx context.Context, agencyID id.AgencyID, fullName string) (*models.RosterEntry, error)
	FindRecipient(ctx context.Context, recipientID id.RecipientID) (*models.Recipient, error)
	CreateRecipient(ctx context.Context, recipient *models.Recipient) error
}

// Hook runs after a recipient profile is created.
type Hook interface {
	OnRecipientEnrolled(ctx context.Context, recipientID id.RecipientID, agencyID id.AgencyID) (*models.Claim, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Result is the outcome of a successful enrollment.
type Result struct {
	Recipient *models.Recipient `json:"recipient"`
	// Claim is the pending claim handed out by the hook, if any.
	Claim *models.Claim `json:"claim,omitempty"`
}

type Service struct {
	store          Store
	hook           Hook
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

// WithHook installs the post-enrollment hook.
func WithHook(hook Hook) Option {
	return func(s *Service) {
		s.hook = hook
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enroll verifies the caller against the agency roster and creates their
// recipient profile. The name match ignores case and surrounding or repeated
// whitespace.
func (s *Service) Enroll(ctx context.Context, accountID id.RecipientID, req models.EnrollRequest) (*Result, error) {
	if accountID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "account is required")
	}
	agencyID, err := id.ParseAgencyID(strings.TrimSpace(req.AgencyID))
	if err != nil {
		return nil, err
	}
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "full_name is required")
	}

	if _, err := s.store.FindAgency(ctx, agencyID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "agency not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load agency")
	}
	if _, err := s.store.FindRecipient(ctx, accountID); err == nil {
		return nil, dErrors.New(dErrors.CodeConflict, "account is already enrolled")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load recipient")
	}

	entry, err := s.store.FindRosterEntry(ctx, agencyID, fullName)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "name not found on the agency roster")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up roster")
	}

	recipient, err := models.NewRecipient(accountID, *entry, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateRecipient(ctx, recipient); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "this roster entry is already enrolled")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save recipient")
	}
	s.logAudit(ctx, recipient)

	result := &Result{Recipient: recipient}
	if s.hook == nil {
		return result, nil
	}
	claim, err := s.hook.OnRecipientEnrolled(ctx, recipient.ID, recipient.AgencyID)
	if err != nil {
		// The profile stands; the hook can be re-run by an admin.
		s.logger.WarnContext(ctx, "post-enrollment hook failed",
			"recipient_id", recipient.ID.String(),
			"error", err,
		)
		return result, nil
	}
	result.Claim = claim
	return result, nil
}

func (s *Service) logAudit(ctx context.Context, recipient *models.Recipient) {
	requestID := requestcontext.RequestID(ctx)
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(audit.EventRecipientEnrolled),
			"event", string(audit.EventRecipientEnrolled),
			"log_type", "audit",
			"recipient_id", recipient.ID.String(),
			"agency_id", recipient.AgencyID.String(),
			"request_id", requestID,
		)
	}
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:      string(audit.EventRecipientEnrolled),
		RecipientID: recipient.ID,
		AgencyID:    recipient.AgencyID,
		ActorID:     recipient.ID.String(),
		RequestID:   requestID,
	})
	if err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "event", string(audit.EventRecipientEnrolled), "error", err)
	}
}
