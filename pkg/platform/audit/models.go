package audit

import (
	"time"

	"github.com/google/uuid"

	id "caredrop/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// Sinks can route or retain categories differently.
type EventCategory string

const (
	// CategoryCompliance covers events a sponsor or agency may have to account
	// for later: redemptions, campaign creation, enrollment.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected or throttled redemption attempts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine lifecycle traffic.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID          uuid.UUID      `json:"id"`
	Action      string         `json:"action"`
	Timestamp   time.Time      `json:"timestamp"`
	ClaimID     id.ClaimID     `json:"claim_id,omitzero"`
	CampaignID  id.CampaignID  `json:"campaign_id,omitzero"`
	RecipientID id.RecipientID `json:"recipient_id,omitzero"`
	AgencyID    id.AgencyID    `json:"agency_id,omitzero"`
	// ActorID is the account that caused the event: the sponsoring business,
	// the redeeming business, an admin, or the recipient.
	ActorID   string `json:"actor_id,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Category derives the event category from its action.
func (e Event) Category() EventCategory {
	return AuditEvent(e.Action).Category()
}

// Key is the partitioning key for ordered sinks: events of one claim stay in order.
func (e Event) Key() string {
	switch {
	case !e.ClaimID.IsNil():
		return e.ClaimID.String()
	case !e.CampaignID.IsNil():
		return e.CampaignID.String()
	default:
		return e.ID.String()
	}
}

type AuditEvent string

const (
	// Claim lifecycle events
	EventClaimAllocated AuditEvent = "claim_allocated"
	EventClaimClaimed   AuditEvent = "claim_claimed"
	EventClaimExpired   AuditEvent = "claim_expired"
	EventClaimRedeemed  AuditEvent = "claim_redeemed"

	// Redemption control events
	EventRedemptionRejected  AuditEvent = "redemption_rejected"
	EventRedemptionThrottled AuditEvent = "redemption_throttled"

	// Campaign and enrollment events
	EventCampaignCreated     AuditEvent = "campaign_created"
	EventAllocationRun       AuditEvent = "allocation_run"
	EventRecipientEnrolled   AuditEvent = "recipient_enrolled"
	EventAllocationContended AuditEvent = "allocation_contended"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventClaimRedeemed:     CategoryCompliance,
	EventCampaignCreated:   CategoryCompliance,
	EventRecipientEnrolled: CategoryCompliance,
	EventAllocationRun:     CategoryCompliance,

	EventRedemptionRejected:  CategorySecurity,
	EventRedemptionThrottled: CategorySecurity,

	EventClaimAllocated:      CategoryOperations,
	EventClaimClaimed:        CategoryOperations,
	EventClaimExpired:        CategoryOperations,
	EventAllocationContended: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
