package donation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	"caredrop/pkg/requestcontext"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	RegisterActor(name string, role requestcontext.Role) uuid.UUID
	CreateAgency(ctx context.Context, name string, rosterNames []string) error
	AgencyID(name string) (string, error)
	EnrollDirectly(ctx context.Context, actorName, agencyName, fullName string) error
	As(actorName, method, path string, body any) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	SaveToken(token string)
	SavedToken() string
}

// RegisterSteps registers campaign, claim, and redemption steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &donationSteps{tc: tc}

	// Setup
	ctx.Step(`^an agency "([^"]*)" with roster "([^"]*)"$`, steps.agencyWithRoster)
	ctx.Step(`^"([^"]*)" is a business$`, steps.isBusiness)
	ctx.Step(`^"([^"]*)" is an admin$`, steps.isAdmin)
	ctx.Step(`^"([^"]*)" is enrolled at "([^"]*)" as "([^"]*)"$`, steps.isEnrolled)

	// Actions
	ctx.Step(`^"([^"]*)" creates a campaign for (\d+) "([^"]*)" at "([^"]*)"$`, steps.createCampaign)
	ctx.Step(`^"([^"]*)" allocates (\d+) more units of the last campaign$`, steps.allocateMore)
	ctx.Step(`^"([^"]*)" signs up at "([^"]*)" as "([^"]*)"$`, steps.signUp)
	ctx.Step(`^"([^"]*)" claims their pending offer$`, steps.claimPendingOffer)
	ctx.Step(`^"([^"]*)" redeems the saved token$`, steps.redeemSavedToken)
	ctx.Step(`^"([^"]*)" redeems token "([^"]*)"$`, steps.redeemToken)

	// Assertions
	ctx.Step(`^"([^"]*)" should have (\d+) pending offers?$`, steps.shouldHavePendingOffers)
	ctx.Step(`^"([^"]*)" should have an active claim$`, steps.shouldHaveActiveClaim)
}

type donationSteps struct {
	tc           TestContext
	lastCampaign string
}

func (s *donationSteps) agencyWithRoster(ctx context.Context, name, roster string) error {
	var names []string
	for _, n := range strings.Split(roster, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return s.tc.CreateAgency(ctx, name, names)
}

func (s *donationSteps) isBusiness(ctx context.Context, name string) error {
	s.tc.RegisterActor(name, requestcontext.RoleBusiness)
	return nil
}

func (s *donationSteps) isAdmin(ctx context.Context, name string) error {
	s.tc.RegisterActor(name, requestcontext.RoleAdmin)
	return nil
}

func (s *donationSteps) isEnrolled(ctx context.Context, actorName, agencyName, fullName string) error {
	return s.tc.EnrollDirectly(ctx, actorName, agencyName, fullName)
}

func (s *donationSteps) createCampaign(ctx context.Context, business string, quantity int, item, agencyName string) error {
	agencyID, err := s.tc.AgencyID(agencyName)
	if err != nil {
		return err
	}
	err = s.tc.As(business, http.MethodPost, "/campaigns", map[string]any{
		"item_name":           item,
		"quantity":            quantity,
		"agency_id":           agencyID,
		"redemption_end_date": time.Now().UTC().AddDate(0, 0, 14).Format("2006-01-02"),
	})
	if err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() == http.StatusCreated {
		campaignID, err := s.tc.GetResponseField("campaign.id")
		if err != nil {
			return err
		}
		s.lastCampaign = fmt.Sprint(campaignID)
	}
	return nil
}

func (s *donationSteps) allocateMore(ctx context.Context, caller string, quantity int) error {
	if s.lastCampaign == "" {
		return errors.New("no campaign was created in this scenario")
	}
	return s.tc.As(caller, http.MethodPost, "/allocate", map[string]any{
		"campaign_id": s.lastCampaign,
		"quantity":    quantity,
	})
}

func (s *donationSteps) signUp(ctx context.Context, actorName, agencyName, fullName string) error {
	agencyID, err := s.tc.AgencyID(agencyName)
	if err != nil {
		return err
	}
	s.tc.RegisterActor(actorName, requestcontext.RoleRecipient)
	return s.tc.As(actorName, http.MethodPost, "/enrollments", map[string]any{
		"agency_id": agencyID,
		"full_name": fullName,
	})
}

func (s *donationSteps) claimPendingOffer(ctx context.Context, recipient string) error {
	pending, err := s.pendingOffers(recipient)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return fmt.Errorf("%s has no pending offer", recipient)
	}
	offer, ok := pending[0].(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected pending entry %v", pending[0])
	}
	if err := s.tc.As(recipient, http.MethodPost, "/claim", map[string]any{"claim_id": offer["id"]}); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() == http.StatusOK {
		token, err := s.tc.GetResponseField("token")
		if err != nil {
			return err
		}
		s.tc.SaveToken(fmt.Sprint(token))
	}
	return nil
}

func (s *donationSteps) redeemSavedToken(ctx context.Context, business string) error {
	if s.tc.SavedToken() == "" {
		return errors.New("no token was saved in this scenario")
	}
	return s.redeemToken(ctx, business, s.tc.SavedToken())
}

func (s *donationSteps) redeemToken(ctx context.Context, business, token string) error {
	return s.tc.As(business, http.MethodPost, "/redeem", map[string]any{"token": token})
}

func (s *donationSteps) shouldHavePendingOffers(ctx context.Context, recipient string, expected int) error {
	pending, err := s.pendingOffers(recipient)
	if err != nil {
		return err
	}
	if len(pending) != expected {
		return fmt.Errorf("expected %d pending offers for %s, got %d", expected, recipient, len(pending))
	}
	return nil
}

func (s *donationSteps) shouldHaveActiveClaim(ctx context.Context, recipient string) error {
	if err := s.tc.As(recipient, http.MethodGet, "/me/claims", nil); err != nil {
		return err
	}
	if _, err := s.tc.GetResponseField("active.id"); err != nil {
		return fmt.Errorf("%s has no active claim: %w", recipient, err)
	}
	return nil
}

func (s *donationSteps) pendingOffers(recipient string) ([]any, error) {
	if err := s.tc.As(recipient, http.MethodGet, "/me/claims", nil); err != nil {
		return nil, err
	}
	if status := s.tc.GetLastResponseStatus(); status != http.StatusOK {
		return nil, fmt.Errorf("listing claims returned %d: %s", status, s.tc.GetLastResponseBody())
	}
	field, err := s.tc.GetResponseField("pending")
	if err != nil {
		return nil, err
	}
	pending, ok := field.([]any)
	if !ok && field != nil {
		return nil, fmt.Errorf("pending is not a list: %T", field)
	}
	return pending, nil
}
