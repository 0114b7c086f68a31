package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"caredrop/internal/donation/handler/mocks"
	"caredrop/internal/donation/models"
	"caredrop/internal/enrollment"
	jwttoken "caredrop/internal/jwt_token"
	id "caredrop/pkg/domain"
	dErrors "caredrop/pkg/domain-errors"
	"caredrop/pkg/requestcontext"
	"caredrop/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks AllocationService,LifecycleService,RedemptionService,CampaignService,EnrollmentService
type HandlerSuite struct {
	suite.Suite
	router     http.Handler
	jwt        *jwttoken.JWTService
	allocation *mocks.MockAllocationService
	lifecycle  *mocks.MockLifecycleService
	redemption *mocks.MockRedemptionService
	campaigns  *mocks.MockCampaignService
	enrollment *mocks.MockEnrollmentService
	now        time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.allocation = mocks.NewMockAllocationService(ctrl)
	s.lifecycle = mocks.NewMockLifecycleService(ctrl)
	s.redemption = mocks.NewMockRedemptionService(ctrl)
	s.campaigns = mocks.NewMockCampaignService(ctrl)
	s.enrollment = mocks.NewMockEnrollmentService(ctrl)
	s.jwt = jwttoken.NewJWTService("test-signing-key", "caredrop-test")
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(Services{
		Allocation: s.allocation,
		Lifecycle:  s.lifecycle,
		Redemption: s.redemption,
		Campaigns:  s.campaigns,
		Enrollment: s.enrollment,
	}, logger, nil, jwttoken.NewJWTServiceAdapter(s.jwt))
	r := chi.NewRouter()
	h.Register(r)
	s.router = r
}

type caller struct {
	ID   uuid.UUID
	Role requestcontext.Role
}

func (s *HandlerSuite) token(c caller) string {
	token, err := s.jwt.GenerateAccessToken(c.ID, string(c.Role), "Corner Deli", time.Hour)
	s.Require().NoError(err)
	return token
}

func (s *HandlerSuite) newCaller(role requestcontext.Role) caller {
	return caller{ID: uuid.New(), Role: role}
}

func (s *HandlerSuite) do(c *caller, method, path string, body any) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = testutil.NewJSONRequest(s.T(), method, path, body)
	} else {
		req = testutil.NewRequest(s.T(), method, path)
	}
	if c != nil {
		testutil.WithBearer(req, s.token(*c))
	}
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) TestAuthentication() {
	s.Run("missing token", func() {
		resp := s.do(nil, http.MethodPost, "/allocate", map[string]any{"campaign_id": uuid.NewString(), "quantity": 1})
		testutil.AssertStatusAndError(s.T(), resp, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("wrong role", func() {
		recipient := s.newCaller(requestcontext.RoleRecipient)
		resp := s.do(&recipient, http.MethodPost, "/allocate", map[string]any{"campaign_id": uuid.NewString(), "quantity": 1})
		testutil.AssertStatusAndError(s.T(), resp, http.StatusForbidden, "forbidden")
	})

	s.Run("admin routes are admin only", func() {
		business := s.newCaller(requestcontext.RoleBusiness)
		resp := s.do(&business, http.MethodPost, "/admin/claims/expire", nil)
		testutil.AssertStatusAndError(s.T(), resp, http.StatusForbidden, "forbidden")
	})
}

func (s *HandlerSuite) TestAllocate() {
	business := s.newCaller(requestcontext.RoleBusiness)
	campaignID := id.CampaignID(uuid.New())
	agencyID := id.AgencyID(uuid.New())

	s.Run("success", func() {
		s.allocation.EXPECT().Allocate(gomock.Any(), gomock.Any(), models.AllocateCommand{CampaignID: campaignID, Quantity: 5}).
			DoAndReturn(func(_ any, p requestcontext.Principal, _ models.AllocateCommand) (*models.AllocationResult, error) {
				s.Equal(business.ID, p.UserID)
				s.Equal(requestcontext.RoleBusiness, p.Role)
				return &models.AllocationResult{
					CampaignID:  campaignID,
					Distributed: 4,
					Agencies:    []models.AgencyAllocation{{AgencyID: agencyID, Share: 5, Created: 4}},
				}, nil
			})

		resp := s.do(&business, http.MethodPost, "/allocate", map[string]any{
			"campaign_id": campaignID.String(), "agency_id": nil, "quantity": 5,
		})
		testutil.AssertStatusOK(s.T(), resp)
		body := testutil.UnmarshalResponse[models.AllocateResponse](s.T(), resp)
		s.Equal(4, body.Distributed)
		s.Require().Len(body.Agencies, 1)
		s.Equal(agencyID, body.Agencies[0].AgencyID)
	})

	s.Run("malformed body", func() {
		req := testutil.WithBearer(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/allocate", "{not json"), s.token(business))
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("non-positive quantity", func() {
		resp := s.do(&business, http.MethodPost, "/allocate", map[string]any{"campaign_id": campaignID.String(), "quantity": 0})
		testutil.AssertStatusAndError(s.T(), resp, http.StatusBadRequest, "validation_error")
	})

	s.Run("allocation in progress", func() {
		s.allocation.EXPECT().Allocate(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "allocation already in progress"))
		resp := s.do(&business, http.MethodPost, "/allocate", map[string]any{"campaign_id": campaignID.String(), "quantity": 1})
		testutil.AssertStatusAndError(s.T(), resp, http.StatusConflict, "conflict")
	})

	s.Run("internal errors hide their description", func() {
		s.allocation.EXPECT().Allocate(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInternal, "pq: deadlock detected"))
		resp := s.do(&business, http.MethodPost, "/allocate", map[string]any{"campaign_id": campaignID.String(), "quantity": 1})
		testutil.AssertStatusAndError(s.T(), resp, http.StatusInternalServerError, "internal_error")
		testutil.AssertErrorHidden(s.T(), resp)
		s.NotContains(resp.Body.String(), "deadlock")
	})
}

func (s *HandlerSuite) TestClaim() {
	recipient := s.newCaller(requestcontext.RoleRecipient)
	claimID := id.ClaimID(uuid.New())

	s.Run("success", func() {
		s.lifecycle.EXPECT().Claim(gomock.Any(), claimID, id.RecipientID(recipient.ID)).Return(&models.ClaimResult{
			ClaimID:   claimID,
			Token:     "opaque-token",
			ClaimedAt: s.now,
			RedeemBy:  s.now.Add(models.RedemptionWindow),
		}, nil)

		resp := s.do(&recipient, http.MethodPost, "/claim", models.ClaimRequest{ClaimID: claimID.String()})
		testutil.AssertStatusOK(s.T(), resp)
		body := testutil.UnmarshalResponse[models.ClaimResult](s.T(), resp)
		s.Equal(claimID, body.ClaimID)
		s.Equal("opaque-token", body.Token)
		s.True(body.RedeemBy.Equal(s.now.Add(7 * 24 * time.Hour)))
	})

	s.Run("second active claim", func() {
		s.lifecycle.EXPECT().Claim(gomock.Any(), claimID, id.RecipientID(recipient.ID)).
			Return(nil, dErrors.New(dErrors.CodeActiveClaimExists, "already active"))
		resp := s.do(&recipient, http.MethodPost, "/claim", models.ClaimRequest{ClaimID: claimID.String()})
		testutil.AssertStatusAndError(s.T(), resp, http.StatusConflict, "active_claim_exists")
	})

	s.Run("expired offer", func() {
		s.lifecycle.EXPECT().Claim(gomock.Any(), claimID, id.RecipientID(recipient.ID)).
			Return(nil, dErrors.New(dErrors.CodeClaimExpired, "expired"))
		resp := s.do(&recipient, http.MethodPost, "/claim", models.ClaimRequest{ClaimID: claimID.String()})
		testutil.AssertStatusAndError(s.T(), resp, http.StatusGone, "claim_expired")
	})

	s.Run("malformed claim id", func() {
		resp := s.do(&recipient, http.MethodPost, "/claim", models.ClaimRequest{ClaimID: "abc"})
		testutil.AssertStatusAndError(s.T(), resp, http.StatusBadRequest, "invalid_input")
	})
}

func (s *HandlerSuite) TestRedeem() {
	business := s.newCaller(requestcontext.RoleBusiness)
	claimID := id.ClaimID(uuid.New())

	s.Run("success", func() {
		s.redemption.EXPECT().Redeem(gomock.Any(), "opaque-token", models.Redeemer{
			BusinessID: id.BusinessID(business.ID),
			Name:       "Corner Deli",
		}).Return(&models.RedemptionResult{ClaimID: claimID, ItemName: "Sandwich", RedeemedAt: s.now}, nil)

		resp := s.do(&business, http.MethodPost, "/redeem", models.RedeemRequest{Token: "  opaque-token "})
		testutil.AssertStatusOK(s.T(), resp)
		body := testutil.UnmarshalResponse[models.RedeemResponse](s.T(), resp)
		s.Equal("Sandwich", body.ItemName)
		s.Equal(claimID.String(), body.ClaimID)
	})

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown token", dErrors.New(dErrors.CodeInvalidToken, "invalid token"), http.StatusNotFound},
		{"already redeemed", dErrors.New(dErrors.CodeAlreadyRedeemed, "already redeemed"), http.StatusConflict},
		{"not yet claimed", dErrors.New(dErrors.CodeNotYetClaimed, "not claimed"), http.StatusConflict},
		{"campaign closed", dErrors.New(dErrors.CodeCampaignWindowExpired, "closed"), http.StatusGone},
		{"claim window closed", dErrors.New(dErrors.CodeClaimWindowExpired, "closed"), http.StatusGone},
		{"throttled", dErrors.New(dErrors.CodeTooManyRequests, "slow down"), http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.redemption.EXPECT().Redeem(gomock.Any(), "opaque-token", gomock.Any()).Return(nil, tc.err)
			resp := s.do(&business, http.MethodPost, "/redeem", models.RedeemRequest{Token: "opaque-token"})
			testutil.AssertStatusAndError(s.T(), resp, tc.status, string(dErrors.CodeOf(tc.err)))
		})
	}

	s.Run("empty token", func() {
		resp := s.do(&business, http.MethodPost, "/redeem", models.RedeemRequest{Token: "   "})
		testutil.AssertStatusAndError(s.T(), resp, http.StatusBadRequest, "validation_error")
	})

	s.Run("recipients cannot redeem", func() {
		recipient := s.newCaller(requestcontext.RoleRecipient)
		resp := s.do(&recipient, http.MethodPost, "/redeem", models.RedeemRequest{Token: "opaque-token"})
		testutil.AssertStatusAndError(s.T(), resp, http.StatusForbidden, "forbidden")
	})
}

func (s *HandlerSuite) TestCampaigns() {
	business := s.newCaller(requestcontext.RoleBusiness)
	campaign := &models.Campaign{ID: id.CampaignID(uuid.New()), BusinessID: id.BusinessID(business.ID), ItemName: "Coffee", Quantity: 3}

	s.Run("create", func() {
		s.campaigns.EXPECT().Create(gomock.Any(), gomock.Any(), models.CreateCampaignCommand{
			ItemName:          "Coffee",
			Quantity:          3,
			RedemptionEndDate: time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		}).Return(campaign, 2, nil)

		resp := s.do(&business, http.MethodPost, "/campaigns", models.CreateCampaignRequest{
			ItemName: "Coffee", Quantity: 3, RedemptionEndDate: "2026-03-31",
		})
		testutil.AssertStatus(s.T(), resp, http.StatusCreated)
		body := testutil.UnmarshalResponse[models.CreateCampaignResponse](s.T(), resp)
		s.Equal(2, body.Distributed)
		s.Equal(campaign.ID, body.Campaign.ID)
	})

	s.Run("bad date", func() {
		resp := s.do(&business, http.MethodPost, "/campaigns", models.CreateCampaignRequest{
			ItemName: "Coffee", Quantity: 3, RedemptionEndDate: "31/03/2026",
		})
		testutil.AssertStatusAndError(s.T(), resp, http.StatusBadRequest, "validation_error")
	})

	s.Run("list", func() {
		s.campaigns.EXPECT().ListForBusiness(gomock.Any(), id.BusinessID(business.ID)).Return([]models.CampaignSummary{
			{Campaign: *campaign, Counts: models.ClaimCounts{Allocated: 2, Claimed: 1}},
		}, nil)

		resp := s.do(&business, http.MethodGet, "/campaigns", nil)
		testutil.AssertStatusOK(s.T(), resp)
		body := testutil.UnmarshalResponse[struct {
			Campaigns []models.CampaignSummary `json:"campaigns"`
		}](s.T(), resp)
		s.Require().Len(body.Campaigns, 1)
		s.Equal(2, body.Campaigns[0].Counts.Allocated)
	})
}

func (s *HandlerSuite) TestRecipientRoutes() {
	recipient := s.newCaller(requestcontext.RoleRecipient)
	agencyID := id.AgencyID(uuid.New())

	s.Run("list my claims", func() {
		s.lifecycle.EXPECT().ListForRecipient(gomock.Any(), id.RecipientID(recipient.ID)).Return(&models.RecipientClaims{
			Pending: []models.ClaimView{{ItemName: "Sandwich"}},
			History: []models.ClaimView{},
		}, nil)

		resp := s.do(&recipient, http.MethodGet, "/me/claims", nil)
		testutil.AssertStatusOK(s.T(), resp)
		body := testutil.UnmarshalResponse[models.RecipientClaims](s.T(), resp)
		s.Require().Len(body.Pending, 1)
		s.Nil(body.Active)
	})

	s.Run("enroll", func() {
		req := models.EnrollRequest{AgencyID: agencyID.String(), FullName: "Maria Lopez"}
		s.enrollment.EXPECT().Enroll(gomock.Any(), id.RecipientID(recipient.ID), req).Return(&enrollment.Result{
			Recipient: &models.Recipient{ID: id.RecipientID(recipient.ID), AgencyID: agencyID},
		}, nil)

		resp := s.do(&recipient, http.MethodPost, "/enrollments", req)
		testutil.AssertStatus(s.T(), resp, http.StatusCreated)
	})

	s.Run("enroll with an unknown name", func() {
		s.enrollment.EXPECT().Enroll(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "name not found on the agency roster"))
		resp := s.do(&recipient, http.MethodPost, "/enrollments", models.EnrollRequest{AgencyID: agencyID.String(), FullName: "Nobody"})
		testutil.AssertStatusAndError(s.T(), resp, http.StatusNotFound, "not_found")
	})
}

func (s *HandlerSuite) TestAdminRoutes() {
	admin := s.newCaller(requestcontext.RoleAdmin)

	s.Run("manual expiry sweep", func() {
		s.lifecycle.EXPECT().SweepExpired(gomock.Any()).Return(3, nil)
		resp := s.do(&admin, http.MethodPost, "/admin/claims/expire", nil)
		testutil.AssertStatusOK(s.T(), resp)
		body := testutil.UnmarshalResponse[models.ExpireResponse](s.T(), resp)
		s.Equal(3, body.Expired)
	})

	s.Run("enrollment hook", func() {
		recipientID := id.RecipientID(uuid.New())
		agencyID := id.AgencyID(uuid.New())
		claim := &models.Claim{ID: id.ClaimID(uuid.New()), RecipientID: recipientID, Status: models.ClaimStatusPending}
		s.allocation.EXPECT().OnRecipientEnrolled(gomock.Any(), recipientID, agencyID).Return(claim, nil)

		resp := s.do(&admin, http.MethodPost, "/admin/recipients/"+recipientID.String()+"/enrolled",
			models.RecipientEnrolledRequest{AgencyID: agencyID.String()})
		testutil.AssertStatusOK(s.T(), resp)
		testutil.AssertJSONHasKey(s.T(), resp, "claim")
	})

	s.Run("enrollment hook with a bad recipient id", func() {
		resp := s.do(&admin, http.MethodPost, "/admin/recipients/nope/enrolled",
			models.RecipientEnrolledRequest{AgencyID: uuid.NewString()})
		testutil.AssertStatusAndError(s.T(), resp, http.StatusBadRequest, "invalid_input")
	})
}

func (s *HandlerSuite) TestRejectsNonJSONBodies() {
	business := s.newCaller(requestcontext.RoleBusiness)
	req := testutil.WithBearer(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/redeem", `{"token":"x"}`), s.token(business))
	req.Header.Set("Content-Type", "text/plain")

	rr := testutil.DoRequest(s.router, req)
	s.Equal(http.StatusUnsupportedMediaType, rr.Code)
}
