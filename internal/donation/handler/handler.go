// Package handler exposes the donation engine over HTTP.
//
// Handlers decode and validate the request body, read the authenticated
// principal once, and pass it explicitly into the core services. Services
// return domain errors; httputil maps them to statuses.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"caredrop/internal/donation/models"
	"caredrop/internal/enrollment"
	"caredrop/internal/platform/metrics"
	"caredrop/internal/platform/middleware"
	id "caredrop/pkg/domain"
	dErrors "caredrop/pkg/domain-errors"
	"caredrop/pkg/platform/httputil"
	"caredrop/pkg/requestcontext"
)

const maxBodyBytes = 64 << 10

// AllocationService distributes campaign units as pending claims.
type AllocationService interface {
	Allocate(ctx context.Context, caller requestcontext.Principal, cmd models.AllocateCommand) (*models.AllocationResult, error)
	OnRecipientEnrolled(ctx context.Context, recipientID id.RecipientID, agencyID id.AgencyID) (*models.Claim, error)
}

// LifecycleService moves claims through their states.
type LifecycleService interface {
	Claim(ctx context.Context, claimID id.ClaimID, recipientID id.RecipientID) (*models.ClaimResult, error)
	SweepExpired(ctx context.Context) (int, error)
	ListForRecipient(ctx context.Context, recipientID id.RecipientID) (*models.RecipientClaims, error)
}

// RedemptionService validates presented tokens.
type RedemptionService interface {
	Redeem(ctx context.Context, token string, redeemer models.Redeemer) (*models.RedemptionResult, error)
}

// CampaignService publishes and lists campaigns.
type CampaignService interface {
	Create(ctx context.Context, business requestcontext.Principal, cmd models.CreateCampaignCommand) (*models.Campaign, int, error)
	ListForBusiness(ctx context.Context, businessID id.BusinessID) ([]models.CampaignSummary, error)
}

// EnrollmentService turns an account into a recipient.
type EnrollmentService interface {
	Enroll(ctx context.Context, accountID id.RecipientID, req models.EnrollRequest) (*enrollment.Result, error)
}

// Services bundles the core services the handler fronts.
type Services struct {
	Allocation AllocationService
	Lifecycle  LifecycleService
	Redemption RedemptionService
	Campaigns  CampaignService
	Enrollment EnrollmentService
}

type Handler struct {
	services     Services
	logger       *slog.Logger
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
	timeout      time.Duration
}

func New(services Services, logger *slog.Logger, metrics *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		services:     services,
		logger:       logger,
		metrics:      metrics,
		jwtValidator: jwtValidator,
		timeout:      30 * time.Second,
	}
}

// Register mounts the donation routes on r.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.Recovery(h.logger))
	api.Use(middleware.RequestID)
	api.Use(middleware.RequestTime)
	api.Use(middleware.Logger(h.logger))
	api.Use(middleware.Timeout(h.timeout))
	api.Use(middleware.ContentTypeJSON)
	api.Use(middleware.LatencyMiddleware(h.metrics))
	api.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	api.With(middleware.RequireRole(h.logger, requestcontext.RoleBusiness, requestcontext.RoleAdmin)).
		Post("/allocate", h.handleAllocate)

	api.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(h.logger, requestcontext.RoleRecipient))
		r.Post("/claim", h.handleClaim)
		r.Get("/me/claims", h.handleListMyClaims)
		r.Post("/enrollments", h.handleEnroll)
	})

	api.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(h.logger, requestcontext.RoleBusiness))
		r.Post("/redeem", h.handleRedeem)
		r.Post("/campaigns", h.handleCreateCampaign)
		r.Get("/campaigns", h.handleListCampaigns)
	})

	api.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireRole(h.logger, requestcontext.RoleAdmin))
		r.Post("/recipients/{recipient_id}/enrolled", h.handleRecipientEnrolled)
		r.Post("/claims/expire", h.handleExpireClaims)
	})

	r.Mount("/", api)
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req models.AllocateRequest
	if !h.decode(w, r, &req) {
		return
	}
	cmd, err := req.Parse()
	if err != nil {
		h.writeError(ctx, w, err, "invalid allocate request")
		return
	}

	result, err := h.services.Allocation.Allocate(ctx, caller, cmd)
	if err != nil {
		h.writeError(ctx, w, err, "allocation failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.AllocateResponse{
		Distributed: result.Distributed,
		Agencies:    result.Agencies,
	})
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req models.ClaimRequest
	if !h.decode(w, r, &req) {
		return
	}
	claimID, err := id.ParseClaimID(req.ClaimID)
	if err != nil {
		h.writeError(ctx, w, err, "invalid claim request")
		return
	}

	result, err := h.services.Lifecycle.Claim(ctx, claimID, id.RecipientID(caller.UserID))
	if err != nil {
		h.writeError(ctx, w, err, "claim failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req models.RedeemRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeError(ctx, w, err, "invalid redeem request")
		return
	}

	result, err := h.services.Redemption.Redeem(ctx, req.Token, models.Redeemer{
		BusinessID: id.BusinessID(caller.UserID),
		Name:       caller.Name,
	})
	if err != nil {
		h.writeError(ctx, w, err, "redemption failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.RedeemResponse{
		ClaimID:    result.ClaimID.String(),
		ItemName:   result.ItemName,
		RedeemedAt: result.RedeemedAt,
		Message:    "Donation redeemed successfully!",
	})
}

func (h *Handler) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req models.CreateCampaignRequest
	if !h.decode(w, r, &req) {
		return
	}
	cmd, err := req.Parse()
	if err != nil {
		h.writeError(ctx, w, err, "invalid campaign request")
		return
	}

	campaign, distributed, err := h.services.Campaigns.Create(ctx, caller, cmd)
	if err != nil {
		h.writeError(ctx, w, err, "campaign creation failed")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, models.CreateCampaignResponse{
		Campaign:    campaign,
		Distributed: distributed,
	})
}

func (h *Handler) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	summaries, err := h.services.Campaigns.ListForBusiness(ctx, id.BusinessID(caller.UserID))
	if err != nil {
		h.writeError(ctx, w, err, "failed to list campaigns")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"campaigns": summaries})
}

func (h *Handler) handleListMyClaims(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	claims, err := h.services.Lifecycle.ListForRecipient(ctx, id.RecipientID(caller.UserID))
	if err != nil {
		h.writeError(ctx, w, err, "failed to list claims")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, claims)
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req models.EnrollRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.services.Enrollment.Enroll(ctx, id.RecipientID(caller.UserID), req)
	if err != nil {
		h.writeError(ctx, w, err, "enrollment failed")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleRecipientEnrolled(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recipientID, err := id.ParseRecipientID(chi.URLParam(r, "recipient_id"))
	if err != nil {
		h.writeError(ctx, w, err, "invalid recipient id")
		return
	}
	var req models.RecipientEnrolledRequest
	if !h.decode(w, r, &req) {
		return
	}
	agencyID, err := id.ParseAgencyID(req.AgencyID)
	if err != nil {
		h.writeError(ctx, w, err, "invalid agency id")
		return
	}

	claim, err := h.services.Allocation.OnRecipientEnrolled(ctx, recipientID, agencyID)
	if err != nil {
		h.writeError(ctx, w, err, "enrollment hook failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"claim": claim})
}

func (h *Handler) handleExpireClaims(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := h.services.Lifecycle.SweepExpired(ctx)
	if err != nil {
		h.writeError(ctx, w, err, "expiry sweep failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ExpireResponse{Expired: count})
}

// principal returns the caller set by RequireAuth.
func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (requestcontext.Principal, bool) {
	ctx := r.Context()
	caller, ok := middleware.GetPrincipal(ctx)
	if !ok {
		// This should never happen if RequireAuth middleware is configured correctly
		h.logger.ErrorContext(ctx, "principal missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return requestcontext.Principal{}, false
	}
	return caller, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.WarnContext(ctx, "invalid request body",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

// writeError logs err at a level matching its code and writes the envelope.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	args := []any{
		"request_id", middleware.GetRequestID(ctx),
		"code", string(dErrors.CodeOf(err)),
		"error", err.Error(),
	}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, args...)
	} else {
		h.logger.WarnContext(ctx, msg, args...)
	}
	httputil.WriteError(w, err)
}
