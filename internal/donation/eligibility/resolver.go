// Package eligibility decides which recipients of an agency should receive the
// next units of a campaign.
//
// Ordering is a greedy fairness heuristic, not optimal fair division:
// recipients never allocated anything come first in enrollment order, then
// everyone else by how long ago their most recent claim was created.
package eligibility

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	donationmetrics "caredrop/internal/donation/metrics"
	"caredrop/internal/donation/models"
	id "caredrop/pkg/domain"
	dErrors "caredrop/pkg/domain-errors"
)

// RecipientSource lists an agency's recipients with their claim history.
type RecipientSource interface {
	ListEligibleRecipients(ctx context.Context, agencyID id.AgencyID) ([]models.EligibleRecipient, error)
}

// Resolver produces eligibility orderings. It never mutates state.
type Resolver struct {
	recipients  RecipientSource
	logger      *slog.Logger
	metrics     *donationmetrics.Metrics
	concurrency int
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithMetrics(m *donationmetrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithConcurrency bounds how many agencies ResolveAll loads at once.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func New(recipients RecipientSource, opts ...Option) *Resolver {
	r := &Resolver{
		recipients:  recipients,
		logger:      slog.Default(),
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the agency's recipients in allocation order.
// An agency without recipients yields an empty slice.
func (r *Resolver) Resolve(ctx context.Context, agencyID id.AgencyID) ([]id.RecipientID, error) {
	start := time.Now()
	defer r.metrics.ObserveResolve(start)

	rows, err := r.recipients.ListEligibleRecipients(ctx, agencyID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load eligible recipients")
	}
	ordered := Order(rows)
	r.logger.DebugContext(ctx, "eligibility resolved",
		"agency_id", agencyID.String(),
		"recipients", len(ordered),
	)
	return ordered, nil
}

// ResolveAll resolves several agencies concurrently. The first failure
// cancels the remaining lookups and is returned.
func (r *Resolver) ResolveAll(ctx context.Context, agencyIDs []id.AgencyID) (map[id.AgencyID][]id.RecipientID, error) {
	results := make([][]id.RecipientID, len(agencyIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, agencyID := range agencyIDs {
		g.Go(func() error {
			ordered, err := r.Resolve(gctx, agencyID)
			if err != nil {
				return err
			}
			results[i] = ordered
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[id.AgencyID][]id.RecipientID, len(agencyIDs))
	for i, agencyID := range agencyIDs {
		out[agencyID] = results[i]
	}
	return out, nil
}

// Order sorts recipients into allocation order:
//  1. never served, by enrollment time then id
//  2. served, by most recent claim creation ascending, then enrollment time, then id
func Order(rows []models.EligibleRecipient) []id.RecipientID {
	sorted := append([]models.EligibleRecipient(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if (a.LastClaimAt == nil) != (b.LastClaimAt == nil) {
			return a.LastClaimAt == nil
		}
		if a.LastClaimAt != nil && !a.LastClaimAt.Equal(*b.LastClaimAt) {
			return a.LastClaimAt.Before(*b.LastClaimAt)
		}
		if !a.EnrolledAt.Equal(b.EnrolledAt) {
			return a.EnrolledAt.Before(b.EnrolledAt)
		}
		return a.RecipientID.String() < b.RecipientID.String()
	})

	out := make([]id.RecipientID, len(sorted))
	for i, row := range sorted {
		out[i] = row.RecipientID
	}
	return out
}
