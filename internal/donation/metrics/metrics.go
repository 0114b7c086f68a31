package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the donation engine.
// Tracks claim transitions, allocation outcomes and critical path durations.
type Metrics struct {
	ClaimsAllocated     prometheus.Counter
	AllocationShortfall prometheus.Counter
	AllocationContended prometheus.Counter
	ClaimsClaimed       prometheus.Counter
	ClaimsExpired       *prometheus.CounterVec
	ClaimsRedeemed      prometheus.Counter
	RedemptionsRejected *prometheus.CounterVec
	AllocateDuration    prometheus.Histogram
	RedeemDuration      prometheus.Histogram
	ResolveDuration     prometheus.Histogram
}

// New creates the donation metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	buckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
	return &Metrics{
		ClaimsAllocated: factory.NewCounter(prometheus.CounterOpts{
			Name: "caredrop_claims_allocated_total",
			Help: "Total number of pending claims created by allocation",
		}),
		AllocationShortfall: factory.NewCounter(prometheus.CounterOpts{
			Name: "caredrop_allocation_shortfall_total",
			Help: "Units requested for allocation that found no eligible recipient",
		}),
		AllocationContended: factory.NewCounter(prometheus.CounterOpts{
			Name: "caredrop_allocation_contended_total",
			Help: "Allocation runs refused because another run held the campaign",
		}),
		ClaimsClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "caredrop_claims_claimed_total",
			Help: "Total number of claims moved from pending to claimed",
		}),
		ClaimsExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caredrop_claims_expired_total",
			Help: "Total number of pending claims expired, by trigger",
		}, []string{"trigger"}),
		ClaimsRedeemed: factory.NewCounter(prometheus.CounterOpts{
			Name: "caredrop_claims_redeemed_total",
			Help: "Total number of claims redeemed",
		}),
		RedemptionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caredrop_redemptions_rejected_total",
			Help: "Redemption attempts rejected, by reason code",
		}, []string{"reason"}),
		AllocateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "caredrop_allocate_duration_seconds",
			Help:    "Duration of allocation runs",
			Buckets: buckets,
		}),
		RedeemDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "caredrop_redeem_duration_seconds",
			Help:    "Duration of redemption validation (point-of-sale critical path)",
			Buckets: buckets,
		}),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "caredrop_eligibility_resolve_duration_seconds",
			Help:    "Duration of eligibility resolution per agency",
			Buckets: buckets,
		}),
	}
}

// Methods are nil-safe so services can run without metrics.

func (m *Metrics) AddAllocated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ClaimsAllocated.Add(float64(n))
}

func (m *Metrics) AddShortfall(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AllocationShortfall.Add(float64(n))
}

func (m *Metrics) IncrementContended() {
	if m == nil {
		return
	}
	m.AllocationContended.Inc()
}

func (m *Metrics) IncrementClaimed() {
	if m == nil {
		return
	}
	m.ClaimsClaimed.Inc()
}

// AddExpired records expirations; trigger is "claim", "redeem" or "sweep".
func (m *Metrics) AddExpired(trigger string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ClaimsExpired.WithLabelValues(trigger).Add(float64(n))
}

func (m *Metrics) IncrementRedeemed() {
	if m == nil {
		return
	}
	m.ClaimsRedeemed.Inc()
}

func (m *Metrics) IncrementRejected(reason string) {
	if m == nil {
		return
	}
	m.RedemptionsRejected.WithLabelValues(reason).Inc()
}

// ObserveAllocate records the duration of an allocation run.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAllocate(start time.Time) {
	if m == nil {
		return
	}
	m.AllocateDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveRedeem(start time.Time) {
	if m == nil {
		return
	}
	m.RedeemDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveResolve(start time.Time) {
	if m == nil {
		return
	}
	m.ResolveDuration.Observe(time.Since(start).Seconds())
}
