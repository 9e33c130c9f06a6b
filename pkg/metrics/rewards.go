package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Rewards records ledger and redemption activity. A nil *Rewards is valid and
// records nothing.
type Rewards struct {
	pointsCredited  prometheus.Counter
	pointsDebited   prometheus.Counter
	duplicateCredit prometheus.Counter
	redemptions     *prometheus.CounterVec
	consumerEvents  *prometheus.CounterVec
	opDuration      *prometheus.HistogramVec
}

// NewRewards registers the rewards metrics on the provided registerer.
func NewRewards(reg prometheus.Registerer) *Rewards {
	if reg == nil {
		return &Rewards{}
	}
	m := &Rewards{
		pointsCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewards_points_credited_total",
			Help: "Points credited to users from approved donations.",
		}),
		pointsDebited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewards_points_debited_total",
			Help: "Points spent on voucher redemptions.",
		}),
		duplicateCredit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewards_duplicate_credits_total",
			Help: "Credit requests suppressed because the donation event was already recorded.",
		}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_redemptions_total",
			Help: "Voucher redemption attempts by result.",
		}, []string{"result"}),
		consumerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_consumer_events_total",
			Help: "Donation approval events handled by outcome.",
		}, []string{"outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rewards_operation_duration_seconds",
			Help:    "Duration of ledger operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.pointsCredited, m.pointsDebited, m.duplicateCredit, m.redemptions, m.consumerEvents, m.opDuration)
	return m
}

func (m *Rewards) AddCredited(points int64) {
	if m == nil || m.pointsCredited == nil || points <= 0 {
		return
	}
	m.pointsCredited.Add(float64(points))
}

func (m *Rewards) AddDebited(points int64) {
	if m == nil || m.pointsDebited == nil || points <= 0 {
		return
	}
	m.pointsDebited.Add(float64(points))
}

func (m *Rewards) IncDuplicateCredit() {
	if m == nil || m.duplicateCredit == nil {
		return
	}
	m.duplicateCredit.Inc()
}

// IncRedemption counts a redemption attempt. result is "success" or an error code.
func (m *Rewards) IncRedemption(result string) {
	if m == nil || m.redemptions == nil {
		return
	}
	m.redemptions.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Rewards) IncConsumerEvent(outcome string) {
	if m == nil || m.consumerEvents == nil {
		return
	}
	m.consumerEvents.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveDuration records the duration for the named operation.
func (m *Rewards) ObserveDuration(operation string, duration time.Duration) {
	if m == nil || m.opDuration == nil {
		return
	}
	m.opDuration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
