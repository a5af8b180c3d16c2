package metrics

import (
	"errors"
	"time"

	"ecoswap/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	purchases     *prometheus.CounterVec
	creditsSold   prometheus.Counter
	retirements   *prometheus.CounterVec
	coinsRetired  prometheus.Counter
	coinsMinted   prometheus.Counter
	opDuration    *prometheus.HistogramVec
	compensations prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		purchases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecoswap",
			Name:      "purchases_total",
			Help:      "Credit purchases by outcome.",
		}, []string{"outcome"}),
		creditsSold: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ecoswap",
			Name:      "credits_sold_total",
			Help:      "Credits removed from lots by completed purchases.",
		}),
		retirements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecoswap",
			Name:      "retirement_transitions_total",
			Help:      "Retirement operations by action and outcome.",
		}, []string{"action", "outcome"}),
		coinsRetired: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ecoswap",
			Name:      "coins_retired_total",
			Help:      "Coins permanently removed from circulation.",
		}),
		coinsMinted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ecoswap",
			Name:      "coins_minted_total",
			Help:      "Coins issued to accounts.",
		}),
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ecoswap",
			Name:      "operation_duration_seconds",
			Help:      "Latency of ledger operations including lock wait.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		compensations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ecoswap",
			Name:      "compensations_total",
			Help:      "Purchases rolled back after a partial failure.",
		}),
	}
}

// Outcome classifies an operation error into a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, models.ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, models.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, models.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, models.ErrTimeout):
		return "timeout"
	case errors.Is(err, models.ErrInternalInconsistency):
		return "inconsistency"
	default:
		return "error"
	}
}

func (m *Metrics) ObservePurchase(err error, quantity int64, started time.Time) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(Outcome(err)).Inc()
	if err == nil {
		m.creditsSold.Add(float64(quantity))
	}
	m.opDuration.WithLabelValues("purchase").Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveRetirement(action string, err error, started time.Time) {
	if m == nil {
		return
	}
	m.retirements.WithLabelValues(action, Outcome(err)).Inc()
	m.opDuration.WithLabelValues("retirement_" + action).Observe(time.Since(started).Seconds())
}

func (m *Metrics) AddCoinsRetired(coins int64) {
	if m == nil {
		return
	}
	m.coinsRetired.Add(float64(coins))
}

func (m *Metrics) AddCoinsMinted(coins int64) {
	if m == nil {
		return
	}
	m.coinsMinted.Add(float64(coins))
}

func (m *Metrics) IncCompensation() {
	if m == nil {
		return
	}
	m.compensations.Inc()
}
