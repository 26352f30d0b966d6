package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PointsMetrics tracks ledger, streak and notification activity.
type PointsMetrics struct {
	awarded      *prometheus.CounterVec
	spent        prometheus.Counter
	insufficient prometheus.Counter
	milestones   *prometheus.CounterVec
	resets       prometheus.Counter
	emails       *prometheus.CounterVec
}

var (
	pointsMetricsOnce sync.Once
	pointsMetrics     *PointsMetrics
)

func Points() *PointsMetrics {
	return PointsWithConfig(Config{})
}

func PointsWithConfig(cfg Config) *PointsMetrics {
	pointsMetricsOnce.Do(func() {
		pointsMetrics = newPointsMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pointsMetrics
}

// ResetPointsMetricsForTest resets the points metrics singleton for tests.
func ResetPointsMetricsForTest() {
	pointsMetricsOnce = sync.Once{}
	pointsMetrics = nil
}

func newPointsMetrics(registerer prometheus.Registerer, cfg Config) *PointsMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	m := &PointsMetrics{
		awarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ecopoints_points_awarded_total",
			Help:        "Points credited to users by source.",
			ConstLabels: labels,
		}, []string{"source"}),
		spent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ecopoints_points_spent_total",
			Help:        "Points debited from users.",
			ConstLabels: labels,
		}),
		insufficient: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ecopoints_spend_rejected_total",
			Help:        "Spends rejected for insufficient balance.",
			ConstLabels: labels,
		}),
		milestones: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ecopoints_streak_milestones_total",
			Help:        "Streak milestone bonuses granted.",
			ConstLabels: labels,
		}, []string{"days"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ecopoints_streak_resets_total",
			Help:        "Streaks broken by a missed day.",
			ConstLabels: labels,
		}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ecopoints_emails_total",
			Help:        "Notification emails by result.",
			ConstLabels: labels,
		}, []string{"result"}),
	}
	registerer.MustRegister(m.awarded, m.spent, m.insufficient, m.milestones, m.resets, m.emails)
	return m
}

func (m *PointsMetrics) AddAwarded(source string, points int64) {
	if m == nil || points <= 0 {
		return
	}
	m.awarded.WithLabelValues(source).Add(float64(points))
}

func (m *PointsMetrics) AddSpent(points int64) {
	if m == nil || points <= 0 {
		return
	}
	m.spent.Add(float64(points))
}

func (m *PointsMetrics) IncInsufficient() {
	if m == nil {
		return
	}
	m.insufficient.Inc()
}

func (m *PointsMetrics) IncMilestone(days int) {
	if m == nil {
		return
	}
	m.milestones.WithLabelValues(strconv.Itoa(days)).Inc()
}

func (m *PointsMetrics) IncStreakReset() {
	if m == nil {
		return
	}
	m.resets.Inc()
}

// IncEmail records a notification result: "sent", "skipped" or "failed".
func (m *PointsMetrics) IncEmail(result string) {
	if m == nil {
		return
	}
	m.emails.WithLabelValues(result).Inc()
}
