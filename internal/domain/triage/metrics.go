package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage engine.
type Metrics struct {
	Submissions   *prometheus.CounterVec
	Scores        *prometheus.HistogramVec
	Escalations   *prometheus.CounterVec
	AlertsRaised  prometheus.Counter
	AlertClaims   *prometheus.CounterVec
	Reviews       *prometheus.CounterVec
	Invalidations *prometheus.CounterVec
	BadgesAwarded *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_questionnaire_submissions_total",
			Help: "Accepted questionnaire submissions by typology and resulting priority.",
		}, []string{"typology", "priority"}),
		Scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carebridge_questionnaire_score",
			Help:    "Distribution of questionnaire scores by typology.",
			Buckets: prometheus.LinearBuckets(0, 3, 12), // 0 .. 33
		}, []string{"typology"}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_priority_escalations_total",
			Help: "Patient priority escalations by new band.",
		}, []string{"priority"}),
		AlertsRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carebridge_clinical_alerts_raised_total",
			Help: "Clinical alerts created.",
		}),
		AlertClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_clinical_alert_claims_total",
			Help: "Alert acceptance attempts by outcome (won, lost).",
		}, []string{"result"}),
		Reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_questionnaire_reviews_total",
			Help: "Review transitions (reviewed, cancelled).",
		}, []string{"action"}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_invalidation_transitions_total",
			Help: "Invalidation workflow transitions (requested, accepted, rejected).",
		}, []string{"transition"}),
		BadgesAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_badges_awarded_total",
			Help: "Badges awarded by name.",
		}, []string{"badge"}),
	}

	reg.MustRegister(
		m.Submissions,
		m.Scores,
		m.Escalations,
		m.AlertsRaised,
		m.AlertClaims,
		m.Reviews,
		m.Invalidations,
		m.BadgesAwarded,
	)
	return m
}
