// README: Prometheus metrics for matching and notification delivery.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "unipool", Name: "match_attempts_total", Help: "Ride requests submitted for matching"})
	MatchesTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "unipool", Name: "matches_total", Help: "Successful matches"})
	MatchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "unipool", Name: "match_failures_total", Help: "Failed matches by reason"},
		[]string{"reason"},
	)
	CandidatesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "unipool", Name: "match_candidates_skipped_total", Help: "Candidates dropped on route provider errors"})
	MatchLatency           = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "unipool", Name: "match_latency_seconds", Help: "Match latency seconds"})

	NotificationsSentTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "unipool", Name: "notifications_sent_total", Help: "Notifications delivered"})
	NotificationsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "unipool", Name: "notifications_failed_total", Help: "Notification delivery failures"})
	NotificationRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "unipool", Name: "notification_retries_total", Help: "Out-of-band notification retries"})
)
