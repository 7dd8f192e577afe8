// Package metrics exposes the Prometheus collectors of the attendance service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the counters updated by the services.
type Metrics struct {
	Submissions        *prometheus.CounterVec // direction
	Classifications    *prometheus.CounterVec // direction, label
	GeofenceRejections prometheus.Counter
	DuplicateAttempts  prometheus.Counter
	Sessions           *prometheus.CounterVec // outcome
	Notifications      *prometheus.CounterVec // type
	QueueMessages      *prometheus.CounterVec // type, result
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_submissions_total",
			Help: "Attendance records stored, by direction.",
		}, []string{"direction"}),
		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_punctuality_total",
			Help: "Punctuality labels assigned to stored records.",
		}, []string{"direction", "label"}),
		GeofenceRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "attendance_geofence_rejections_total",
			Help: "Submissions refused because the position was outside the school radius.",
		}),
		DuplicateAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "attendance_duplicate_attempts_total",
			Help: "Submissions refused because the direction was already recorded today.",
		}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_sessions_total",
			Help: "Attendance sessions by outcome (started, submitted).",
		}, []string{"outcome"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_notifications_total",
			Help: "Notifications written, by type.",
		}, []string{"type"}),
		QueueMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_queue_messages_total",
			Help: "Queue messages handled, by type and result.",
		}, []string{"type", "result"}),
	}
}

// Discard returns collectors registered on a private registry.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
