// Package metrics holds the Prometheus collectors shared by the TimeTree
// client and the refreshers. All recording methods are safe to call on a nil
// *Metrics, which records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ttcal"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

type Metrics struct {
	apiRequests   *prometheus.CounterVec
	apiDuration   *prometheus.HistogramVec
	logins        *prometheus.CounterVec
	polls         *prometheus.CounterVec
	lastSuccess   *prometheus.GaugeVec
	snapshotSize  *prometheus.GaugeVec
	pollDurations *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "TimeTree API requests by operation and HTTP status.",
		}, []string{"operation", "status"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "TimeTree API request latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Sign-in attempts by result.",
		}, []string{"result"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_polls_total",
			Help:      "Refresh cycles by calendar and result.",
		}, []string{"calendar", "result"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful refresh.",
		}, []string{"calendar"}),
		snapshotSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_snapshot_events",
			Help:      "Number of events in the current snapshot.",
		}, []string{"calendar"}),
		pollDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_poll_duration_seconds",
			Help:      "Duration of refresh cycles.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"calendar"}),
	}

	for _, c := range []prometheus.Collector{
		m.apiRequests, m.apiDuration, m.logins, m.polls,
		m.lastSuccess, m.snapshotSize, m.pollDurations,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordRequest counts one API round trip. status 0 means the transport failed.
func (m *Metrics) RecordRequest(operation string, status int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.apiRequests.WithLabelValues(operation, label).Inc()
	m.apiDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) RecordLogin(ok bool) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result(ok)).Inc()
}

// RecordPoll counts one refresh cycle. On success it also updates the
// last-success gauge and the snapshot size.
func (m *Metrics) RecordPoll(calendarID string, ok bool, d time.Duration, events int, at time.Time) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(calendarID, result(ok)).Inc()
	m.pollDurations.WithLabelValues(calendarID).Observe(d.Seconds())
	if ok {
		m.lastSuccess.WithLabelValues(calendarID).Set(float64(at.Unix()))
		m.snapshotSize.WithLabelValues(calendarID).Set(float64(events))
	}
}

// Forget drops the per-calendar series of a torn-down refresher.
func (m *Metrics) Forget(calendarID string) {
	if m == nil {
		return
	}
	m.polls.DeletePartialMatch(prometheus.Labels{"calendar": calendarID})
	m.lastSuccess.DeleteLabelValues(calendarID)
	m.snapshotSize.DeleteLabelValues(calendarID)
	m.pollDurations.DeleteLabelValues(calendarID)
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}
