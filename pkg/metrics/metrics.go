// Package metrics exposes Prometheus counters for the digest pipeline.
// Every method tolerates a nil *Metrics so callers can run without metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the pipeline's collectors.
type Metrics struct {
	forumRequests  *prometheus.CounterVec
	forumThrottled *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	summarizer     *prometheus.CounterVec
	orchestrations *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		forumRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hkforum",
			Name:      "forum_requests_total",
			Help:      "Outbound forum API calls by endpoint and outcome.",
		}, []string{"platform", "endpoint", "outcome"}),
		forumThrottled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hkforum",
			Name:      "forum_throttled_total",
			Help:      "Forum calls refused by the local budget or answered with 429.",
		}, []string{"platform"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hkforum",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache name and result.",
		}, []string{"cache", "result"}),
		summarizer: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hkforum",
			Name:      "summarizer_calls_total",
			Help:      "Summarizer attempts by mode and outcome.",
		}, []string{"mode", "outcome"}),
		orchestrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hkforum",
			Name:      "orchestrations_total",
			Help:      "Processed questions by final status.",
		}, []string{"status"}),
	}
	for _, c := range []prometheus.Collector{m.forumRequests, m.forumThrottled, m.cacheLookups, m.summarizer, m.orchestrations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ForumRequest counts one forum HTTP call.
func (m *Metrics) ForumRequest(platform, endpoint, outcome string) {
	if m == nil {
		return
	}
	m.forumRequests.WithLabelValues(platform, endpoint, outcome).Inc()
}

// ForumThrottled counts a refused or 429'd forum call.
func (m *Metrics) ForumThrottled(platform string) {
	if m == nil {
		return
	}
	m.forumThrottled.WithLabelValues(platform).Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

// SummarizerCall counts a summarizer attempt.
func (m *Metrics) SummarizerCall(mode, outcome string) {
	if m == nil {
		return
	}
	m.summarizer.WithLabelValues(mode, outcome).Inc()
}

// Orchestration counts a finished request.
func (m *Metrics) Orchestration(status string) {
	if m == nil {
		return
	}
	m.orchestrations.WithLabelValues(status).Inc()
}
