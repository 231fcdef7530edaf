// Package prom exposes the agent's counters and timings as Prometheus collectors.
package prom

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/junghoonshin3/bemypet/internal/observability/statsd"
)

// Options configures a Sink.
type Options struct {
	Namespace string // default "bemypet"
	Registry  *prometheus.Registry

	// Labels fixes the label names of a metric, keyed by its dotted name.
	// Tags outside the set are dropped and missing ones are exported empty.
	// A metric without an entry takes the label set of its first emission.
	Labels map[string][]string
}

// Sink implements statsd.Sink on a Prometheus registry. Counts become
// <name>_total counters and timings become <name>_seconds histograms.
type Sink struct {
	namespace string
	registry  *prometheus.Registry
	labels    map[string][]string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	schema     map[string][]string
}

var _ statsd.Sink = (*Sink)(nil)

// NewSink constructs a Sink. A nil Registry gets a fresh one carrying the
// process and Go runtime collectors.
func NewSink(opts Options) *Sink {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			prometheus.NewGoCollector(),
		)
	}
	ns := metricName(opts.Namespace)
	if ns == "" {
		ns = "bemypet"
	}
	labels := make(map[string][]string, len(opts.Labels))
	for name, keys := range opts.Labels {
		sorted := append([]string(nil), keys...)
		sort.Strings(sorted)
		labels[name] = sorted
	}
	return &Sink{
		namespace:  ns,
		registry:   reg,
		labels:     labels,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		schema:     make(map[string][]string),
	}
}

// Registry returns the registry the sink registers into.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

// Handler serves the registry in the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Count adds value to the <name>_total counter.
func (s *Sink) Count(name string, value int64, tags map[string]string) {
	if s == nil || value < 0 {
		return
	}
	vec, keys := s.counter(name, tags)
	if vec == nil {
		return
	}
	vec.WithLabelValues(labelValues(keys, tags)...).Add(float64(value))
}

// Timing observes value in the <name>_seconds histogram.
func (s *Sink) Timing(name string, value time.Duration, tags map[string]string) {
	if s == nil {
		return
	}
	vec, keys := s.histogram(name, tags)
	if vec == nil {
		return
	}
	vec.WithLabelValues(labelValues(keys, tags)...).Observe(value.Seconds())
}

func (s *Sink) counter(name string, tags map[string]string) (*prometheus.CounterVec, []string) {
	metric := metricName(name)
	if metric == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.labelKeysLocked(name, tags)
	if vec, ok := s.counters[metric]; ok {
		return vec, keys
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: s.namespace,
		Name:      metric + "_total",
		Help:      "Count of " + name + " events.",
	}, keys)
	if err := s.registry.Register(vec); err != nil {
		return nil, nil
	}
	s.counters[metric] = vec
	return vec, keys
}

func (s *Sink) histogram(name string, tags map[string]string) (*prometheus.HistogramVec, []string) {
	metric := metricName(name)
	if metric == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.labelKeysLocked(name, tags)
	if vec, ok := s.histograms[metric]; ok {
		return vec, keys
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: s.namespace,
		Name:      metric + "_seconds",
		Help:      "Duration of " + name + ".",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	}, keys)
	if err := s.registry.Register(vec); err != nil {
		return nil, nil
	}
	s.histograms[metric] = vec
	return vec, keys
}

func (s *Sink) labelKeysLocked(name string, tags map[string]string) []string {
	if keys, ok := s.labels[name]; ok {
		return keys
	}
	if keys, ok := s.schema[name]; ok {
		return keys
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		if label := labelName(k); label != "" {
			keys = append(keys, label)
		}
	}
	sort.Strings(keys)
	s.schema[name] = keys
	return keys
}

func labelValues(keys []string, tags map[string]string) []string {
	clean := make(map[string]string, len(tags))
	for k, v := range tags {
		clean[labelName(k)] = strings.TrimSpace(v)
	}
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = clean[k]
	}
	return values
}

// metricName turns a dotted statsd name into a Prometheus-safe one.
func metricName(name string) string {
	return sanitize(strings.ReplaceAll(strings.TrimSpace(name), ".", "_"))
}

func labelName(key string) string {
	return sanitize(strings.TrimSpace(key))
}

func sanitize(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// Fanout forwards every metric to each non-nil sink.
type Fanout []statsd.Sink

// NewFanout drops nil sinks and returns nil when none remain.
func NewFanout(sinks ...statsd.Sink) statsd.Sink {
	var out Fanout
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

func (f Fanout) Count(name string, value int64, tags map[string]string) {
	for _, s := range f {
		s.Count(name, value, tags)
	}
}

func (f Fanout) Timing(name string, value time.Duration, tags map[string]string) {
	for _, s := range f {
		s.Timing(name, value, tags)
	}
}
