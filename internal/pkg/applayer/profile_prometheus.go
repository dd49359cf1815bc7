package applayer

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusProfiler times detection and parse windows into histograms,
// one per transport for detection and one per protocol id for parsing.
// A small registry-of-collectors shape, scaled down to the two windows
// this core owns.
type PrometheusProfiler struct {
	detectSeconds *prometheus.HistogramVec
	parseSeconds  *prometheus.HistogramVec
}

// NewPrometheusProfiler registers its collectors on reg and returns a
// Profiler backed by them.
func NewPrometheusProfiler(reg prometheus.Registerer) *PrometheusProfiler {
	p := &PrometheusProfiler{
		detectSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sentrywire",
			Subsystem: "applayer",
			Name:      "detect_seconds",
			Help:      "Time spent in protocol detection per call.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"transport"}),
		parseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sentrywire",
			Subsystem: "applayer",
			Name:      "parse_seconds",
			Help:      "Time spent in the L7 parser per call.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"alproto"}),
	}
	reg.MustRegister(p.detectSeconds, p.parseSeconds)
	return p
}

type histTimer struct {
	obs   prometheus.Observer
	start time.Time
}

func (t histTimer) Stop() { t.obs.Observe(time.Since(t.start).Seconds()) }

// StartDetect implements Profiler.
func (p *PrometheusProfiler) StartDetect(l4 L4Proto) ProfileTimer {
	return histTimer{obs: p.detectSeconds.WithLabelValues(l4.String()), start: time.Now()}
}

// StartParse implements Profiler.
func (p *PrometheusProfiler) StartParse(alproto ProtoID) ProfileTimer {
	return histTimer{obs: p.parseSeconds.WithLabelValues(strconv.Itoa(int(alproto))), start: time.Now()}
}
