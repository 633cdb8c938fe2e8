// Package telemetry records HTTP request metrics and serves them, together
// with registered gauges, in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

var defaultDurationBuckets = []float64{
	0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0,
}

// histogram keeps non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	mu           sync.Mutex
	bucketCounts []int64
	count        int64
	sum          float64
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) snapshot() (cum []int64, count int64, sum float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum = make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum, h.count, h.sum
}

type gauge struct {
	name string
	help string
	fn   func() float64
}

// Metrics collects request durations keyed by method, route and status.
type Metrics struct {
	mu       sync.RWMutex
	requests map[string]*histogram
	gauges   []gauge
	active   int64
}

func NewMetrics() *Metrics {
	return &Metrics{requests: make(map[string]*histogram)}
}

func labelsKey(method, route, status string) string {
	return method + "|" + route + "|" + status
}

// Gauge registers a value read at scrape time. Names must be valid
// Prometheus metric names.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.mu.Lock()
	m.gauges = append(m.gauges, gauge{name: name, help: help, fn: fn})
	m.mu.Unlock()
}

// Observe records one request.
func (m *Metrics) Observe(method, route string, status int, d time.Duration) {
	key := labelsKey(method, route, strconv.Itoa(status))

	m.mu.RLock()
	h, ok := m.requests[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if h, ok = m.requests[key]; !ok {
			h = newHistogram(defaultDurationBuckets)
			m.requests[key] = h
		}
		m.mu.Unlock()
	}
	h.Observe(d.Seconds())
}

// Requests returns how many requests were recorded for the labels.
func (m *Metrics) Requests(method, route string, status int) int64 {
	m.mu.RLock()
	h, ok := m.requests[labelsKey(method, route, strconv.Itoa(status))]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	_, count, _ := h.snapshot()
	return count
}

// Middleware records the duration of every request except scrapes of the
// metrics endpoint itself. Websocket connections are skipped since their
// duration is the lifetime of the socket.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "/metrics" || route == "/ws" {
				return next(c)
			}
			atomic.AddInt64(&m.active, 1)
			start := time.Now()

			err := next(c)
			if err != nil {
				// Write the error response now so the real status is recorded.
				c.Error(err)
			}

			atomic.AddInt64(&m.active, -1)
			if route == "" {
				route = "unmatched"
			}
			m.Observe(c.Request().Method, route, c.Response().Status, time.Since(start))
			return err
		}
	}
}

// Handler serves all metrics in the Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		m.mu.RLock()
		keys := make([]string, 0, len(m.requests))
		for k := range m.requests {
			keys = append(keys, k)
		}
		hists := make(map[string]*histogram, len(keys))
		for _, k := range keys {
			hists[k] = m.requests[k]
		}
		gauges := append([]gauge(nil), m.gauges...)
		m.mu.RUnlock()
		sort.Strings(keys)

		const name = "http_server_request_duration_seconds"
		fmt.Fprintf(&b, "# HELP %s Duration of HTTP requests in seconds.\n", name)
		fmt.Fprintf(&b, "# TYPE %s histogram\n", name)
		for _, k := range keys {
			parts := strings.SplitN(k, "|", 3)
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeHistogram(&b, name, labels, hists[k])
		}
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

		for _, g := range gauges {
			fmt.Fprintf(&b, "# HELP %s %s\n", g.name, g.help)
			fmt.Fprintf(&b, "# TYPE %s gauge\n", g.name)
			fmt.Fprintf(&b, "%s %s\n\n", g.name, formatFloat(g.fn()))
		}

		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum, count, sum := h.snapshot()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, count)
	fmt.Fprintf(b, "%s_sum{%s} %s\n", name, labels, formatFloat(sum))
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, count)
}

func formatFloat(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
