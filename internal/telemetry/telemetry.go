// ABOUTME: Fire-and-forget telemetry sink interface with log-backed and in-memory implementations
// ABOUTME: Counters, gauges, and timers are named and taggable with flat string maps

package telemetry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Sink receives named counters, gauges, and timer durations. All calls are
// fire-and-forget: implementations must never block the caller on I/O and
// must swallow their own failures.
type Sink interface {
	IncrCounter(name string, delta int64, tags map[string]string)
	SetGauge(name string, value float64, tags map[string]string)
	RecordTimer(name string, d time.Duration, tags map[string]string)
}

// Counter and gauge names emitted by the core.
const (
	CounterSessionsRemoved    = "sessions.removed"
	CounterMessagesTrimmed    = "messages.trimmed"
	CounterCleanupFailures    = "cleanup.failures"
	CounterBackpressureEvents = "stream.backpressure_events"
	CounterTokensDropped      = "stream.tokens_dropped"
	GaugeActiveSessions       = "sessions.active"
	GaugeMemoryUtilization    = "memory.utilization"
	GaugeStreamBytes          = "stream.bytes_seen"
	TimerOptimizationPass     = "memory.optimization_pass"
)

// NopSink discards all telemetry. Used as the default when no sink is wired.
type NopSink struct{}

func (NopSink) IncrCounter(string, int64, map[string]string)         {}
func (NopSink) SetGauge(string, float64, map[string]string)          {}
func (NopSink) RecordTimer(string, time.Duration, map[string]string) {}

// LogSink writes every telemetry point to a structured logger at Debug level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink backed by the given logger. Pass nil for default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "telemetry")}
}

func (s *LogSink) IncrCounter(name string, delta int64, tags map[string]string) {
	s.logger.Debug("counter", "name", name, "delta", delta, "tags", tags)
}

func (s *LogSink) SetGauge(name string, value float64, tags map[string]string) {
	s.logger.Debug("gauge", "name", name, "value", value, "tags", tags)
}

func (s *LogSink) RecordTimer(name string, d time.Duration, tags map[string]string) {
	s.logger.Debug("timer", "name", name, "duration", d, "tags", tags)
}

// MemorySink accumulates telemetry in memory so tests can assert on it.
type MemorySink struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
	timers   map[string][]time.Duration
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
		timers:   make(map[string][]time.Duration),
	}
}

// key folds tags into the metric name so tagged series stay distinct.
func key(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	parts := make([]string, 0, len(tags))
	for k, v := range tags {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

func (s *MemorySink) IncrCounter(name string, delta int64, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key(name, tags)] += delta
}

func (s *MemorySink) SetGauge(name string, value float64, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[key(name, tags)] = value
}

func (s *MemorySink) RecordTimer(name string, d time.Duration, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(name, tags)
	s.timers[k] = append(s.timers[k], d)
}

// Counter returns the accumulated value for a counter, tags folded into the
// name the same way IncrCounter stores them.
func (s *MemorySink) Counter(name string, tags map[string]string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key(name, tags)]
}

// Gauge returns the last recorded value for a gauge.
func (s *MemorySink) Gauge(name string, tags map[string]string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gauges[key(name, tags)]
}

// TimerCount returns how many durations were recorded for a timer.
func (s *MemorySink) TimerCount(name string, tags map[string]string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers[key(name, tags)])
}
