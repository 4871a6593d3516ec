// ABOUTME: NATS-publishing telemetry sink
// ABOUTME: Publishes counter/gauge/timer points as JSON to telemetry.<name> subjects

package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// point is the wire format for a single telemetry observation.
type point struct {
	Name      string            `json:"name"`
	Kind      string            `json:"kind"` // "counter", "gauge", "timer"
	Delta     int64             `json:"delta,omitempty"`
	Value     float64           `json:"value,omitempty"`
	DurationMs int64            `json:"duration_ms,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	At        time.Time         `json:"at"`
}

// NATSSink publishes telemetry points to NATS subjects named
// telemetry.<metric name>. Publishes are fire-and-forget; failures are
// logged and dropped.
type NATSSink struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSSink connects to the given NATS URL and returns a publishing sink.
func NewNATSSink(url string, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("loom-gateway-telemetry"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	logger.Info("connected to NATS", "url", url)

	return &NATSSink{
		conn:   conn,
		logger: logger.With("component", "telemetry"),
	}, nil
}

func (s *NATSSink) publish(p point) {
	data, err := json.Marshal(p)
	if err != nil {
		s.logger.Warn("failed to encode telemetry point", "name", p.Name, "error", err)
		return
	}
	if err := s.conn.Publish("telemetry."+p.Name, data); err != nil {
		s.logger.Warn("failed to publish telemetry point", "name", p.Name, "error", err)
	}
}

func (s *NATSSink) IncrCounter(name string, delta int64, tags map[string]string) {
	s.publish(point{Name: name, Kind: "counter", Delta: delta, Tags: tags, At: time.Now()})
}

func (s *NATSSink) SetGauge(name string, value float64, tags map[string]string) {
	s.publish(point{Name: name, Kind: "gauge", Value: value, Tags: tags, At: time.Now()})
}

func (s *NATSSink) RecordTimer(name string, d time.Duration, tags map[string]string) {
	s.publish(point{Name: name, Kind: "timer", DurationMs: d.Milliseconds(), Tags: tags, At: time.Now()})
}

// Close drains and closes the NATS connection.
func (s *NATSSink) Close() {
	s.conn.Close()
}
