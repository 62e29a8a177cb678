// Package metrics contains a sink interface to be used by clients to implement sink.
// NoopSink and LogSink are provided for convenience.
package metrics

import (
	"context"
	"log/slog"
	"time"
)

// Metric types.
const (
	UNKNOWN byte = iota
	COUNTER
	GAUGE
)

const (
	SinkTimeout = 1 * time.Second

	DirtyPagesMetricName         = "innodb_buffer_pool_pages_dirty"
	DirtyPagesStartMetricName    = "innodb_buffer_pool_pages_dirty_start"
	DrainElapsedMetricName       = "dirty_pages_drain_elapsed_ms"
	DrainPollsMetricName         = "dirty_pages_drain_polls"
	LongRunningTrxMetricName     = "long_running_transactions"
	ReplicationStoppedMetricName = "replication_stopped"
)

type Metrics struct {
	Values []MetricValue
}

type MetricValue struct {
	Name  string
	Value float64
	Type  byte // GAUGE, COUNTER
}

// Sink sends metrics to an external destination.
type Sink interface {
	// Send must respect the context timeout, if any.
	Send(ctx context.Context, metrics *Metrics) error
}

type NoopSink struct{}

func (s *NoopSink) Send(ctx context.Context, m *Metrics) error {
	return nil
}

var _ Sink = &NoopSink{}

// LogSink writes metrics to a logger at debug level, so they only show
// up with --verbose.
type LogSink struct {
	logger *slog.Logger
}

func (l *LogSink) Send(ctx context.Context, m *Metrics) error {
	for _, v := range m.Values {
		switch v.Type {
		case COUNTER:
			l.logger.Debug("metric", "name", v.Name, "type", "counter", "value", v.Value)
		case GAUGE:
			l.logger.Debug("metric", "name", v.Name, "type", "gauge", "value", v.Value)
		default:
			l.logger.Error("received invalid metric type", "type", v.Type, "name", v.Name, "value", v.Value)
		}
	}
	return nil
}

var _ Sink = &LogSink{}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send delivers m to sink with SinkTimeout applied.
func Send(ctx context.Context, sink Sink, m *Metrics) error {
	ctx, cancel := context.WithTimeout(ctx, SinkTimeout)
	defer cancel()
	return sink.Send(ctx, m)
}
