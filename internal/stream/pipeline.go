// ABOUTME: Streaming backpressure pipeline transforming raw token streams into bounded, batched output
// ABOUTME: Applies drop-oldest overflow handling, time/size double-triggered batching, and byte monitoring

package stream

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/loom-gateway/internal/telemetry"
)

// Token is one element of a model token stream. A non-nil Err is terminal:
// it is the last element the source produces.
type Token struct {
	Text string
	Err  error
}

// Result is one element of the batched output stream. A non-nil Err is
// terminal and carries the upstream error unchanged; batches flushed before
// the error remain delivered.
type Result struct {
	Text string
	Err  error
}

// monitorCheckpointBytes is the interval at which WithMemoryMonitoring
// reports accumulated byte counts.
const monitorCheckpointBytes = 1 << 20

// Config holds the pipeline tuning knobs.
type Config struct {
	// DefaultBufferSize is the batch size used when the caller has no better
	// estimate. Also the lower clamp for OptimalBufferSize.
	DefaultBufferSize int
	// MaxBufferSize is the upper clamp for batch sizes.
	MaxBufferSize int
	// PendingCapacity bounds the backpressure buffer; beyond it the oldest
	// token is dropped.
	PendingCapacity int
	// FlushTimeout forces a batch flush when tokens arrive slowly.
	FlushTimeout time.Duration
	// Workers bounds the concurrency of batch assembly.
	Workers int
}

// DefaultConfig returns the standard pipeline tuning.
func DefaultConfig() Config {
	return Config{
		DefaultBufferSize: 10,
		MaxBufferSize:     512,
		PendingCapacity:   1000,
		FlushTimeout:      100 * time.Millisecond,
		Workers:           4,
	}
}

// Pipeline converts a lazy, producer-paced token stream into a
// consumer-paced, memory-bounded stream of batched strings. It holds no
// cross-call state; one Pipeline may serve any number of concurrent streams.
type Pipeline struct {
	cfg    Config
	sink   telemetry.Sink
	logger *slog.Logger
}

// New creates a pipeline. Zero-valued Config fields fall back to defaults;
// pass nil sink or logger for a no-op sink or the default logger.
func New(cfg Config, sink telemetry.Sink, logger *slog.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.DefaultBufferSize <= 0 {
		cfg.DefaultBufferSize = def.DefaultBufferSize
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = def.MaxBufferSize
	}
	if cfg.PendingCapacity <= 0 {
		cfg.PendingCapacity = def.PendingCapacity
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("component", "stream"),
	}
}

// OptimalBufferSize returns the batch size to use when an approximate
// response length is known: expectedResponseSize/100, clamped between the
// default and maximum buffer sizes.
func (p *Pipeline) OptimalBufferSize(expectedResponseSize int) int {
	size := expectedResponseSize / 100
	if size < p.cfg.DefaultBufferSize {
		size = p.cfg.DefaultBufferSize
	}
	if size > p.cfg.MaxBufferSize {
		size = p.cfg.MaxBufferSize
	}
	return size
}

// batchJob carries the tokens of one batch through the worker pool.
// A terminal job has err set and bypasses the pool.
type batchJob struct {
	tokens []string
	err    error
	result chan string
}

// Optimize transforms a token stream into a stream of batches. Each batch
// concatenates up to bufferSize tokens (clamped to [1, MaxBufferSize]) and
// is flushed when full or when FlushTimeout elapses since the last flush,
// whichever comes first. Batch assembly runs on a bounded worker pool so
// concatenation does not stall the collector. When ctx is cancelled the
// pipeline stops pulling from in and releases its buffers.
func (p *Pipeline) Optimize(ctx context.Context, in <-chan Token, bufferSize int) <-chan Result {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if bufferSize > p.cfg.MaxBufferSize {
		bufferSize = p.cfg.MaxBufferSize
	}

	out := make(chan Result)
	jobs := make(chan *batchJob)
	order := make(chan *batchJob, p.cfg.Workers)

	// Assembly workers: bounded concurrency for string concatenation.
	for i := 0; i < p.cfg.Workers; i++ {
		go func() {
			for job := range jobs {
				var b strings.Builder
				for _, t := range job.tokens {
					b.WriteString(t)
				}
				job.result <- b.String()
			}
		}()
	}

	// Emitter: delivers assembled batches to the consumer in arrival order.
	go func() {
		defer close(out)
		for job := range order {
			if job.err != nil {
				select {
				case out <- Result{Err: job.err}:
				case <-ctx.Done():
				}
				continue
			}
			text := <-job.result
			select {
			case out <- Result{Text: text}:
			case <-ctx.Done():
				// Consumer is gone; drain remaining jobs so workers finish.
			}
		}
	}()

	// Collector: batches tokens and dispatches flush jobs.
	go func() {
		defer close(order)
		defer close(jobs)

		var (
			pending    []string
			tokenCount int64
			byteCount  int64
		)

		flushTimer := time.NewTimer(p.cfg.FlushTimeout)
		defer flushTimer.Stop()

		resetTimer := func() {
			if !flushTimer.Stop() {
				select {
				case <-flushTimer.C:
				default:
				}
			}
			flushTimer.Reset(p.cfg.FlushTimeout)
		}

		flush := func() bool {
			if len(pending) == 0 {
				return true
			}
			// Dispatch to a worker before queueing for emission: a job in the
			// order queue must always produce a result, or the emitter would
			// block on it. The result channel is buffered so workers never wait.
			job := &batchJob{tokens: pending, result: make(chan string, 1)}
			pending = nil
			select {
			case jobs <- job:
			case <-ctx.Done():
				return false
			}
			select {
			case order <- job:
			case <-ctx.Done():
				return false
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				return

			case <-flushTimer.C:
				if !flush() {
					return
				}
				flushTimer.Reset(p.cfg.FlushTimeout)

			case t, ok := <-in:
				if !ok {
					flush()
					p.logger.Debug("stream complete",
						"tokens", tokenCount,
						"bytes", byteCount)
					return
				}
				if t.Err != nil {
					// Flush whatever was batched, then propagate the error
					// unchanged as the terminal element.
					if !flush() {
						return
					}
					job := &batchJob{err: t.Err}
					select {
					case order <- job:
					case <-ctx.Done():
					}
					p.logger.Debug("stream failed",
						"tokens", tokenCount,
						"bytes", byteCount,
						"error", t.Err)
					return
				}

				pending = append(pending, t.Text)
				tokenCount++
				byteCount += int64(len(t.Text))
				if len(pending) >= bufferSize {
					if !flush() {
						return
					}
					resetTimer()
				}
			}
		}
	}()

	return out
}

// ApplyBackpressure bounds the number of tokens received but not yet
// consumed. The buffer holds at most PendingCapacity tokens; when full, the
// oldest buffered token is dropped to make room and the dropped-token
// counter is incremented. Entering overflow additionally logs a warning and
// increments the backpressure-event counter, once per overflow episode.
// The producer is never blocked.
func (p *Pipeline) ApplyBackpressure(ctx context.Context, in <-chan Token) <-chan Token {
	out := make(chan Token)

	go func() {
		defer close(out)

		buf := newRing(p.cfg.PendingCapacity)
		upstream := in
		overflowing := false

		for {
			if upstream == nil && buf.empty() {
				return
			}

			// Only arm the send case when there is something to deliver.
			var sendCh chan Token
			var next Token
			if !buf.empty() {
				sendCh = out
				next = buf.peek()
			}

			select {
			case <-ctx.Done():
				return

			case t, ok := <-upstream:
				if !ok {
					upstream = nil
					continue
				}
				if buf.full() {
					buf.pop()
					p.sink.IncrCounter(telemetry.CounterTokensDropped, 1, nil)
					if !overflowing {
						overflowing = true
						p.sink.IncrCounter(telemetry.CounterBackpressureEvents, 1, nil)
						p.logger.Warn("backpressure: pending tokens exceed capacity, dropping oldest",
							"capacity", p.cfg.PendingCapacity)
					}
				}
				buf.push(t)

			case sendCh <- next:
				buf.pop()
				if overflowing && !buf.full() {
					overflowing = false
				}
			}
		}
	}()

	return out
}

// WithMemoryMonitoring passes the stream through unchanged while
// accumulating the byte size of tokens seen, reporting a checkpoint gauge
// every completed MiB. Purely observational.
func (p *Pipeline) WithMemoryMonitoring(ctx context.Context, in <-chan Token) <-chan Token {
	out := make(chan Token)

	go func() {
		defer close(out)

		var (
			totalBytes     int64
			tokenCount     int64
			nextCheckpoint int64 = monitorCheckpointBytes
		)

		for t := range in {
			if t.Err == nil {
				totalBytes += int64(len(t.Text))
				tokenCount++
				for totalBytes >= nextCheckpoint {
					p.sink.SetGauge(telemetry.GaugeStreamBytes, float64(totalBytes), nil)
					p.logger.Debug("stream memory checkpoint",
						"bytes", totalBytes,
						"tokens", tokenCount)
					nextCheckpoint += monitorCheckpointBytes
				}
			}

			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}

		p.sink.SetGauge(telemetry.GaugeStreamBytes, float64(totalBytes), nil)
	}()

	return out
}
