// ABOUTME: Memory optimizer that keeps the session registry and persisted conversations within bounds
// ABOUTME: Runs expiry sweeps, conversation trimming, and memory pressure checks on independent timers

package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/loom-gateway/internal/session"
	"github.com/2389/loom-gateway/internal/store"
	"github.com/2389/loom-gateway/internal/telemetry"
)

// messageOverheadBytes is the fixed per-message overhead added to the
// serialized content length when estimating memory usage: struct fields,
// two timestamps, and the map slot.
const messageOverheadBytes = 96

// Limits holds the immutable, process-wide thresholds the optimizer enforces.
type Limits struct {
	MaxAge                     time.Duration
	MaxInactivity              time.Duration
	MaxMessagesPerConversation int
	MaxMemoryBytes             int64
	PressureThreshold          float64
	SweepInterval              time.Duration
	PressureInterval           time.Duration
}

// UsageStats is an immutable snapshot of memory usage, recomputed on demand.
type UsageStats struct {
	TotalConversationsCreated   int64   `json:"total_conversations_created"`
	TotalMessages               int64   `json:"total_messages"`
	ActiveSessions              int     `json:"active_sessions"`
	EstimatedMemoryUsageBytes   int64   `json:"estimated_memory_usage_bytes"`
	MemoryUtilizationPercentage float64 `json:"memory_utilization_percentage"`
	CleanupOperationsCount      int64   `json:"cleanup_operations_count"`
	ExpiredSessionsCount        int64   `json:"expired_sessions_count"`
}

// Optimizer sweeps the registry for expired sessions, trims oversized
// conversations, and recomputes memory statistics. Its two schedules (the
// sweep and the pressure check) run on independently cancellable tickers
// owned by Start/Stop, decoupled from the serving path.
type Optimizer struct {
	registry  *session.Registry
	convStore store.ConversationStore
	limits    Limits
	sink      telemetry.Sink
	logger    *slog.Logger

	cleanupOps      atomic.Int64
	expiredSessions atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewOptimizer creates a memory optimizer over the given registry and store.
// Pass nil sink or logger for a no-op sink or the default logger.
func NewOptimizer(registry *session.Registry, convStore store.ConversationStore, limits Limits, sink telemetry.Sink, logger *slog.Logger) *Optimizer {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{
		registry:  registry,
		convStore: convStore,
		limits:    limits,
		sink:      sink,
		logger:    logger.With("component", "memory"),
	}
}

// Start begins the periodic sweep and pressure-check loops.
// Calling Start on a running optimizer is a no-op.
func (o *Optimizer) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true

	var wg sync.WaitGroup
	wg.Add(2)
	go o.runSweepLoop(runCtx, &wg)
	go o.runPressureLoop(runCtx, &wg)

	done := o.done
	go func() {
		wg.Wait()
		close(done)
	}()

	o.logger.Info("memory optimizer started",
		"sweep_interval", o.limits.SweepInterval,
		"pressure_interval", o.limits.PressureInterval)
}

// Stop cancels both loops and waits for them to finish.
// Safe to call multiple times.
func (o *Optimizer) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	done := o.done
	o.running = false
	o.mu.Unlock()

	cancel()
	<-done

	o.logger.Info("memory optimizer stopped")
}

// runSweepLoop runs the full optimization pass on the sweep interval.
func (o *Optimizer) runSweepLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(o.limits.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.RunOptimizationPass(ctx)
		}
	}
}

// runPressureLoop recomputes usage stats on the pressure interval.
func (o *Optimizer) runPressureLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(o.limits.PressureInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.CheckMemoryPressure(ctx)
		}
	}
}

// RunOptimizationPass executes one sweep over a registry snapshot: expired
// sessions are removed, then the remaining conversations are trimmed to the
// configured cap. Per-session failures are logged and counted but never
// abort the pass.
func (o *Optimizer) RunOptimizationPass(ctx context.Context) {
	start := time.Now()
	now := start

	snapshot := o.registry.Snapshot()
	expired := 0
	trimmed := 0

	for _, s := range snapshot {
		if o.isExpired(s, now) {
			if _, ok := o.registry.Remove(ctx, s.ConversationID, session.ReasonExpired); ok {
				expired++
			}
			continue
		}

		n, err := o.trimConversation(ctx, s.ConversationID)
		if err != nil {
			o.logger.Warn("failed to trim conversation",
				"conversation_id", s.ConversationID,
				"error", err)
			o.sink.IncrCounter(telemetry.CounterCleanupFailures, 1, map[string]string{"operation": "trim"})
			continue
		}
		trimmed += n
	}

	o.cleanupOps.Add(1)
	o.expiredSessions.Add(int64(expired))
	if trimmed > 0 {
		o.sink.IncrCounter(telemetry.CounterMessagesTrimmed, int64(trimmed), nil)
	}
	o.sink.RecordTimer(telemetry.TimerOptimizationPass, time.Since(start), nil)

	o.logger.Debug("optimization pass complete",
		"scanned", len(snapshot),
		"expired", expired,
		"messages_trimmed", trimmed,
		"duration", time.Since(start))
}

// isExpired reports whether a session has exceeded either the absolute age
// limit or the inactivity limit. Either condition alone is sufficient.
func (o *Optimizer) isExpired(s *session.Session, now time.Time) bool {
	if now.Sub(s.CreatedAt) > o.limits.MaxAge {
		return true
	}
	return now.Sub(s.LastActivity) > o.limits.MaxInactivity
}

// trimConversation truncates a conversation's stored message list to its
// suffix of at most MaxMessagesPerConversation entries, keeping the most
// recent messages. Returns the number of messages removed.
func (o *Optimizer) trimConversation(ctx context.Context, conversationID string) (int, error) {
	if o.convStore == nil {
		return 0, nil
	}

	messages, err := o.convStore.Load(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	limit := o.limits.MaxMessagesPerConversation
	if len(messages) <= limit {
		return 0, nil
	}

	removed := len(messages) - limit
	if err := o.convStore.SaveAll(ctx, conversationID, messages[removed:]); err != nil {
		return 0, err
	}

	o.logger.Debug("trimmed conversation",
		"conversation_id", conversationID,
		"removed", removed,
		"retained", limit)
	return removed, nil
}

// CheckMemoryPressure recomputes usage stats, exports them as gauges, and
// escalates to an immediate optimization pass when utilization exceeds the
// pressure threshold. Returns the computed stats.
func (o *Optimizer) CheckMemoryPressure(ctx context.Context) UsageStats {
	stats := o.Stats(ctx)

	o.sink.SetGauge(telemetry.GaugeActiveSessions, float64(stats.ActiveSessions), nil)
	o.sink.SetGauge(telemetry.GaugeMemoryUtilization, stats.MemoryUtilizationPercentage, nil)

	if stats.MemoryUtilizationPercentage > o.limits.PressureThreshold {
		o.logger.Warn("memory pressure detected, running immediate optimization",
			"utilization", stats.MemoryUtilizationPercentage,
			"threshold", o.limits.PressureThreshold,
			"estimated_bytes", stats.EstimatedMemoryUsageBytes)
		o.RunOptimizationPass(ctx)
	}

	return stats
}

// Stats computes a point-in-time usage snapshot by summing an estimated byte
// size across all active sessions' stored messages. Store failures for
// individual sessions are logged and skipped.
func (o *Optimizer) Stats(ctx context.Context) UsageStats {
	snapshot := o.registry.Snapshot()

	var estimated int64
	for _, s := range snapshot {
		if o.convStore == nil {
			break
		}
		messages, err := o.convStore.Load(ctx, s.ConversationID)
		if err != nil {
			o.logger.Warn("failed to load conversation for stats",
				"conversation_id", s.ConversationID,
				"error", err)
			continue
		}
		for _, msg := range messages {
			estimated += int64(len(msg.Content)) + messageOverheadBytes
		}
	}

	utilization := 0.0
	if o.limits.MaxMemoryBytes > 0 {
		utilization = float64(estimated) / float64(o.limits.MaxMemoryBytes)
	}

	return UsageStats{
		TotalConversationsCreated:   o.registry.TotalConversations(),
		TotalMessages:               o.registry.TotalMessages(),
		ActiveSessions:              len(snapshot),
		EstimatedMemoryUsageBytes:   estimated,
		MemoryUtilizationPercentage: utilization,
		CleanupOperationsCount:      o.cleanupOps.Load(),
		ExpiredSessionsCount:        o.expiredSessions.Load(),
	}
}
