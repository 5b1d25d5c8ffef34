package migration

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AuditSink receives every committed audit event in sequence order.
type AuditSink interface {
	Record(event AuditEvent)
}

// LogSink streams audit events through a zerolog logger for the external
// observability collaborator to pick up.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(event AuditEvent) {
	entry := s.logger.Info().
		Uint64("sequence", event.Sequence).
		Str("phase", string(event.Phase)).
		Str("weight_before", event.WeightBefore.String()).
		Str("weight_after", event.WeightAfter.String()).
		Str("verdict", event.Verdict).
		Time("timestamp", event.Timestamp)
	if event.Snapshot != nil {
		entry = entry.
			Int64("replication_lag_ms", event.Snapshot.ReplicationLagMillis).
			Float64("error_rate_percent", event.Snapshot.ErrorRatePercent).
			Int("healthy_targets", event.Snapshot.HealthyTargetCount).
			Int("total_targets", event.Snapshot.TotalTargetCount)
	}
	entry.Msg("audit_event")
}

// AuditLog assigns monotonic sequence numbers under its own lock, keeps a
// bounded window for the admin surface, and fans every event out to the
// configured sinks. Events are never mutated or dropped below the window
// bound; retention beyond it belongs to the collaborator consuming the sink.
type AuditLog struct {
	mu     sync.Mutex
	seq    uint64
	window []AuditEvent
	limit  int
	sinks  []AuditSink
}

// NewAuditLog builds a log with the given in-memory window bound.
func NewAuditLog(windowLimit int, sinks ...AuditSink) *AuditLog {
	if windowLimit < 1 {
		windowLimit = 1
	}
	return &AuditLog{
		window: make([]AuditEvent, 0, windowLimit),
		limit:  windowLimit,
		sinks:  sinks,
	}
}

// Append records one transition. Sequence assignment and window append happen
// under one lock so sequence order always matches commit order.
func (l *AuditLog) Append(phase Phase, before, after TrafficWeight, snap *HealthSnapshot, verdict string) AuditEvent {
	l.mu.Lock()
	l.seq++
	event := AuditEvent{
		Sequence:     l.seq,
		Phase:        phase,
		WeightBefore: before,
		WeightAfter:  after,
		Snapshot:     snap,
		Verdict:      verdict,
		Timestamp:    time.Now().UTC(),
	}
	l.window = append(l.window, event)
	if len(l.window) > l.limit {
		l.window = l.window[len(l.window)-l.limit:]
	}
	sinks := l.sinks
	l.mu.Unlock()

	for _, sink := range sinks {
		sink.Record(event)
	}
	return event
}

// Events returns up to limit most recent events, oldest first. limit <= 0
// returns the whole window.
func (l *AuditLog) Events(limit int) []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.window)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]AuditEvent, n)
	copy(out, l.window[len(l.window)-n:])
	return out
}
