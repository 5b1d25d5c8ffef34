package migration

import (
	"sync"
	"testing"

	"github.com/danmuck/shiftctl/internal/testutil/testlog"
)

type captureSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *captureSink) Record(event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func TestAuditLogSequenceAndFanout(t *testing.T) {
	testlog.Start(t)

	sink := &captureSink{}
	audit := NewAuditLog(16, sink)

	w := BaselineWeight()
	for i := 0; i < 5; i++ {
		audit.Append(PhaseShifting, w, w.Shift(20), nil, string(VerdictAdvance))
		w = w.Shift(20)
	}

	events := audit.Events(0)
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, event := range events {
		if event.Sequence != uint64(i+1) {
			t.Fatalf("event %d: sequence %d out of order", i, event.Sequence)
		}
	}
	if len(sink.events) != 5 {
		t.Fatalf("sink received %d events, want 5", len(sink.events))
	}
}

func TestAuditLogWindowBound(t *testing.T) {
	testlog.Start(t)

	audit := NewAuditLog(3)
	w := BaselineWeight()
	for i := 0; i < 10; i++ {
		audit.Append(PhaseShifting, w, w, nil, string(VerdictHold))
	}

	events := audit.Events(0)
	if len(events) != 3 {
		t.Fatalf("window must cap at 3, got %d", len(events))
	}
	if events[0].Sequence != 8 || events[2].Sequence != 10 {
		t.Fatalf("window must keep the newest events, got %d..%d",
			events[0].Sequence, events[2].Sequence)
	}
}

func TestAuditLogLimitQuery(t *testing.T) {
	testlog.Start(t)

	audit := NewAuditLog(16)
	w := BaselineWeight()
	for i := 0; i < 6; i++ {
		audit.Append(PhaseValidating, w, w, nil, string(VerdictHold))
	}

	events := audit.Events(2)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Sequence != 5 || events[1].Sequence != 6 {
		t.Fatalf("limit must return the newest events oldest-first, got %d,%d",
			events[0].Sequence, events[1].Sequence)
	}
}

func TestAuditLogConcurrentAppendsStayOrdered(t *testing.T) {
	testlog.Start(t)

	audit := NewAuditLog(128)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			audit.Append(PhaseShifting, BaselineWeight(), BaselineWeight(), nil, string(VerdictHold))
		}()
	}
	wg.Wait()

	events := audit.Events(0)
	if len(events) != 50 {
		t.Fatalf("expected 50 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Sequence != events[i-1].Sequence+1 {
			t.Fatalf("sequence gap between %d and %d", events[i-1].Sequence, events[i].Sequence)
		}
	}
}
