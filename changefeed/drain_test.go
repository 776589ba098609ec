package changefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

type scriptedBacklog struct {
	counts []int
	calls  int
	err    error
}

func (s *scriptedBacklog) PendingChanges(context.Context) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	i := s.calls
	s.calls++
	if i >= len(s.counts) {
		return 0, nil
	}
	return s.counts[i], nil
}

func TestWaitDrainedNeedsStableEmptyPolls(t *testing.T) {
	q := &scriptedBacklog{counts: []int{3, 0, 1, 0, 0}}
	logger, hook := test.NewNullLogger()
	if err := WaitDrained(context.Background(), q, time.Millisecond, 2, logger); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if q.calls != 5 {
		t.Fatalf("expected 5 polls, got %d", q.calls)
	}
	if len(hook.AllEntries()) != 2 {
		t.Fatalf("expected a log entry per non-empty poll, got %d", len(hook.AllEntries()))
	}
}

func TestWaitDrainedStopsOnErrorAndCancel(t *testing.T) {
	boom := errors.New("forbidden")
	if err := WaitDrained(context.Background(), &scriptedBacklog{err: boom}, time.Millisecond, 1, nil); !errors.Is(err, boom) {
		t.Fatalf("expected backlog error, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	busy := &scriptedBacklog{counts: make([]int, 1000)}
	for i := range busy.counts {
		busy.counts[i] = 1
	}
	logger, _ := test.NewNullLogger()
	if err := WaitDrained(ctx, busy, time.Millisecond, 1, logger); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
