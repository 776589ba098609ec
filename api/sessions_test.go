package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
)

func TestRegistryKeepsOneSessionPerUser(t *testing.T) {
	reg := NewRegistry(newMemStore(planTask()), nil, nil)
	a := reg.Session("alice")
	if reg.Session("alice") != a {
		t.Fatalf("expected the same session for the same user")
	}
	if reg.Session("bob") == a {
		t.Fatalf("expected distinct sessions per user")
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", reg.Len())
	}
	if _, err := a.Open(context.Background(), 7); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, viewing := reg.Session("bob").Cell().Get(); viewing {
		t.Fatalf("cells must not be shared between users")
	}
	reg.Drop("alice")
	if _, ok := reg.Lookup("alice"); ok {
		t.Fatalf("expected alice to be dropped")
	}
}

func TestSweepEvictsIdleSessionsWithoutStreams(t *testing.T) {
	reg := NewRegistry(newMemStore(planTask()), nil, nil)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	reg.Session("alice")
	_, release := reg.Attach("bob")
	now = now.Add(10 * time.Minute)
	reg.Session("carol")
	now = now.Add(25 * time.Minute)

	if n := reg.Sweep(30 * time.Minute); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if _, ok := reg.Lookup("alice"); ok {
		t.Fatalf("idle session without streams should be evicted")
	}
	if _, ok := reg.Lookup("bob"); !ok {
		t.Fatalf("session with an open stream must be kept")
	}
	if _, ok := reg.Lookup("carol"); !ok {
		t.Fatalf("recently used session must be kept")
	}

	release()
	release()
	now = now.Add(31 * time.Minute)
	if n := reg.Sweep(30 * time.Minute); n != 2 || reg.Len() != 0 {
		t.Fatalf("expected remaining sessions evicted, got %d left %d", n, reg.Len())
	}
}

func TestHandleUpdateRefreshesViewedTask(t *testing.T) {
	store := newMemStore(planTask())
	reg := NewRegistry(store, nil, nil)
	ctx := context.Background()
	sess := reg.Session("alice")
	if _, err := sess.Open(ctx, 7); err != nil {
		t.Fatalf("open: %v", err)
	}

	title := "Changed elsewhere"
	res, err := store.UpdateTask(ctx, "alice", 7, domain.TaskFields{TaskPatch: domain.TaskPatch{Title: &title}}, "")
	if err != nil || !res.OK() {
		t.Fatalf("update: %+v %v", res, err)
	}

	if err := reg.HandleUpdate(ctx, []byte(`{"userId":"alice","taskId":7}`)); err != nil {
		t.Fatalf("handle update: %v", err)
	}
	task, _ := sess.Cell().Get()
	if task.Title != title || task.Version != res.Version {
		t.Fatalf("expected refreshed task, got %+v", task)
	}

	if err := reg.HandleUpdate(ctx, []byte(`{"userId":"nobody","taskId":7}`)); err != nil {
		t.Fatalf("unknown user should be ignored: %v", err)
	}
	if err := reg.HandleUpdate(ctx, []byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestHandleUpdateClearsDeletedTask(t *testing.T) {
	store := newMemStore(planTask())
	reg := NewRegistry(store, nil, nil)
	ctx := context.Background()
	sess := reg.Session("alice")
	if _, err := sess.Open(ctx, 7); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.DeleteTask(ctx, "alice", 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := reg.HandleUpdate(ctx, []byte(`{"userId":"alice","taskId":7}`)); err != nil {
		t.Fatalf("handle update: %v", err)
	}
	if _, viewing := sess.Cell().Get(); viewing {
		t.Fatalf("expected cell to be cleared")
	}
}

func TestSubscribeUpdatesAppliesPublishedChanges(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	store := newMemStore(planTask())
	reg := NewRegistry(store, nil, nil)
	sess := reg.Session("alice")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := sess.Open(ctx, 7); err != nil {
		t.Fatalf("open: %v", err)
	}

	refreshed := make(chan domain.Task, 4)
	unsubscribe := sess.Cell().Subscribe(func(task domain.Task, viewing bool) {
		if !viewing {
			return
		}
		select {
		case refreshed <- task:
		default:
		}
	})
	defer unsubscribe()

	logger, _ := test.NewNullLogger()
	done := make(chan struct{})
	go func() {
		SubscribeUpdates(ctx, logger, rc, "task-updates", reg)
		close(done)
	}()

	title := "Published"
	if _, err := store.UpdateTask(ctx, "alice", 7, domain.TaskFields{TaskPatch: domain.TaskPatch{Title: &title}}, ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		// Publish until the subscriber is attached and has applied the change.
		mr.Publish("task-updates", `{"userId":"alice","taskId":7}`)
		select {
		case task := <-refreshed:
			if task.Title != title {
				continue
			}
			cancel()
			select {
			case <-done:
			case <-time.After(3 * time.Second):
				t.Fatalf("subscriber did not stop after cancel")
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for refresh")
		}
	}
}
