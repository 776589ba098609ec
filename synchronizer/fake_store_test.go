package synchronizer

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"taskboard/domain"
)

// fakeStore is an in-memory record store that versions every record.
type fakeStore struct {
	mu     sync.Mutex
	tasks  map[int64]domain.Task
	nextID int64
	rev    int

	writes      []domain.TaskFields
	getCalls    int
	getErr      error
	getErrAt    int // fail only the n-th GetTask call when > 0
	createErr   error
	writeErr    error
	writeRes    *domain.WriteResult
	deleteRes   *domain.WriteResult
	beforeWrite func()
}

func newFakeStore(tasks ...domain.Task) *fakeStore {
	f := &fakeStore{tasks: map[int64]domain.Task{}}
	for _, t := range tasks {
		f.rev++
		t.Version = strconv.Itoa(f.rev)
		f.tasks[t.ID] = t.Clone()
		if t.ID > f.nextID {
			f.nextID = t.ID
		}
	}
	return f
}

func (f *fakeStore) GetTask(ctx context.Context, owner string, id int64) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil && (f.getErrAt == 0 || f.getErrAt == f.getCalls) {
		return domain.Task{}, f.getErr
	}
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (f *fakeStore) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Task, 0, len(f.tasks))
	for id := int64(1); id <= f.nextID; id++ {
		if t, ok := f.tasks[id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (f *fakeStore) CreateTask(ctx context.Context, owner string, task domain.Task) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	f.rev++
	task.ID = f.nextID
	task.Owner = owner
	task.Version = strconv.Itoa(f.rev)
	f.tasks[task.ID] = task.Clone()
	return task.ID, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, owner string, id int64, fields domain.TaskFields, version string) (domain.WriteResult, error) {
	if f.beforeWrite != nil {
		f.beforeWrite()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, fields)
	if f.writeErr != nil {
		return domain.WriteResult{}, f.writeErr
	}
	if f.writeRes != nil {
		return *f.writeRes, nil
	}
	t, ok := f.tasks[id]
	if !ok {
		return domain.WriteResult{Status: http.StatusNotFound, Err: &domain.RemoteError{Status: 404, Message: "task not found"}}, nil
	}
	if version != "" && version != t.Version {
		return domain.WriteResult{Status: http.StatusPreconditionFailed, Err: &domain.RemoteError{Status: 412, Message: "task was modified elsewhere"}}, nil
	}
	t = fields.TaskPatch.Apply(t)
	if fields.Boards != nil {
		t.Boards = append([]domain.Board(nil), fields.Boards...)
	}
	f.rev++
	t.Version = strconv.Itoa(f.rev)
	f.tasks[id] = t
	return domain.WriteResult{Status: http.StatusNoContent, Version: t.Version}, nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, owner string, id int64) (domain.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return domain.WriteResult{}, f.writeErr
	}
	if f.deleteRes != nil {
		return *f.deleteRes, nil
	}
	delete(f.tasks, id)
	return domain.WriteResult{Status: http.StatusNoContent}, nil
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) last() (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}

type fakeSurface struct{ closed bool }

func (s *fakeSurface) Close() { s.closed = true }

type fakeFeed struct {
	mu     sync.Mutex
	events []domain.ChangeEnvelope
	err    error
}

func (f *fakeFeed) PublishChange(ctx context.Context, env domain.ChangeEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, env)
	return f.err
}
