package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
)

// memStore is a versioned in-memory task store.
type memStore struct {
	mu       sync.Mutex
	tasks    map[int64]domain.Task
	nextID   int64
	rev      int
	writeRes *domain.WriteResult
	writeErr error
}

func newMemStore(tasks ...domain.Task) *memStore {
	s := &memStore{tasks: map[int64]domain.Task{}}
	for _, t := range tasks {
		s.rev++
		t.Version = strconv.Itoa(s.rev)
		s.tasks[t.ID] = t.Clone()
		if t.ID > s.nextID {
			s.nextID = t.ID
		}
	}
	return s
}

func (s *memStore) GetTask(ctx context.Context, owner string, id int64) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Owner != owner {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (s *memStore) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Task{}
	for id := int64(1); id <= s.nextID; id++ {
		if t, ok := s.tasks[id]; ok && t.Owner == owner {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *memStore) CreateTask(ctx context.Context, owner string, task domain.Task) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.rev++
	task.ID = s.nextID
	task.Owner = owner
	task.Version = strconv.Itoa(s.rev)
	s.tasks[task.ID] = task.Clone()
	return task.ID, nil
}

func (s *memStore) UpdateTask(ctx context.Context, owner string, id int64, fields domain.TaskFields, version string) (domain.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return domain.WriteResult{}, s.writeErr
	}
	if s.writeRes != nil {
		return *s.writeRes, nil
	}
	t, ok := s.tasks[id]
	if !ok || t.Owner != owner {
		return domain.WriteResult{Status: http.StatusNotFound, Err: &domain.RemoteError{Status: 404, Message: "task not found"}}, nil
	}
	if version != "" && version != t.Version {
		return domain.WriteResult{Status: http.StatusPreconditionFailed, Err: &domain.RemoteError{Status: 412, Message: "modified elsewhere"}}, nil
	}
	t = fields.TaskPatch.Apply(t)
	if fields.Boards != nil {
		t.Boards = append([]domain.Board(nil), fields.Boards...)
	}
	s.rev++
	t.Version = strconv.Itoa(s.rev)
	s.tasks[id] = t
	return domain.WriteResult{Status: http.StatusNoContent, Version: t.Version}, nil
}

func (s *memStore) DeleteTask(ctx context.Context, owner string, id int64) (domain.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return domain.WriteResult{}, s.writeErr
	}
	delete(s.tasks, id)
	return domain.WriteResult{Status: http.StatusNoContent}, nil
}

// tokenAuth accepts "Bearer <user>.sig.x" and returns <user>.
type tokenAuth struct{}

func (tokenAuth) UserIDFromAuthHeader(h string) (string, error) {
	tok, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	user, _, _ := strings.Cut(string(tok), ".")
	if user == "" {
		return "", errors.New("missing sub")
	}
	return user, nil
}

func bearer(user string) string { return "Bearer " + user + ".sig.x" }

type testServer struct {
	echo     *echo.Echo
	store    *memStore
	registry *Registry
	redis    *miniredis.Miniredis
	hook     *test.Hook
}

func newTestServer(t *testing.T, accounts Accounts, tasks ...domain.Task) *testServer {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	logger, hook := test.NewNullLogger()
	store := newMemStore(tasks...)
	e := echo.New()
	e.Use(GzipRequestMiddleware())
	registry := Register(e, Deps{
		Store:    store,
		Auth:     tokenAuth{},
		Accounts: accounts,
		Deduper:  NewRedisDeduper(rc, 0),
		Logger:   logger,
	})
	return &testServer{echo: e, store: store, registry: registry, redis: mr, hook: hook}
}

func (ts *testServer) do(method, target, user, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, bearer(user))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func planTask() domain.Task {
	return domain.Task{
		ID:     7,
		Owner:  "alice",
		Title:  "Plan",
		Boards: []domain.Board{{ID: "a", Title: "X", Content: "c1"}},
	}
}
