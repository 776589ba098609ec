package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/synchronizer"
)

const maxBodySize = 64 << 10

var errInvalidTaskID = errors.New("invalid task id")

// Deps groups the collaborators Register wires into the routes.
type Deps struct {
	Store    synchronizer.Store
	Feed     synchronizer.ChangeFeed
	Auth     Authenticator
	Accounts Accounts
	Deduper  Deduper
	Logger   *log.Logger
	// Health reports whether backing services are reachable. Optional.
	Health func(context.Context) error
	// SessionTTL is the lifetime of the session cookie.
	SessionTTL time.Duration
}

type server struct {
	registry   *Registry
	auth       Authenticator
	accounts   Accounts
	deduper    Deduper
	logger     *log.Logger
	health     func(context.Context) error
	sessionTTL time.Duration
}

// Register wires up all routes on the provided Echo instance and returns the
// session registry behind them.
func Register(e *echo.Echo, d Deps) *Registry {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	s := &server{
		registry:   NewRegistry(d.Store, d.Feed, d.Logger),
		auth:       d.Auth,
		accounts:   d.Accounts,
		deduper:    d.Deduper,
		logger:     d.Logger,
		health:     d.Health,
		sessionTTL: d.SessionTTL,
	}
	e.JSONSerializer = SonicSerializer{}

	e.GET("/healthz", s.healthz)

	e.POST("/api/signup", s.instrument("/api/signup", "sign_up", s.signUp))
	e.POST("/api/login", s.instrument("/api/login", "sign_in", s.signIn))
	e.POST("/api/logout", s.instrument("/api/logout", "sign_out", s.signOut))

	g := e.Group("/api/tasks", RequireUser(d.Auth))
	g.GET("", s.instrument("/api/tasks", "list_tasks", s.listTasks))
	g.GET("/search", s.instrument("/api/tasks/search", "search_tasks", s.searchTasks))
	g.POST("", s.instrument("/api/tasks", "create_task", s.createTask))
	g.GET("/:id", s.instrument("/api/tasks/:id", "open_task", s.openTask))
	g.PATCH("/:id", s.instrument("/api/tasks/:id", "update_task", s.updateTask))
	g.DELETE("/:id", s.instrument("/api/tasks/:id", "delete_task", s.deleteTask))
	g.POST("/:id/boards", s.instrument("/api/tasks/:id/boards", "add_board", s.addBoard))
	g.PUT("/:id/boards/:boardId", s.instrument("/api/tasks/:id/boards/:boardId", "update_board", s.updateBoard))
	g.DELETE("/:id/boards/:boardId", s.instrument("/api/tasks/:id/boards/:boardId", "delete_board", s.deleteBoard))
	g.GET("/:id/stream", s.streamTask)

	registerPages(e)
	return s.registry
}

type errorResponse struct {
	Error  string               `json:"error"`
	Notice *synchronizer.Notice `json:"notice,omitempty"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type taskResponse struct {
	Task         *domain.Task         `json:"task,omitempty"`
	Board        *domain.Board        `json:"board,omitempty"`
	CloseSurface bool                 `json:"closeSurface,omitempty"`
	Notice       *synchronizer.Notice `json:"notice,omitempty"`
}

// noticeRecorder keeps the last notice an operation produced for the response.
type noticeRecorder struct {
	mu   sync.Mutex
	last *synchronizer.Notice
}

func (r *noticeRecorder) Notify(n synchronizer.Notice) {
	r.mu.Lock()
	r.last = &n
	r.mu.Unlock()
}

func (r *noticeRecorder) Notice() *synchronizer.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

type instrumentedHandler func(c echo.Context, m *requestMetrics) error

func (s *server) instrument(route, operation string, h instrumentedHandler) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx := newRequestMetrics(c.Request().Context(), s.logger, route, operation)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			m.Log(c.Response().Status, err)
		}()
		return h(c, m)
	}
}

func (s *server) healthz(c echo.Context) error {
	if s.health != nil {
		if err := s.health(c.Request().Context()); err != nil {
			s.logger.WithError(err).Warn("health check failed")
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
	}
	return c.NoContent(http.StatusOK)
}

func statusForError(err error) (int, string) {
	var remote *domain.RemoteError
	var transport *synchronizer.TransportError
	switch {
	case errors.Is(err, errInvalidTaskID):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, synchronizer.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &remote):
		return http.StatusBadGateway, "store"
	case errors.As(err, &transport):
		return http.StatusServiceUnavailable, "transport"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *server) fail(c echo.Context, m *requestMetrics, err error, notice *synchronizer.Notice) error {
	status, stage := statusForError(err)
	m.Fail(stage, err)
	return c.JSON(status, errorResponse{Error: err.Error(), Notice: notice})
}

func parseTaskID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidTaskID
	}
	return id, nil
}

func decodeBody(c echo.Context, dst any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (s *server) listTasks(c echo.Context, m *requestMetrics) error {
	start := time.Now()
	tasks, err := s.registry.Session(userIDFrom(c)).ListTasks(c.Request().Context())
	m.ObserveStore(time.Since(start))
	if err != nil {
		return s.fail(c, m, err, nil)
	}
	return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
}

func (s *server) searchTasks(c echo.Context, m *requestMetrics) error {
	start := time.Now()
	tasks, err := s.registry.Session(userIDFrom(c)).SearchTasks(c.Request().Context(), c.QueryParam("q"))
	m.ObserveStore(time.Since(start))
	if err != nil {
		return s.fail(c, m, err, nil)
	}
	return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
}

func (s *server) openTask(c echo.Context, m *requestMetrics) error {
	id, err := parseTaskID(c)
	if err != nil {
		return s.fail(c, m, err, nil)
	}
	m.SetTaskID(id)
	rec := &noticeRecorder{}
	ctx := synchronizer.NotifyContext(c.Request().Context(), rec)
	start := time.Now()
	task, err := s.registry.Session(userIDFrom(c)).Open(ctx, id)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return s.fail(c, m, err, rec.Notice())
	}
	return c.JSON(http.StatusOK, taskResponse{Task: &task})
}

type mutationFunc func(ctx context.Context, sess *synchronizer.Synchronizer, resp *taskResponse) error

// mutate runs one synchronizer mutation under the request's idempotency key.
// A recorded key is released again when the mutation fails so the client can
// retry it.
func (s *server) mutate(c echo.Context, m *requestMetrics, status int, fn mutationFunc) error {
	userID := userIDFrom(c)
	ctx := c.Request().Context()
	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	m.SetIdempotencyKey(key != "")
	if key != "" && s.deduper != nil {
		added, err := s.deduper.Add(ctx, userID, key)
		if err != nil {
			m.Fail("deduper", err)
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "idempotency store unavailable"})
		}
		if !added {
			m.Fail("duplicate", nil)
			return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
		}
	}

	rec := &noticeRecorder{}
	var resp taskResponse
	start := time.Now()
	err := fn(synchronizer.NotifyContext(ctx, rec), s.registry.Session(userID), &resp)
	m.ObserveStore(time.Since(start))
	resp.Notice = rec.Notice()
	if err != nil {
		if key != "" && s.deduper != nil {
			if rerr := s.deduper.Remove(context.WithoutCancel(ctx), userID, key); rerr != nil {
				s.logger.WithError(rerr).WithField("user", userID).Warn("idempotency key rollback failed")
			}
		}
		return s.fail(c, m, err, resp.Notice)
	}
	return c.JSON(status, resp)
}

// viewed returns the task after a mutation: the cell when it shows that task,
// otherwise a direct read.
func viewed(ctx context.Context, sess *synchronizer.Synchronizer, id int64) *domain.Task {
	if t, ok := sess.Cell().Get(); ok && t.ID == id {
		return &t
	}
	t, err := sess.Peek(ctx, id)
	if err != nil {
		return nil
	}
	return &t
}

func (s *server) createTask(c echo.Context, m *requestMetrics) error {
	return s.mutate(c, m, http.StatusCreated, func(ctx context.Context, sess *synchronizer.Synchronizer, resp *taskResponse) error {
		task, err := sess.CreateTask(ctx)
		if err != nil {
			return err
		}
		m.SetTaskID(task.ID)
		resp.Task = &task
		return nil
	})
}

func (s *server) updateTask(c echo.Context, m *requestMetrics) error {
	id, err := parseTaskID(c)
	if err != nil {
		return s.fail(c, m, err, nil)
	}
	m.SetTaskID(id)
	var patch domain.TaskPatch
	if err := decodeBody(c, &patch); err != nil {
		m.Fail("decode", err)
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	return s.mutate(c, m, http.StatusOK, func(ctx context.Context, sess *synchronizer.Synchronizer, resp *taskResponse) error {
		surface := synchronizer.SurfaceFunc(func() { resp.CloseSurface = true })
		if err := sess.UpdateTask(ctx, id, patch, surface); err != nil {
			return err
		}
		resp.Task = viewed(ctx, sess, id)
		return nil
	})
}

func (s *server) deleteTask(c echo.Context, m *requestMetrics) error {
	id, err := parseTaskID(c)
	if err != nil {
		return s.fail(c, m, err, nil)
	}
	m.SetTaskID(id)
	return s.mutate(c, m, http.StatusOK, func(ctx context.Context, sess *synchronizer.Synchronizer, resp *taskResponse) error {
		return sess.DeleteTask(ctx, id)
	})
}

func (s *server) addBoard(c echo.Context, m *requestMetrics) error {
	id, err := parseTaskID(c)
	if err != nil {
		return s.fail(c, m, err, nil)
	}
	m.SetTaskID(id)
	return s.mutate(c, m, http.StatusCreated, func(ctx context.Context, sess *synchronizer.Synchronizer, resp *taskResponse) error {
		board, err := sess.AddBoard(ctx, id)
		if err != nil {
			return err
		}
		resp.Board = &board
		resp.Task = viewed(ctx, sess, id)
		return nil
	})
}

func (s *server) updateBoard(c echo.Context, m *requestMetrics) error {
	id, err := parseTaskID(c)
	if err != nil {
		return s.fail(c, m, err, nil)
	}
	m.SetTaskID(id)
	boardID := c.Param("boardId")
	var patch domain.BoardPatch
	if err := decodeBody(c, &patch); err != nil {
		m.Fail("decode", err)
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	return s.mutate(c, m, http.StatusOK, func(ctx context.Context, sess *synchronizer.Synchronizer, resp *taskResponse) error {
		surface := synchronizer.SurfaceFunc(func() { resp.CloseSurface = true })
		if err := sess.UpdateBoard(ctx, id, boardID, patch, surface); err != nil {
			return err
		}
		resp.Task = viewed(ctx, sess, id)
		return nil
	})
}

func (s *server) deleteBoard(c echo.Context, m *requestMetrics) error {
	id, err := parseTaskID(c)
	if err != nil {
		return s.fail(c, m, err, nil)
	}
	m.SetTaskID(id)
	boardID := c.Param("boardId")
	return s.mutate(c, m, http.StatusOK, func(ctx context.Context, sess *synchronizer.Synchronizer, resp *taskResponse) error {
		if err := sess.DeleteBoard(ctx, id, boardID); err != nil {
			return err
		}
		resp.Task = viewed(ctx, sess, id)
		return nil
	})
}
