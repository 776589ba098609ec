package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"taskboard/domain"
)

const streamHeartbeat = 25 * time.Second

// streamTask opens a task and streams every change of the session's view cell
// as server-sent events until the client goes away. A "cleared" event ends the
// stream once the cell no longer shows the task.
func (s *server) streamTask(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	session, release := s.registry.Attach(userIDFrom(c))
	defer release()
	ctx := c.Request().Context()
	if _, err := session.Open(ctx, id); err != nil {
		status, _ := statusForError(err)
		return c.JSON(status, errorResponse{Error: err.Error()})
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	changed := make(chan struct{}, 1)
	unsubscribe := session.Cell().Subscribe(func(domain.Task, bool) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()

	lastVersion := "\x00"
	for {
		task, viewing := session.Cell().Get()
		switch {
		case !viewing || task.ID != id:
			if err := writeEvent(c.Response(), "cleared", map[string]int64{"id": id}); err != nil {
				return nil
			}
			flusher.Flush()
			return nil
		case task.Version != lastVersion:
			lastVersion = task.Version
			if err := writeEvent(c.Response(), "task", task); err != nil {
				return nil
			}
			flusher.Flush()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		case <-ticker.C:
			if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(event)+len(data)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, event...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	_, err = w.Write(buf)
	return err
}
