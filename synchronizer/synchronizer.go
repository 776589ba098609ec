// Package synchronizer keeps a session's viewed task consistent with the
// remote task record across board and task mutations.
//
// Every mutation follows the same protocol: read the current record, compute
// the replacement fields, issue one conditional write, then on success refresh
// the view cell and close the editing surface. A failed write leaves the cell
// and the surface alone and produces a destructive notice. Nothing is retried.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/viewstate"
)

// Store is the remote record store.
type Store interface {
	GetTask(ctx context.Context, owner string, id int64) (domain.Task, error)
	ListTasks(ctx context.Context, owner string) ([]domain.Task, error)
	CreateTask(ctx context.Context, owner string, task domain.Task) (int64, error)
	UpdateTask(ctx context.Context, owner string, id int64, fields domain.TaskFields, version string) (domain.WriteResult, error)
	DeleteTask(ctx context.Context, owner string, id int64) (domain.WriteResult, error)
}

// ChangeFeed receives an event for every applied mutation.
type ChangeFeed interface {
	PublishChange(ctx context.Context, env domain.ChangeEnvelope) error
}

// Synchronizer serves one session: one owner, one view cell.
type Synchronizer struct {
	owner    string
	store    Store
	cell     viewstate.Cell
	notifier Notifier
	feed     ChangeFeed
	logger   *log.Logger
	busy     busyFlag
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithChangeFeed publishes a change event after each applied mutation.
func WithChangeFeed(feed ChangeFeed) Option {
	return func(s *Synchronizer) { s.feed = feed }
}

// WithLogger overrides the standard logrus logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Synchronizer for owner.
func New(owner string, store Store, cell viewstate.Cell, notifier Notifier, opts ...Option) *Synchronizer {
	if store == nil || cell == nil {
		panic("synchronizer.New: store and cell are required")
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Notice) {})
	}
	s := &Synchronizer{
		owner:    owner,
		store:    store,
		cell:     cell,
		notifier: notifier,
		logger:   log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Owner returns the user the synchronizer acts for.
func (s *Synchronizer) Owner() string { return s.owner }

// Cell returns the view cell.
func (s *Synchronizer) Cell() viewstate.Cell { return s.cell }

// State reports whether a mutation is in flight.
func (s *Synchronizer) State() State { return s.busy.state() }

// Open loads a task into the view cell.
func (s *Synchronizer) Open(ctx context.Context, id int64) (domain.Task, error) {
	task, err := s.store.GetTask(ctx, s.owner, id)
	if err != nil {
		return domain.Task{}, s.readFailed(ctx, err, id)
	}
	s.cell.Set(task)
	return task, nil
}

// Refresh re-reads the task if it is the one being viewed. It is used when
// another session reports a change and never notifies the user.
func (s *Synchronizer) Refresh(ctx context.Context, id int64) error {
	current, ok := s.cell.Get()
	if !ok || current.ID != id {
		return nil
	}
	task, err := s.store.GetTask(ctx, s.owner, id)
	if errors.Is(err, domain.ErrTaskNotFound) {
		s.cell.Clear()
		return nil
	}
	if err != nil {
		return err
	}
	s.cell.Set(task)
	return nil
}

// Peek reads a task without touching the view cell.
func (s *Synchronizer) Peek(ctx context.Context, id int64) (domain.Task, error) {
	return s.store.GetTask(ctx, s.owner, id)
}

// ListTasks returns all tasks of the owner.
func (s *Synchronizer) ListTasks(ctx context.Context) ([]domain.Task, error) {
	tasks, err := s.store.ListTasks(ctx, s.owner)
	if err != nil {
		return nil, s.readFailed(ctx, err, 0)
	}
	return tasks, nil
}

// SearchTasks returns the owner's tasks whose title contains query, ignoring
// case. An empty query matches everything.
func (s *Synchronizer) SearchTasks(ctx context.Context, query string) ([]domain.Task, error) {
	tasks, err := s.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return tasks, nil
	}
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Title), q) {
			out = append(out, t)
		}
	}
	return out, nil
}

// CreateTask inserts an empty task and opens it.
func (s *Synchronizer) CreateTask(ctx context.Context) (domain.Task, error) {
	if !s.busy.acquire() {
		return domain.Task{}, ErrBusy
	}
	defer s.busy.release()

	id, err := s.store.CreateTask(ctx, s.owner, domain.Task{Boards: []domain.Board{}})
	if err != nil {
		return domain.Task{}, s.readFailed(ctx, err, 0)
	}
	s.publish(ctx, domain.ChangeEvent{TaskID: id, Type: domain.TaskCreated})

	task, err := s.store.GetTask(ctx, s.owner, id)
	if err != nil {
		s.logger.WithError(err).WithField("task", id).Warn("created task could not be re-read")
		task = domain.Task{ID: id, Owner: s.owner, Boards: []domain.Board{}}
	}
	s.cell.Set(task)
	s.notify(ctx, Notice{
		Variant:     VariantDefault,
		Title:       "A new page was created.",
		Description: "Add boards to your new page.",
	})
	return task, nil
}

// DeleteTask removes a task. The view cell is cleared if it showed that task.
func (s *Synchronizer) DeleteTask(ctx context.Context, id int64) error {
	if !s.busy.acquire() {
		return ErrBusy
	}
	defer s.busy.release()

	res, err := s.store.DeleteTask(ctx, s.owner, id)
	if err != nil {
		return s.transportFailed(ctx, err, id)
	}
	if !res.EmptySuccess() {
		return s.writeRejected(ctx, res, id)
	}
	if current, ok := s.cell.Get(); ok && current.ID == id {
		s.cell.Clear()
	}
	s.publish(ctx, domain.ChangeEvent{TaskID: id, Type: domain.TaskDeleted})
	s.notify(ctx, Notice{
		Variant:     VariantDefault,
		Title:       "The page was deleted.",
		Description: "Create a new page whenever you need one.",
	})
	return nil
}

// UpdateTask saves scalar task fields.
func (s *Synchronizer) UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch, surface Surface) error {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		err := &domain.ValidationError{Field: "title", Reason: "title is required"}
		s.notify(ctx, pageTitleNotice())
		return err
	}
	return s.mutate(ctx, mutation{
		taskID: id,
		event:  domain.ChangeEvent{Type: domain.TaskUpdated},
		compute: func(t domain.Task) (domain.TaskFields, error) {
			if err := patch.Validate(t); err != nil {
				return domain.TaskFields{}, err
			}
			return domain.TaskFields{TaskPatch: patch}, nil
		},
		accept:  domain.WriteResult.OK,
		surface: surface,
		success: Notice{Variant: VariantDefault, Title: "The page was saved.", Description: "Your changes are stored."},
	})
}

// AddBoard appends a new empty board to the task.
func (s *Synchronizer) AddBoard(ctx context.Context, id int64) (domain.Board, error) {
	board := domain.NewBoard()
	err := s.mutate(ctx, mutation{
		taskID: id,
		event:  domain.ChangeEvent{Type: domain.BoardInserted, BoardID: board.ID},
		compute: func(t domain.Task) (domain.TaskFields, error) {
			return domain.TaskFields{Boards: domain.InsertBoard(t.Boards, board)}, nil
		},
		accept:  domain.WriteResult.OK,
		success: Notice{Variant: VariantDefault, Title: "A new board was added.", Description: "Open it to fill in the details."},
	})
	if err != nil {
		return domain.Board{}, err
	}
	return board, nil
}

// UpdateBoard applies a user edit to one board. Title and content may not be
// empty; an edit that fails validation never reaches the store.
func (s *Synchronizer) UpdateBoard(ctx context.Context, id int64, boardID string, patch domain.BoardPatch, surface Surface) error {
	if err := patch.ValidateEdit(); err != nil {
		s.notify(ctx, validationNotice(err))
		return err
	}
	return s.mutate(ctx, mutation{
		taskID: id,
		event:  domain.ChangeEvent{Type: domain.BoardUpdated, BoardID: boardID},
		compute: func(t domain.Task) (domain.TaskFields, error) {
			if cur, ok := domain.FindBoard(t.Boards, boardID); ok {
				if err := domain.ValidateEdited(patch.Apply(cur)); err != nil {
					return domain.TaskFields{}, err
				}
			}
			return domain.TaskFields{Boards: domain.UpdateBoard(t.Boards, boardID, patch)}, nil
		},
		accept:  domain.WriteResult.OK,
		surface: surface,
		success: Notice{Variant: VariantDefault, Title: "The board was saved.", Description: "Your changes are stored."},
	})
}

// DeleteBoard removes one board. Only an empty-success answer from the store
// counts as success.
func (s *Synchronizer) DeleteBoard(ctx context.Context, id int64, boardID string) error {
	return s.mutate(ctx, mutation{
		taskID: id,
		event:  domain.ChangeEvent{Type: domain.BoardRemoved, BoardID: boardID},
		compute: func(t domain.Task) (domain.TaskFields, error) {
			return domain.TaskFields{Boards: domain.RemoveBoard(t.Boards, boardID)}, nil
		},
		accept: domain.WriteResult.EmptySuccess,
		success: Notice{
			Variant:     VariantDefault,
			Title:       "The selected board was deleted.",
			Description: "Add a new one whenever you need it.",
		},
	})
}

type mutation struct {
	taskID  int64
	event   domain.ChangeEvent
	compute func(domain.Task) (domain.TaskFields, error)
	accept  func(domain.WriteResult) bool
	surface Surface
	success Notice
}

func (s *Synchronizer) mutate(ctx context.Context, m mutation) error {
	if !s.busy.acquire() {
		return ErrBusy
	}
	defer s.busy.release()

	// Compute against a fresh read, not the cell. The write is conditional
	// on the version of that read.
	current, err := s.store.GetTask(ctx, s.owner, m.taskID)
	if err != nil {
		return s.readFailed(ctx, err, m.taskID)
	}
	fields, err := m.compute(current)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			s.notify(ctx, validationNotice(err))
			return err
		}
		return s.transportFailed(ctx, err, m.taskID)
	}

	res, err := s.store.UpdateTask(ctx, s.owner, m.taskID, fields, current.Version)
	if err != nil {
		return s.transportFailed(ctx, err, m.taskID)
	}
	if !m.accept(res) {
		return s.writeRejected(ctx, res, m.taskID)
	}

	s.reconcile(ctx, current, fields, res)
	m.event.TaskID = m.taskID
	s.publish(ctx, m.event)
	if m.surface != nil {
		m.surface.Close()
	}
	s.notify(ctx, m.success)
	return nil
}

// reconcile brings the cell to the post-write state: the re-read record when
// available, otherwise the value that was just written. A cell showing a
// different task is left alone.
func (s *Synchronizer) reconcile(ctx context.Context, before domain.Task, fields domain.TaskFields, res domain.WriteResult) {
	if current, ok := s.cell.Get(); ok && current.ID != before.ID {
		return
	}
	task, err := s.store.GetTask(ctx, s.owner, before.ID)
	if err == nil {
		s.cell.Set(task)
		return
	}
	s.logger.WithError(err).WithField("task", before.ID).Warn("re-read after write failed; using written value")
	task = fields.TaskPatch.Apply(before)
	if fields.Boards != nil {
		task.Boards = fields.Boards
	}
	task.Version = res.Version
	s.cell.Set(task)
}

func (s *Synchronizer) notify(ctx context.Context, n Notice) {
	s.notifier.Notify(n)
	if extra, ok := ctx.Value(notifierKey{}).(Notifier); ok {
		extra.Notify(n)
	}
}

func (s *Synchronizer) publish(ctx context.Context, ev domain.ChangeEvent) {
	if s.feed == nil {
		return
	}
	ev.Timestamp = nextTimestamp()
	if err := s.feed.PublishChange(ctx, domain.ChangeEnvelope{UserID: s.owner, Change: ev}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"task": ev.TaskID, "type": ev.Type}).Error("publish change failed")
	}
}

func (s *Synchronizer) readFailed(ctx context.Context, err error, id int64) error {
	var remote *domain.RemoteError
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		s.notify(ctx, remoteNotice(err.Error()))
		return err
	case errors.As(err, &remote):
		s.notify(ctx, remoteNotice(remote.Message))
		return remote
	default:
		return s.transportFailed(ctx, err, id)
	}
}

func (s *Synchronizer) writeRejected(ctx context.Context, res domain.WriteResult, id int64) error {
	remote := res.Err
	if remote == nil {
		remote = &domain.RemoteError{Status: res.Status, Message: fmt.Sprintf("%v %d", ErrUnexpectedStatus, res.Status)}
	}
	s.logger.WithFields(log.Fields{"task": id, "status": res.Status, "code": remote.Code}).Warn("store rejected write")
	s.notify(ctx, remoteNotice(remote.Message))
	return remote
}

func (s *Synchronizer) transportFailed(ctx context.Context, err error, id int64) error {
	s.logger.WithError(err).WithField("task", id).Error("store call failed")
	s.notify(ctx, transportNotice())
	return &TransportError{Err: err}
}
