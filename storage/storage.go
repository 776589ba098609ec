package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskboard/domain"
)

// Sequence hands out task identifiers.
type Sequence interface {
	Next(ctx context.Context) (int64, error)
}

// Storage provides access to the task and user tables and the change queue.
type Storage struct {
	taskTable   *aztables.Client
	userTable   *aztables.Client
	changeQueue *azqueue.QueueClient
	seq         Sequence
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, usersTable, changeQueue string, seq Sequence) (*Storage, error) {
	if seq == nil {
		return nil, errors.New("storage: sequence is nil")
	}
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, changeQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable:   svc.NewClient(tasksTable),
		userTable:   svc.NewClient(usersTable),
		changeQueue: cq,
		seq:         seq,
	}, nil
}

type taskEntity struct {
	aztables.Entity
	ETag      string `json:"odata.etag,omitempty"`
	Title     string `json:"Title"`
	StartDate string `json:"StartDate,omitempty"`
	EndDate   string `json:"EndDate,omitempty"`
	Boards    string `json:"Boards"`
}

// rowKey pads ids so the table's lexical order matches numeric order.
func rowKey(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeTaskEntity(data []byte, etag string) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	id, err := strconv.ParseInt(ent.RowKey, 10, 64)
	if err != nil {
		return domain.Task{}, fmt.Errorf("bad task row key %q: %w", ent.RowKey, err)
	}
	task := domain.Task{
		ID:      id,
		Owner:   ent.PartitionKey,
		Title:   ent.Title,
		Boards:  []domain.Board{},
		Version: etag,
	}
	if task.Version == "" {
		task.Version = ent.ETag
	}
	if task.StartDate, err = parseDate(ent.StartDate); err != nil {
		return domain.Task{}, err
	}
	if task.EndDate, err = parseDate(ent.EndDate); err != nil {
		return domain.Task{}, err
	}
	if ent.Boards != "" {
		if err := sonic.UnmarshalString(ent.Boards, &task.Boards); err != nil {
			return domain.Task{}, fmt.Errorf("decode boards of task %d: %w", id, err)
		}
	}
	return task, nil
}

func encodeBoards(boards []domain.Board) (string, error) {
	if boards == nil {
		boards = []domain.Board{}
	}
	return sonic.MarshalString(boards)
}

// GetTask retrieves one task record.
func (s *Storage) GetTask(ctx context.Context, owner string, id int64) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, owner, rowKey(id), nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return domain.Task{}, domain.ErrTaskNotFound
		}
		return domain.Task{}, remoteError(err)
	}
	return decodeTaskEntity(resp.Value, string(resp.ETag))
}

// ListTasks retrieves all tasks of the owner ordered by id.
func (s *Storage) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + escapeODataString(owner) + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, remoteError(err)
		}
		for _, e := range resp.Entities {
			task, err := decodeTaskEntity(e, "")
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// CreateTask inserts a new task record and returns its identifier.
func (s *Storage) CreateTask(ctx context.Context, owner string, task domain.Task) (int64, error) {
	id, err := s.seq.Next(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocate task id: %w", err)
	}
	boards := task.Boards
	if boards == nil {
		boards = []domain.Board{}
	}
	payload, err := encodeTaskUpdate(owner, id, domain.TaskFields{
		TaskPatch: domain.TaskPatch{Title: &task.Title, StartDate: task.StartDate, EndDate: task.EndDate},
		Boards:    boards,
	})
	if err != nil {
		return 0, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return 0, remoteError(err)
	}
	return id, nil
}

// UpdateTask merges the given fields into the task record. A non-empty
// version makes the write conditional on the record not having changed.
func (s *Storage) UpdateTask(ctx context.Context, owner string, id int64, fields domain.TaskFields, version string) (domain.WriteResult, error) {
	data, err := encodeTaskUpdate(owner, id, fields)
	if err != nil {
		return domain.WriteResult{}, err
	}
	et := azcore.ETagAny
	if version != "" {
		et = azcore.ETag(version)
	}
	resp, err := s.taskTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		return resultFromError(err)
	}
	return domain.WriteResult{Status: http.StatusNoContent, Version: string(resp.ETag)}, nil
}

func encodeTaskUpdate(owner string, id int64, fields domain.TaskFields) ([]byte, error) {
	payload := map[string]any{
		"PartitionKey": owner,
		"RowKey":       rowKey(id),
	}
	if fields.Title != nil {
		payload["Title"] = *fields.Title
	}
	if fields.StartDate != nil {
		payload["StartDate"] = formatDate(fields.StartDate)
	}
	if fields.EndDate != nil {
		payload["EndDate"] = formatDate(fields.EndDate)
	}
	if fields.Boards != nil {
		boards, err := encodeBoards(fields.Boards)
		if err != nil {
			return nil, err
		}
		payload["Boards"] = boards
	}
	return sonic.Marshal(payload)
}

// DeleteTask removes the task record.
func (s *Storage) DeleteTask(ctx context.Context, owner string, id int64) (domain.WriteResult, error) {
	et := azcore.ETagAny
	if _, err := s.taskTable.DeleteEntity(ctx, owner, rowKey(id), &aztables.DeleteEntityOptions{IfMatch: &et}); err != nil {
		return resultFromError(err)
	}
	return domain.WriteResult{Status: http.StatusNoContent}, nil
}

// PublishChange sends a change event to the change queue.
func (s *Storage) PublishChange(ctx context.Context, env domain.ChangeEnvelope) error {
	data, err := sonic.MarshalString(env)
	if err != nil {
		return err
	}
	_, err = s.changeQueue.EnqueueMessage(ctx, data, nil)
	return err
}

// QueuedChange is a change feed message awaiting processing.
type QueuedChange struct {
	ID      string
	Receipt string
	Text    string
}

// DequeueChange receives the next message from the change queue. It returns
// nil when the queue is empty.
func (s *Storage) DequeueChange(ctx context.Context) (*QueuedChange, error) {
	resp, err := s.changeQueue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	msg := resp.Messages[0]
	if msg.MessageID == nil || msg.PopReceipt == nil {
		return nil, errors.New("storage: dequeued message without id or receipt")
	}
	q := &QueuedChange{ID: *msg.MessageID, Receipt: *msg.PopReceipt}
	if msg.MessageText != nil {
		q.Text = *msg.MessageText
	}
	return q, nil
}

// AckChange removes a processed message from the change queue.
func (s *Storage) AckChange(ctx context.Context, id, receipt string) error {
	_, err := s.changeQueue.DeleteMessage(ctx, id, receipt, nil)
	return err
}

// PendingChanges reports the approximate number of queued change messages.
func (s *Storage) PendingChanges(ctx context.Context) (int, error) {
	resp, err := s.changeQueue.GetProperties(ctx, nil)
	if err != nil {
		return 0, err
	}
	if resp.ApproximateMessagesCount == nil {
		return 0, nil
	}
	return int(*resp.ApproximateMessagesCount), nil
}

// remoteError converts a store response error into the error object used by
// writes so callers can tell store rejections from transport faults.
func remoteError(err error) error {
	res, terr := resultFromError(err)
	if terr != nil {
		return terr
	}
	return res.Err
}

// resultFromError turns a store response error into an error object carried
// by the result. Anything else is a transport fault and stays a Go error.
func resultFromError(err error) (domain.WriteResult, error) {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return domain.WriteResult{}, err
	}
	remote := &domain.RemoteError{Status: respErr.StatusCode, Code: respErr.ErrorCode}
	switch respErr.StatusCode {
	case http.StatusNotFound:
		remote.Message = "task not found"
	case http.StatusPreconditionFailed:
		remote.Message = "task was modified elsewhere; reload and try again"
	default:
		remote.Message = fmt.Sprintf("store rejected the request (status %d)", respErr.StatusCode)
	}
	return domain.WriteResult{Status: respErr.StatusCode, Err: remote}, nil
}

func escapeODataString(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
