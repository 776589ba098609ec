package domain

// Change event types published after a successful remote write.
const (
	TaskCreated   = "task-created"
	TaskUpdated   = "task-updated"
	TaskDeleted   = "task-deleted"
	BoardInserted = "board-inserted"
	BoardUpdated  = "board-updated"
	BoardRemoved  = "board-removed"
)

// ChangeEvent describes one applied mutation.
type ChangeEvent struct {
	TaskID    int64  `json:"taskId"`
	BoardID   string `json:"boardId,omitempty"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ChangeEnvelope wraps a change with the user that made it.
type ChangeEnvelope struct {
	UserID string      `json:"userId"`
	Change ChangeEvent `json:"change"`
}
