package domain

import (
	"time"

	"github.com/google/uuid"
)

// DateRange is an optional start/end pair. Either end may be absent.
type DateRange struct {
	Start *time.Time `json:"startDate,omitempty"`
	End   *time.Time `json:"endDate,omitempty"`
}

// Validate rejects a range whose start falls after its end.
func (r DateRange) Validate() error {
	if r.Start != nil && r.End != nil && r.Start.After(*r.End) {
		return &ValidationError{Field: "dates", Reason: "start date must not be after end date"}
	}
	return nil
}

// Board is a todo item nested in a Task. ID never changes after creation.
type Board struct {
	ID          string `json:"id"`
	IsCompleted bool   `json:"isCompleted"`
	Title       string `json:"title"`
	DateRange
	Content string `json:"content"`
}

// NewBoard returns an empty board with a fresh identifier.
func NewBoard() Board {
	return Board{ID: uuid.NewString()}
}

// BoardPatch describes a field update for a single board. Nil fields carry over.
type BoardPatch struct {
	IsCompleted *bool      `json:"isCompleted,omitempty"`
	Title       *string    `json:"title,omitempty"`
	Dates       *DateRange `json:"dates,omitempty"`
	Content     *string    `json:"content,omitempty"`
}

// Apply returns b with the patch fields overwritten.
func (p BoardPatch) Apply(b Board) Board {
	if p.IsCompleted != nil {
		b.IsCompleted = *p.IsCompleted
	}
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Dates != nil {
		b.DateRange = *p.Dates
	}
	if p.Content != nil {
		b.Content = *p.Content
	}
	return b
}

// ValidateEdit checks the fields a user edit supplies before anything is
// read or written. Title and content may not be cleared.
func (p BoardPatch) ValidateEdit() error {
	if p.Title != nil && *p.Title == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if p.Content != nil && *p.Content == "" {
		return &ValidationError{Field: "content", Reason: "content is required"}
	}
	if p.Dates != nil {
		return p.Dates.Validate()
	}
	return nil
}

// ValidateEdited checks a board produced by a user edit.
func ValidateEdited(b Board) error {
	if b.Title == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if b.Content == "" {
		return &ValidationError{Field: "content", Reason: "content is required"}
	}
	return b.DateRange.Validate()
}
