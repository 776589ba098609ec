package domain

import "time"

// Task is a page owned by a single user. Boards keep insertion order.
type Task struct {
	ID        int64      `json:"id"`
	Owner     string     `json:"-"`
	Title     string     `json:"title"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
	Boards    []Board    `json:"boards"`
	// Version is the store's concurrency token for the record.
	Version string `json:"version,omitempty"`
}

// Clone returns a copy whose board slice does not alias t.Boards.
func (t Task) Clone() Task {
	c := t
	if t.Boards != nil {
		c.Boards = append(make([]Board, 0, len(t.Boards)), t.Boards...)
	}
	return c
}

// TaskPatch carries scalar task changes. Nil fields are left untouched.
type TaskPatch struct {
	Title     *string    `json:"title,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.StartDate == nil && p.EndDate == nil
}

// Apply returns t with the patch fields overwritten.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.StartDate != nil {
		s := *p.StartDate
		t.StartDate = &s
	}
	if p.EndDate != nil {
		e := *p.EndDate
		t.EndDate = &e
	}
	return t
}

// Validate checks the resulting date range of the task.
func (p TaskPatch) Validate(t Task) error {
	merged := p.Apply(t)
	return DateRange{Start: merged.StartDate, End: merged.EndDate}.Validate()
}
