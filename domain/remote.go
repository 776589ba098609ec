package domain

import "net/http"

// RemoteError is the error object the record store reports for a failed
// read or write. Message is meant to be shown to the user.
type RemoteError struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// WriteResult is the outcome of a store write that reached the store.
// Err is set when the store rejected the write, whatever Status says.
type WriteResult struct {
	Status  int
	Version string
	Err     *RemoteError
}

// EmptySuccess reports the "applied, no content returned" outcome.
func (r WriteResult) EmptySuccess() bool {
	return r.Err == nil && r.Status == http.StatusNoContent
}

// OK reports a 2xx outcome without an error object.
func (r WriteResult) OK() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 300
}

// TaskFields names the record fields a write replaces. Boards is written as
// a whole collection; a nil slice leaves the stored collection untouched.
type TaskFields struct {
	TaskPatch
	Boards []Board
}

// User is an account known to the built-in identity provider.
type User struct {
	ID           string
	Email        string
	Phone        string
	PasswordHash string
}
