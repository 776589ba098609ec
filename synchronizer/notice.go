package synchronizer

import (
	"context"
	"errors"

	"taskboard/domain"
)

// Notice variants.
const (
	VariantDefault     = "default"
	VariantDestructive = "destructive"
)

// Notice is a transient, toast-style message for the user.
type Notice struct {
	Variant     string `json:"variant"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Notifier receives the notices produced by operations.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type notifierKey struct{}

// NotifyContext returns a context whose operations also report their notices
// to n, in addition to the synchronizer's own notifier.
func NotifyContext(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, notifierKey{}, n)
}

// Surface is the editing surface (dialog) that started an operation. It is
// closed only when the operation succeeds.
type Surface interface {
	Close()
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func()

func (f SurfaceFunc) Close() { f() }

var (
	// ErrBusy is returned when an operation is started while another one is
	// still waiting on the store.
	ErrBusy = errors.New("another change is still in progress")
	// ErrUnexpectedStatus names a write answered without an error object but
	// with a status the operation does not accept.
	ErrUnexpectedStatus = errors.New("unexpected store status")
)

// TransportError wraps a failure that happened outside the store's own
// error channel (network, timeouts, encoding).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// validationNotice describes a failed local check by the field it names.
func validationNotice(err error) Notice {
	field := ""
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		field = verr.Field
	}
	switch field {
	case "dates":
		return Notice{
			Variant:     VariantDestructive,
			Title:       "The dates are not valid.",
			Description: "The start date must not be after the end date.",
		}
	case "title", "content":
		return Notice{
			Variant:     VariantDestructive,
			Title:       "Some required values are missing.",
			Description: "Title and content are required: " + err.Error(),
		}
	default:
		return Notice{
			Variant:     VariantDestructive,
			Title:       "Some values are not valid.",
			Description: err.Error(),
		}
	}
}

func pageTitleNotice() Notice {
	return Notice{
		Variant:     VariantDestructive,
		Title:       "A title is required.",
		Description: "Give the page a title before saving.",
	}
}

func remoteNotice(message string) Notice {
	if message == "" {
		message = "unknown error"
	}
	return Notice{
		Variant:     VariantDestructive,
		Title:       "An error occurred.",
		Description: "Store error: " + message,
	}
}

func transportNotice() Notice {
	return Notice{
		Variant:     VariantDestructive,
		Title:       "Network error",
		Description: "Could not reach the server. Please try again.",
	}
}
