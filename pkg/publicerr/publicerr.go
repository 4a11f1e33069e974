package publicerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const (
	DefaultMessage = "Something went wrong.  Please try again"
	DefaultStatus  = 500
)

// Wrap wraps a root cause error with an HTTP status and a public message.  The status
// is first to conform to Wrapf and Errorf formats.
func Wrap(err error, status int, msg string) error {
	return Error{
		Message: msg,
		Status:  status,
		Err:     err,
	}
}

// Wrapf wraps a root cause in the same way as Wrap, with built-in string formatting
// via fmt.Sprintf.
func Wrapf(err error, status int, msg string, opts ...interface{}) error {
	return Error{
		Message: fmt.Sprintf(msg, opts...),
		Status:  status,
		Err:     err,
	}
}

// WrapDefaults wraps an error with the default message and default status.
func WrapDefaults(err error) error {
	return Error{
		Message: DefaultMessage,
		Status:  DefaultStatus,
		Err:     err,
	}
}

func WithData(err error, data map[string]any) error {
	d, ok := err.(Error)
	if !ok {
		d = WrapDefaults(err).(Error)
	}
	d.Data = data
	return d
}

// Errorf is much like fmt.Errorf but holds an HTTP status and returns an Error type
// wrapping fmt.Errorf's builtin error.  This is used to create new error structs
// easily if the message is intended for the public.
func Errorf(status int, message string, opts ...interface{}) error {
	err := fmt.Errorf(message, opts...)
	return Error{
		Message: err.Error(),
		Status:  status,
		Err:     err,
	}
}

// Error wraps a root cause error with a friendly message to display to the
// public, an HTTP status for the response, and optional structured data
// (eg. missing scopes) merged into the response body.
type Error struct {
	Message string         `json:"error"`
	Data    map[string]any `json:"data,omitempty"`
	Status  int            `json:"-"`
	Err     error          `json:"-"`
}

func (e Error) Error() string {
	return e.Message
}

func (e Error) Unwrap() error {
	return e.Err
}

// StatusFor returns the HTTP status to respond with for any error:  the
// embedded status for a public error, or 500 otherwise.
func StatusFor(err error) int {
	e := Error{}
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return DefaultStatus
}

// WriteHTTP shapes any error as a JSON response.  Non-public errors are
// masked behind the default message so internals never leak.
func WriteHTTP(w http.ResponseWriter, err error) {
	e := Error{}
	if !errors.As(err, &e) {
		e = Error{Message: err.Error(), Status: DefaultStatus}
	}
	if e.Status == 0 {
		e.Status = DefaultStatus
	}

	body := map[string]any{"error": e.Message}
	for k, v := range e.Data {
		body[k] = v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(body)
}
