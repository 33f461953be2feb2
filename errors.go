package callkit

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/LukasParke/callkit/serializer"
)

// Error is the error envelope sent to callers. It encodes as
// {"message": ..., ...data}.
type Error struct {
	// Status is the HTTP status. Zero means it is derived from Data, or 500.
	Status  int
	Message string
	Data    map[string]any
	Cause   error
}

// NewError returns an error carrying an explicit HTTP status.
func NewError(status int, message string, data map[string]any) *Error {
	return &Error{Status: status, Message: message, Data: data}
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the explicit status, or 0 when none was set.
func (e *Error) HTTPStatus() int { return e.Status }

// ErrorData returns the structured data attached to the error.
func (e *Error) ErrorData() map[string]any { return e.Data }

// MarshalJSON flattens Data next to the message. Rich values in Data are
// tagged the same way results are.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+1)
	if len(e.Data) > 0 {
		tree, err := serializer.Default().Serialize(e.Data)
		if err != nil {
			return nil, err
		}
		if m, ok := tree.(map[string]any); ok {
			for k, v := range m {
				out[k] = v
			}
		}
	}
	out["message"] = e.Message
	return json.Marshal(out)
}

// DataError is implemented by errors that carry structured data. The
// httpCode, httpStatus and status fields of the data pick the HTTP status
// when no error in the chain reports one through HTTPStatus.
type DataError interface {
	error
	ErrorData() map[string]any
}

// statusCoder is implemented by errors that know their HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

var statusFields = []string{"httpCode", "httpStatus", "status"}

// ShapeError normalizes any error into an *Error with a resolved status. The
// message is err.Error(), so wrapping context is kept; data comes from the
// first *Error or DataError in the chain. The original error is kept as Cause.
func ShapeError(err error) *Error {
	if err == nil {
		return nil
	}
	out := &Error{Message: err.Error(), Cause: err}

	var ce *Error
	var de DataError
	switch {
	case errors.As(err, &ce):
		out.Data = ce.Data
	case errors.As(err, &de):
		out.Data = de.ErrorData()
	}

	out.Status = chainStatus(err)
	if out.Status == 0 {
		out.Status = dataStatus(out.Data)
	}
	if out.Status == 0 {
		out.Status = http.StatusInternalServerError
	}
	return out
}

func chainStatus(err error) int {
	for err != nil {
		if sc, ok := err.(statusCoder); ok && validStatus(sc.HTTPStatus()) {
			return sc.HTTPStatus()
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				if s := chainStatus(e); s != 0 {
					return s
				}
			}
			return 0
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		default:
			return 0
		}
	}
	return 0
}

func dataStatus(data map[string]any) int {
	for _, key := range statusFields {
		var s int
		switch v := data[key].(type) {
		case int:
			s = v
		case int64:
			s = int(v)
		case float64:
			s = int(v)
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				continue
			}
			s = int(n)
		default:
			continue
		}
		if validStatus(s) {
			return s
		}
	}
	return 0
}

// validStatus reports whether net/http will accept s as a status code.
func validStatus(s int) bool { return s >= 100 && s <= 999 }
