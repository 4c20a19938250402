package result

import (
	"fmt"

	"github.com/sourcegraph/conc/panics"
)

// Result is the outcome of a single data-source call. On failure Data holds
// the source's unavailable value, so consumers always read the same shape.
type Result[T any] struct {
	OK          bool   `json:"ok"`
	Data        T      `json:"data"`
	Reason      string `json:"reason,omitempty"`
	ErrorDetail string `json:"errorDetail,omitempty"`
}

// Success wraps a successful value
func Success[T any](data T) Result[T] {
	return Result[T]{OK: true, Data: data}
}

// Failure builds a failed result carrying the unavailable value
func Failure[T any](unavailable T, reason string, err error) Result[T] {
	r := Result[T]{Data: unavailable, Reason: reason}
	if err != nil {
		r.ErrorDetail = err.Error()
	}
	return r
}

// Capture runs fn and converts any returned error or panic into a failed result.
func Capture[T any](unavailable T, reason string, fn func() (T, error)) Result[T] {
	var (
		data T
		err  error
		pc   panics.Catcher
	)
	pc.Try(func() {
		data, err = fn()
	})
	if rec := pc.Recovered(); rec != nil {
		return Failure(unavailable, reason, fmt.Errorf("panic: %v", rec.Value))
	}
	if err != nil {
		return Failure(unavailable, reason, err)
	}
	return Success(data)
}

// Get returns the data and whether the call succeeded
func (r Result[T]) Get() (T, bool) {
	return r.Data, r.OK
}
