// Package apierror classifies remote-call failures by origin so the
// notification layer can pick a human-readable message. Classification is
// display-only: the mutation executor rolls back on any rejection, whatever
// the category.
package apierror

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Category identifies where a failure originated.
type Category int

const (
	// CategoryUnknown is anything that matches no other category.
	CategoryUnknown Category = iota
	// CategoryTransport covers network and timeout failures.
	CategoryTransport
	// CategoryValidation covers structured field-level rejections
	// (HTTP 422-style).
	CategoryValidation
	// CategoryConflict covers business-rule rejections, e.g. insufficient
	// inventory.
	CategoryConflict
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransport:
		return "transport"
	case CategoryValidation:
		return "validation"
	case CategoryConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a classified remote-call failure. Fields carries field-name to
// messages detail for validation errors; it is the only error detail that
// flows anywhere other than the notification sink.
type Error struct {
	Category Category
	Status   int
	Message  string
	Fields   map[string][]string
	cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Category, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// UserMessage returns a message suitable for end users: the explicit
// message when present, a category default otherwise.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Category {
	case CategoryTransport:
		return "network error, please try again"
	case CategoryValidation:
		return "some fields need attention"
	case CategoryConflict:
		return "the request conflicts with the current state"
	default:
		return "something went wrong"
	}
}

// New builds an Error with an explicit category.
func New(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

// Transport builds a transport-category error around a cause.
func Transport(message string, cause error) *Error {
	return &Error{Category: CategoryTransport, Message: message, cause: cause}
}

// Validation builds a validation error carrying field detail.
func Validation(message string, fields map[string][]string) *Error {
	return &Error{Category: CategoryValidation, Message: message, Fields: fields}
}

// Conflict builds a business-rule rejection.
func Conflict(message string) *Error {
	return &Error{Category: CategoryConflict, Message: message}
}

// FromStatus classifies an HTTP status code. Remote-call adapters use this
// when all they have is a status and a body message.
func FromStatus(status int, message string) *Error {
	e := &Error{Status: status, Message: message}
	switch {
	case status == 409:
		e.Category = CategoryConflict
	case status == 400 || status == 422:
		e.Category = CategoryValidation
	case status == 408 || status == 429 || (status >= 502 && status <= 504):
		e.Category = CategoryTransport
	default:
		e.Category = CategoryUnknown
	}
	return e
}

// Parse classifies an arbitrary error. Already-classified errors pass
// through; context and net failures become transport; everything else is
// unknown. Parse(nil) is nil.
func Parse(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Transport("request cancelled or timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transport(err.Error(), err)
	}

	return &Error{Category: CategoryUnknown, Message: err.Error(), cause: err}
}

// IsTransport reports whether err classifies as a transport failure.
func IsTransport(err error) bool {
	return categoryOf(err) == CategoryTransport
}

// IsValidation reports whether err classifies as a validation rejection.
func IsValidation(err error) bool {
	return categoryOf(err) == CategoryValidation
}

// IsConflict reports whether err classifies as a business-rule rejection.
func IsConflict(err error) bool {
	return categoryOf(err) == CategoryConflict
}

// FieldsOf returns validation field detail from anywhere in err's chain,
// nil when there is none.
func FieldsOf(err error) map[string][]string {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Fields
	}
	return nil
}

func categoryOf(err error) Category {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Category
	}
	return CategoryUnknown
}
