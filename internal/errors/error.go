package errors

import (
	stderrors "errors"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryAddress  Category = "address"
	CategoryBind     Category = "bind"
	CategoryPlugin   Category = "plugin"
	CategoryProtocol Category = "protocol"
	CategoryCLI      Category = "cli"
)

// MushroomError is a coded error with an explanation and a suggested fix,
// rendered for operators by Format.
type MushroomError struct {
	// Code is a unique error identifier (e.g., "E211").
	Code string

	// Category is the error type (config, bind, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Subject is the value the error is about, such as an address or a file.
	Subject string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Example shows the correct usage.
	Example string

	// DocURL is a link to documentation about this error.
	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *MushroomError) Error() string {
	msg := e.Message
	if e.Subject != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Subject)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *MushroomError) Unwrap() error {
	return e.Wrapped
}

// WithSubject names the value the error is about.
func (e *MushroomError) WithSubject(s string) *MushroomError {
	e.Subject = s
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *MushroomError) WithSuggestion(s string) *MushroomError {
	e.Suggestion = s
	return e
}

// WithExample adds a usage example to the error.
func (e *MushroomError) WithExample(ex string) *MushroomError {
	e.Example = ex
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *MushroomError) WithDetail(d string) *MushroomError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *MushroomError) Wrap(err error) *MushroomError {
	e.Wrapped = err
	return e
}

// New creates a MushroomError from a registered error code.
func New(code string) *MushroomError {
	template, ok := GetTemplate(code)
	if !ok {
		return &MushroomError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &MushroomError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
		DocURL:     template.DocURL,
	}
}

// Newf creates a MushroomError with a formatted message and no code.
func Newf(category Category, format string, args ...any) *MushroomError {
	return &MushroomError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps err under code unless it already is a MushroomError.
func FromError(err error, code string) *MushroomError {
	if err == nil {
		return nil
	}
	var me *MushroomError
	if stderrors.As(err, &me) {
		return me
	}
	return New(code).Wrap(err)
}

// Is reports whether err is a MushroomError with the given code.
func Is(err error, code string) bool {
	var me *MushroomError
	return stderrors.As(err, &me) && me.Code == code
}
