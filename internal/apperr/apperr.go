package apperr

import (
  "errors"
  "fmt"
  "net/http"
)

// Kind classifies an error for transport mapping. NotFound deliberately
// covers both "absent" and "not owned by caller" so one user cannot probe
// for another user's chat ids.
type Kind string

const (
  KindValidation          Kind = "validation"
  KindAuth                Kind = "auth"
  KindNotFound            Kind = "not_found"
  KindUpstreamGeneration  Kind = "upstream_generation"
  KindUnsupportedDocument Kind = "unsupported_document"
  KindEmptyDocument       Kind = "empty_document"
  KindPersistence         Kind = "persistence"
)

type Error struct {
  Kind    Kind
  Message string
  Fields  []FieldError
  Err     error
}

// FieldError carries field-level validation detail for the REST envelope.
type FieldError struct {
  Field   string `json:"field"`
  Message string `json:"message"`
}

func (e *Error) Error() string {
  if e.Err != nil {
    return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
  }
  return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
  return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
  return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string, fields ...FieldError) *Error {
  return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// KindOf reports the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
  var ae *Error
  if errors.As(err, &ae) {
    return ae.Kind
  }
  return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
  return KindOf(err) == kind
}

// HTTPStatus maps an error to the REST status code. Unknown errors are
// treated as internal.
func HTTPStatus(err error) int {
  switch KindOf(err) {
  case KindValidation, KindUnsupportedDocument, KindEmptyDocument:
    return http.StatusBadRequest
  case KindAuth:
    return http.StatusUnauthorized
  case KindNotFound:
    return http.StatusNotFound
  default:
    return http.StatusInternalServerError
  }
}

// UserMessage returns the message safe to surface to the caller.
func UserMessage(err error) string {
  var ae *Error
  if errors.As(err, &ae) {
    return ae.Message
  }
  return "internal server error"
}

// FieldsOf returns the validation detail list, if any.
func FieldsOf(err error) []FieldError {
  var ae *Error
  if errors.As(err, &ae) {
    return ae.Fields
  }
  return nil
}
