package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("document not found")
	ErrInvalidState         = errors.New("invalid document state")
	ErrAlreadyConverted     = errors.New("document already converted")
	ErrInvalidLineItem      = errors.New("invalid line item")
	ErrStorageConflict      = errors.New("storage conflict")
	ErrDownstreamSyncFailed = errors.New("downstream sync failed")
	ErrForbidden            = errors.New("conversion not permitted")
	ErrInvalidWindow        = errors.New("invalid time window")
	ErrInvalidInput         = errors.New("invalid input")
)

// ConversionError carries the document context of a pipeline failure.
// errors.Is matches the wrapped sentinel.
type ConversionError struct {
	Err         error
	DocumentID  int
	Stage       Stage
	Status      Status // current status
	Expected    Status // status the operation required
	SuccessorID *int
	Details     string
}

func (e *ConversionError) Error() string {
	msg := e.Err.Error()

	subject := "document"
	if e.Stage != "" {
		subject = e.Stage.label()
	}
	if e.DocumentID != 0 {
		subject = fmt.Sprintf("%s %d", subject, e.DocumentID)
	}

	switch {
	case e.Status != "" && e.Expected != "":
		msg += fmt.Sprintf(": %s is %s (expected %s)", subject, e.Status, e.Expected)
	case e.Status != "":
		msg += fmt.Sprintf(": %s is %s", subject, e.Status)
	case e.DocumentID != 0:
		msg += ": " + subject
	}
	if e.SuccessorID != nil {
		msg += fmt.Sprintf(", converted to document %d", *e.SuccessorID)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Kind returns a stable machine-readable code for the failure.
func (e *ConversionError) Kind() string {
	return ErrorKind(e.Err)
}

// ErrorKind maps any pipeline error to its code; unknown errors are INTERNAL.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAlreadyConverted):
		return "ALREADY_CONVERTED"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrInvalidLineItem):
		return "INVALID_LINE_ITEM"
	case errors.Is(err, ErrStorageConflict):
		return "STORAGE_CONFLICT"
	case errors.Is(err, ErrDownstreamSyncFailed):
		return "DOWNSTREAM_SYNC_FAILED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrInvalidWindow), errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	}
	return "INTERNAL"
}

func notFound(id int) error {
	return &ConversionError{Err: ErrNotFound, DocumentID: id}
}

func alreadyConverted(doc *CommercialDocument, successorID int) error {
	return &ConversionError{
		Err:         ErrAlreadyConverted,
		DocumentID:  doc.ID,
		Stage:       doc.Stage,
		Status:      doc.Status,
		SuccessorID: &successorID,
	}
}

func invalidLine(lineNumber int, format string, args ...any) error {
	return &ConversionError{
		Err:     ErrInvalidLineItem,
		Details: fmt.Sprintf("line %d: ", lineNumber) + fmt.Sprintf(format, args...),
	}
}
