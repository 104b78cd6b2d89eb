// Package errdefs defines the user-facing failure kinds of a conversion run.
package errdefs

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies why a conversion run terminated.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation covers missing inputs and unusable output paths.
	KindValidation
	// KindGeoreferencing covers malformed descriptors and failed projections.
	KindGeoreferencing
	// KindModelConversion covers failures of the external mesh converter.
	KindModelConversion
	// KindFileProcessing covers vertex extraction and rewriting failures.
	KindFileProcessing
	// KindPackaging covers failures writing the output archive.
	KindPackaging
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindGeoreferencing:
		return "GeoreferencingError"
	case KindModelConversion:
		return "ModelConversionError"
	case KindFileProcessing:
		return "FileProcessingError"
	case KindPackaging:
		return "PackagingError"
	default:
		return "UnknownError"
	}
}

// Error attaches a Kind and the failing operation to an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and op. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op string, err error) error      { return New(KindValidation, op, err) }
func Georeferencing(op string, err error) error  { return New(KindGeoreferencing, op, err) }
func ModelConversion(op string, err error) error { return New(KindModelConversion, op, err) }
func FileProcessing(op string, err error) error  { return New(KindFileProcessing, op, err) }
func Packaging(op string, err error) error       { return New(KindPackaging, op, err) }

// KindOf returns the outermost Kind found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
