package document

import (
	"errors"
	"fmt"
)

// Validation errors returned by Decode. Callers classify with errors.Is.
var (
	// ErrNotObject indicates the document is not a JSON object.
	ErrNotObject = errors.New("document is not a JSON object")

	// ErrInvalidSubjects indicates subjectLiteral is present but not an array.
	ErrInvalidSubjects = errors.New("subjectLiteral is not an array")

	// ErrInvalidElement indicates a subjectLiteral element is not a string.
	ErrInvalidElement = errors.New("invalid element type")
)

// ElementError reports the position and JSON kind of a subjectLiteral
// element that is not a string. It unwraps to ErrInvalidElement.
type ElementError struct {
	Index int
	Kind  string
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("%s[%d]: %s %s, want string", FieldSubjectLiteral, e.Index, ErrInvalidElement, e.Kind)
}

func (e *ElementError) Unwrap() error {
	return ErrInvalidElement
}

// IsInvalid reports whether err is a validation failure of the document
// itself, as opposed to an I/O or transport error around it.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrNotObject) ||
		errors.Is(err, ErrInvalidSubjects) ||
		errors.Is(err, ErrInvalidElement)
}
