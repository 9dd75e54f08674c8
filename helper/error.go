package helper

import "fmt"

// Error wraps an error with the operation that produced it.
type Error struct {
	Operation string
	Err       error
}

// NewError wraps err with the name of the failed operation.
// It returns nil if err is nil.
func NewError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Operation: operation,
		Err:       err,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the wrapped error so errors.Is and errors.As work through it.
func (e *Error) Unwrap() error {
	return e.Err
}
