package util

import "fmt"

type KcoreError struct {
	Message string
	Err     error
}

func (e *KcoreError) Error() string {
	return e.Message
}

func (e *KcoreError) Unwrap() error {
	return e.Err
}

// InvariantError reports corruption or a caller bug. It is raised with panic,
// never returned.
type InvariantError struct {
	*KcoreError
}

// ExhaustedError reports a pool that is too small for the workload.
type ExhaustedError struct {
	*KcoreError
}

func Invariant(format string, args ...any) {
	panic(&InvariantError{&KcoreError{Message: fmt.Sprintf(format, args...)}})
}

func Exhausted(format string, args ...any) {
	panic(&ExhaustedError{&KcoreError{Message: fmt.Sprintf(format, args...)}})
}
