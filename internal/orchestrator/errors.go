package orchestrator

import (
	"errors"
	"fmt"
)

// ErrNoLocator means a task has neither a product URL nor an ASIN.
var ErrNoLocator = errors.New("task has neither URL nor ASIN")

// ErrorKind classifies why a task was released.
type ErrorKind string

const (
	// KindData: the task itself is unusable until someone edits it.
	KindData ErrorKind = "data"
	// KindTransient: infrastructure failed; the next cycle may succeed.
	KindTransient ErrorKind = "transient"
	// KindBusiness: the page refused the action (no button, out of stock).
	KindBusiness ErrorKind = "business"
)

func (k ErrorKind) String() string {
	return string(k)
}

// TaskError is a classified failure of one task.
type TaskError struct {
	Kind   ErrorKind
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %s: %v", e.TaskID, e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Retryable reports whether re-dispatching the unchanged task may succeed.
func (e *TaskError) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindBusiness:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a retryable TaskError.
func IsRetryable(err error) bool {
	var te *TaskError
	return errors.As(err, &te) && te.Retryable()
}
