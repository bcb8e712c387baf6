package transport

import "errors"

var (
	ErrDestroyed        = errors.New("object already destroyed")
	ErrNotListening     = errors.New("switch is not listening")
	ErrAlreadyListening = errors.New("switch is already listening")
	ErrRuntimeInactive  = errors.New("transport runtime not initialized")
	ErrUnbalancedTerm   = errors.New("term called more times than init")
	ErrEmptyBuffer      = errors.New("read buffer is empty")
)

// UsageError 调用方编程错误，以 panic 形式抛出
type UsageError struct {
	Op  string
	Err error
}

func (e *UsageError) Error() string {
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

func misuse(op string, err error) {
	panic(&UsageError{Op: op, Err: err})
}
