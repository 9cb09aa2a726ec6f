package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrInvalidSubject    = sterrors.New("sparked: invalid subject")
	ErrInvalidPattern    = sterrors.New("sparked: invalid subject pattern")
	ErrCallbackRequired  = sterrors.New("sparked: callback is required")
	ErrBusRequired       = sterrors.New("sparked: bus is required")
	ErrStoreRequired     = sterrors.New("sparked: store is required")
	ErrModelRequired     = sterrors.New("sparked: model name is required")
	ErrDuplicateModel    = sterrors.New("sparked: duplicate model name")
	ErrUnknownModel      = sterrors.New("sparked: unknown model")
	ErrUnknownAction     = sterrors.New("sparked: unknown action")
	ErrUnknownController = sterrors.New("sparked: unknown controller")
	ErrHandlerRequired   = sterrors.New("sparked: handler function is required")
	ErrInvalidMessage    = sterrors.New("sparked: invalid message")
	ErrRequestTimeout    = sterrors.New("sparked: request timed out")
	ErrConfigRequired    = sterrors.New("sparked: configuration is required")
	ErrLoggerRequired    = sterrors.New("sparked: logger is required")
	ErrTransportRequired = sterrors.New("sparked: transport is required")
	ErrReplyError        = sterrors.New("sparked: request answered with an error")
)

// ConfigValidationError wraps everything Config.Validate reported.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("sparked: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
