package governance

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrUnknownAction     = errors.New("unknown action")
	ErrInvalidTrustLevel = errors.New("invalid trust level")
	ErrReceiptNotFound   = errors.New("receipt not found")
	// ErrAlreadyProcessed is reported as an outcome, never as a failure.
	ErrAlreadyProcessed = errors.New("already processed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidResult    = errors.New("invalid action result")
)

// ConfigurationError reports a (module, action) that cannot be governed.
type ConfigurationError struct {
	Module string
	Action string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s.%s: %v", e.Module, e.Action, e.Err)
}

func (e *ConfigurationError) Unwrap() []error {
	return []error{ErrConfiguration, e.Err}
}
