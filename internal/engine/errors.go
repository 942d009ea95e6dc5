package engine

import (
	"errors"
	"fmt"
)

// ConfigError is returned synchronously when a control operation is given
// an invalid value or an unknown target. Nothing is changed.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ErrUnknownTarget is wrapped by ConfigError for ids that are not registered
var ErrUnknownTarget = errors.New("unknown target")

// IsConfigError checks if an error is a ConfigError
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

func unknownTarget(id int64) error {
	return &ConfigError{Field: "target", Message: fmt.Sprintf("no target #%d", id), Err: ErrUnknownTarget}
}
