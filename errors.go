package handle

import "fmt"

// ConfigError reports an invalid construction parameter: an element size
// smaller than the handle link width, a block size that doesn't fit the
// index space, or a max-block count that overflows it.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("handle: invalid %s: %s", e.Field, e.Message)
}

func newConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}
