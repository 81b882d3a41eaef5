package walk

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedMatcher = errors.New("unsupported matcher type")
	ErrInvalidPattern     = errors.New("invalid match pattern")
	ErrInvalidHandler     = errors.New("handler needs a found or changed callback")
)

// ConfigError reports a registration or setup mistake. It is returned before
// any traversal happens.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErr(op string, err error) error {
	return &ConfigError{Op: op, Err: err}
}

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}
