package da

import "fmt"

// ConfigError reports malformed or inconsistent experiment inputs.
// It is raised at cycle entry and is fatal to the configuration.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Msg
}

// Configf returns a ConfigError with a formatted message.
func Configf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// NumericError reports a failed factorization or a nonconvergent
// minimization inside an analysis kernel. It is fatal to the cycle:
// a kernel that cannot produce a transform is unusable.
type NumericError struct {
	// Op names the operation that failed, e.g. "svd" or "brent"
	Op  string
	Err error
}

func (e *NumericError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("numeric: %s: %v", e.Op, e.Err)
	}
	return "numeric: " + e.Op
}

func (e *NumericError) Unwrap() error {
	return e.Err
}

// Numericf returns a NumericError for op with a formatted message.
func Numericf(op, format string, args ...any) error {
	return &NumericError{Op: op, Err: fmt.Errorf(format, args...)}
}
