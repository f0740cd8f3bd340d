// Package conll converts CoNLL-style tagged corpora into train/val/test splits
// and token-classification records.
package conll

import (
	"errors"
	"fmt"
)

// Configuration error kinds. Callers match them with errors.Is.
var (
	ErrRatioSum         = errors.New("the sum of the split ratios exceeds 1.0")
	ErrRatioCount       = errors.New("ratios must be three comma-separated numbers")
	ErrRatioValue       = errors.New("invalid split ratio")
	ErrMalformedMapping = errors.New("invalid tag mapping")
)

// ErrFallbackUnregistered is returned when an unknown tag has to fall back to
// FallbackTag but FallbackTag itself was never registered.
var ErrFallbackUnregistered = errors.New("fallback tag is not registered")

// ConfigError reports a bad job configuration (ratios or tag mapping).
// It is raised before any shuffling or file I/O happens.
type ConfigError struct {
	Kind   error
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ConfigError) Unwrap() error { return e.Kind }

func configErrorf(kind error, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err (or anything it wraps) is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
