package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var errNegative = errors.New("must not be negative")

// FieldError ties a decoding problem to its dotted config path.
type FieldError struct {
	Path string
	Raw  string
	Err  error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: invalid duration %q: %v", e.Path, e.Raw, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// ParseDuration parses a Go duration string found at path. Empty is 0.
func ParseDuration(path, raw string) (time.Duration, error) {
	return parseDuration(path, raw, 0)
}

// ParseDurationDefault is ParseDuration with def for empty or zero values.
func ParseDurationDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return parseDuration(path, raw, def)
}

func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, &FieldError{Path: path, Raw: raw, Err: err}
	case d < 0:
		return 0, &FieldError{Path: path, Raw: raw, Err: errNegative}
	case d == 0:
		return def, nil
	}
	return d, nil
}
