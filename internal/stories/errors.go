package stories

import "fmt"

// ErrorKind classifies a ConfigError.
type ErrorKind string

const (
	KindIO           ErrorKind = "io"
	KindParse        ErrorKind = "parse"
	KindEmpty        ErrorKind = "empty"
	KindMissingField ErrorKind = "missing_field"
	KindInvalidEnum  ErrorKind = "invalid_enum"
)

// ConfigError reports why a stories file was rejected. Index is the
// zero-based story position, or -1 for file-level problems.
type ConfigError struct {
	Kind   ErrorKind
	Index  int
	Field  string
	Value  string
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	prefix := "stories"
	if e.Source != "" {
		prefix = "stories " + e.Source
	}
	switch e.Kind {
	case KindMissingField:
		return fmt.Sprintf("%s: story %d: missing required field %q", prefix, e.Index, e.Field)
	case KindInvalidEnum:
		return fmt.Sprintf("%s: story %d: invalid %s %q", prefix, e.Index, e.Field, e.Value)
	case KindEmpty:
		return fmt.Sprintf("%s: no stories defined", prefix)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Kind)
}

func (e *ConfigError) Unwrap() error { return e.Err }
