package config

import "fmt"

// ErrorKind classifies configuration errors.
type ErrorKind string

const (
	// KindInvalidSchema marks a field whose value is malformed or outside
	// its allowed range.
	KindInvalidSchema ErrorKind = "InvalidSchema"
	// KindDuplicateKey marks a key that must be unique but appears twice.
	KindDuplicateKey ErrorKind = "DuplicateKey"
)

// ConfigError is a structured error produced while loading or validating
// configuration. It always names the offending field so the operator can fix
// the file without guessing.
type ConfigError struct {
	Kind    ErrorKind `json:"kind"`
	Field   string    `json:"field"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error (%s) field %q: %s", e.Kind, e.Field, e.Message)
}

func invalidSchema(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{
		Kind:    KindInvalidSchema,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

func duplicateKey(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{
		Kind:    KindDuplicateKey,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}
