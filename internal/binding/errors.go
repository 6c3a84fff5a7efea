package binding

import (
	"errors"
	"fmt"
)

// ConfigError reports an owner that cannot be constructed.
//
// Configuration errors are the only failures the binding layer surfaces.
// Everything that goes wrong after construction (decode failures, store I/O,
// unencodable values) resolves to a value or a no-op and is logged.
type ConfigError struct {
	// Code identifies the error category.
	Code ConfigErrorCode

	// Message is a human-readable description.
	Message string

	// Field names the offending field, if any.
	Field string

	// Key is the storage key involved, if any.
	Key string
}

// ConfigErrorCode categorizes configuration errors.
type ConfigErrorCode string

const (
	// ErrCodeInvalidPrefix indicates a prefix containing '.'.
	ErrCodeInvalidPrefix ConfigErrorCode = "INVALID_PREFIX"

	// ErrCodeInvalidName indicates an empty field name or storage key.
	ErrCodeInvalidName ConfigErrorCode = "INVALID_NAME"

	// ErrCodeDuplicateField indicates two registrations with the same name.
	ErrCodeDuplicateField ConfigErrorCode = "DUPLICATE_FIELD"

	// ErrCodeDuplicateKey indicates two fields resolving to one storage key.
	ErrCodeDuplicateKey ConfigErrorCode = "DUPLICATE_KEY"

	// ErrCodeUnknownField indicates a blacklist or alias naming no field.
	ErrCodeUnknownField ConfigErrorCode = "UNKNOWN_FIELD"

	// ErrCodeNilTarget indicates a registration without a destination.
	ErrCodeNilTarget ConfigErrorCode = "NIL_TARGET"

	// ErrCodeMissingStore indicates live mode without a store.
	ErrCodeMissingStore ConfigErrorCode = "MISSING_STORE"

	// ErrCodeNoChangeBroadcast indicates external reactivity on a store that
	// cannot report changes.
	ErrCodeNoChangeBroadcast ConfigErrorCode = "NO_CHANGE_BROADCAST"

	// ErrCodeOptionType indicates an option whose type does not match the field.
	ErrCodeOptionType ConfigErrorCode = "OPTION_TYPE"

	// ErrCodeInvalidDefault indicates a declared default that cannot be encoded.
	ErrCodeInvalidDefault ConfigErrorCode = "INVALID_DEFAULT"

	// ErrCodeSeed indicates a starting value that could not be stored.
	ErrCodeSeed ConfigErrorCode = "SEED_FAILED"
)

// Error implements the error interface.
func (e *ConfigError) Error() string {
	switch {
	case e.Field != "" && e.Key != "":
		return fmt.Sprintf("%s: %s (field=%s, key=%s)", e.Code, e.Message, e.Field, e.Key)
	case e.Field != "":
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	case e.Key != "":
		return fmt.Sprintf("%s: %s (key=%s)", e.Code, e.Message, e.Key)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsPrefixError reports whether err is an invalid-prefix ConfigError.
func IsPrefixError(err error) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeInvalidPrefix
	}
	return false
}

// ConfigErrorCodeOf returns the code of a wrapped ConfigError, or "".
func ConfigErrorCodeOf(err error) ConfigErrorCode {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func configErrorf(code ConfigErrorCode, field, format string, args ...any) *ConfigError {
	return &ConfigError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}
