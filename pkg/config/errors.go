package config

import (
	"fmt"

	"berryplc/pkg/plcerror"
)

// ConfigError decorates a coded runtime error with the section and
// option it came from, so a message can point at the offending line of
// the machine file.
type ConfigError struct {
	Section string
	Option  string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Option != "" {
		return fmt.Sprintf("Option '%s' in section '%s': %s", e.Option, e.Section, e.Message)
	}
	if e.Section != "" {
		return fmt.Sprintf("Section '%s': %s", e.Section, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying coded error, so callers can route on
// plcerror.CodeOf no matter where the failure surfaced.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a validation error with optional section and
// option context.
func NewConfigError(section, option, message string) *ConfigError {
	return &ConfigError{
		Section: section,
		Option:  option,
		Message: message,
		Cause:   plcerror.New(plcerror.ErrConfigValidation, "%s", message),
	}
}

// ErrMissingOption reports a required option that is absent.
func ErrMissingOption(section, option string) *ConfigError {
	return &ConfigError{
		Section: section,
		Option:  option,
		Message: "must be specified",
		Cause:   plcerror.New(plcerror.ErrConfigOption, "option %q missing in section %q", option, section),
	}
}

// ErrMissingSection reports a required section that is absent.
func ErrMissingSection(section string) *ConfigError {
	return &ConfigError{
		Section: section,
		Message: "section not found",
		Cause:   plcerror.New(plcerror.ErrConfigSection, "section %q not found", section),
	}
}

// ErrInvalidValue reports a value that failed to parse.
func ErrInvalidValue(section, option, value, expected string) *ConfigError {
	return withValidationCause(&ConfigError{
		Section: section,
		Option:  option,
		Message: fmt.Sprintf("invalid value '%s', expected %s", value, expected),
	})
}

// ErrOutOfRange reports a value outside its allowed range.
func ErrOutOfRange(section, option string, value float64, constraint string) *ConfigError {
	return withValidationCause(&ConfigError{
		Section: section,
		Option:  option,
		Message: fmt.Sprintf("value %v %s", value, constraint),
	})
}

// ErrInvalidChoice reports a value not among the allowed choices.
func ErrInvalidChoice(section, option, value string, choices []string) *ConfigError {
	return withValidationCause(&ConfigError{
		Section: section,
		Option:  option,
		Message: fmt.Sprintf("'%s' is not a valid choice (valid: %v)", value, choices),
	})
}

func withValidationCause(e *ConfigError) *ConfigError {
	e.Cause = plcerror.New(plcerror.ErrConfigValidation, "%s", e.Message)
	return e
}
