package settings

import (
	"fmt"
	"regexp"
)

// keyPattern matches hierarchical setting keys: lowercase segments of letters
// and underscores joined by dots ("ui.window.width").
var keyPattern = regexp.MustCompile(`^[a-z_]+(\.[a-z_]+)*$`)

// maxStringLength is the cap beyond which string values produce a warning.
const maxStringLength = 1000

// ValidationResult aggregates per-key validation errors and warnings.
// Warnings do not make a result invalid.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *ValidationResult) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Valid = false
}

func (r *ValidationResult) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// merge folds another result into this one, prefixing messages with the key.
func (r *ValidationResult) merge(key string, other ValidationResult) {
	for _, e := range other.Errors {
		r.addError("%s: %s", key, e)
	}
	for _, w := range other.Warnings {
		r.addWarning("%s: %s", key, w)
	}
}

// ValidKey reports whether a setting key matches the required pattern.
func ValidKey(key string) bool {
	return key != "" && keyPattern.MatchString(key)
}

// ValidateValue checks a value against the domain rules for its key.
// Unknown keys pass with only the generic checks applied.
func ValidateValue(key string, value Value) ValidationResult {
	result := ValidationResult{Valid: true}

	switch key {
	case KeyUIWindowWidth:
		if i, ok := value.AsInt(); !ok || i < 400 || i > 10000 {
			result.addError("window width must be an integer between 400 and 10000")
		}
	case KeyUIWindowHeight:
		if i, ok := value.AsInt(); !ok || i < 300 || i > 10000 {
			result.addError("window height must be an integer between 300 and 10000")
		}
	case KeyPlaybackDefaultSpeed:
		if f, ok := value.AsFloat(); !ok || f <= 0 || f > 10 {
			result.addError("playback speed must be greater than 0 and at most 10")
		}
	case KeyLogLevel:
		s, ok := value.AsString()
		if !ok || (s != "DEBUG" && s != "INFO" && s != "WARNING" && s != "ERROR") {
			result.addError("log level must be one of DEBUG, INFO, WARNING, ERROR")
		}
	case KeyRecordingMaxActions:
		if i, ok := value.AsInt(); !ok || i < 1 || i > 100000 {
			result.addError("max actions must be an integer between 1 and 100000")
		}
	}

	// Generic checks independent of the key
	if s, ok := value.AsString(); ok && len(s) > maxStringLength {
		result.addWarning("string value exceeds %d characters", maxStringLength)
	}

	return result
}

// ValidateEntries validates a batch of entries as a whole. Any key or value
// error marks the batch invalid.
func ValidateEntries(entries map[string]Value) ValidationResult {
	result := ValidationResult{Valid: true}

	for key, value := range entries {
		if !ValidKey(key) {
			result.addError("invalid setting key: %q", key)
			continue
		}
		result.merge(key, ValidateValue(key, value))
	}

	return result
}
