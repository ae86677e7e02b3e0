package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// StreamTypeRegex validates logical stream names such as "pmedia" or "palerts"
	StreamTypeRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

	// MediaIDRegex validates mixer sink-input identifiers
	MediaIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateStreamType validates a streamType or sourceType parameter
func ValidateStreamType(streamType string) error {
	if streamType == "" {
		return fmt.Errorf("stream type is required")
	}
	if len(streamType) > 64 {
		return fmt.Errorf("stream type is too long (max 64 characters)")
	}
	if !StreamTypeRegex.MatchString(streamType) {
		return fmt.Errorf("invalid stream type format")
	}
	return nil
}

// ValidateVolume checks the range accepted by every stream type
func ValidateVolume(volume int) error {
	if volume < 0 || volume > 100 {
		return fmt.Errorf("volume %d is outside [0,100]", volume)
	}
	return nil
}

// ValidateVolumeBounds checks a min/default/max/policy tuple from a policy document
func ValidateVolumeBounds(min, def, max, policy int) error {
	if err := ValidateVolume(min); err != nil {
		return fmt.Errorf("minVolume: %w", err)
	}
	if err := ValidateVolume(max); err != nil {
		return fmt.Errorf("maxVolume: %w", err)
	}
	if min > max {
		return fmt.Errorf("minVolume %d is greater than maxVolume %d", min, max)
	}
	if def < min || def > max {
		return fmt.Errorf("defaultVolume %d is outside [%d,%d]", def, min, max)
	}
	if policy < min || policy > max {
		return fmt.Errorf("policyVolume %d is outside [%d,%d]", policy, min, max)
	}
	return nil
}

// ValidateMediaID validates a sink-input identifier
func ValidateMediaID(mediaID string) error {
	if mediaID == "" {
		return fmt.Errorf("media ID is required")
	}
	if len(mediaID) > 64 {
		return fmt.Errorf("media ID is too long (max 64 characters)")
	}
	if !MediaIDRegex.MatchString(mediaID) {
		return fmt.Errorf("invalid media ID format")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
