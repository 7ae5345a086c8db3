// Package validate checks user-supplied chat inputs. Validators return a list
// of human-readable problems; an empty list means the input is acceptable.
package validate

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	DisplayNameMinLength = 2
	DisplayNameMaxLength = 20
	SecretKeyMinLength   = 3
	SecretKeyMaxLength   = 100
	MessageMaxLength     = 1000
)

var displayNamePattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

// DisplayName validates a display name against length and character rules.
func DisplayName(name string) []string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return []string{"Display name is required"}
	}

	var errs []string
	if len(trimmed) < DisplayNameMinLength {
		errs = append(errs, fmt.Sprintf("Display name must be at least %d characters", DisplayNameMinLength))
	}
	if len(trimmed) > DisplayNameMaxLength {
		errs = append(errs, fmt.Sprintf("Display name must be less than %d characters", DisplayNameMaxLength))
	}
	if !displayNamePattern.MatchString(trimmed) {
		errs = append(errs, "Display name can only contain letters, numbers, spaces, hyphens and underscores")
	}
	return errs
}

// SecretKey validates a passphrase. Only length rules apply; any characters
// are allowed.
func SecretKey(key string) []string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return []string{"Secret key is required"}
	}

	var errs []string
	if len(trimmed) < SecretKeyMinLength {
		errs = append(errs, fmt.Sprintf("Secret key must be at least %d characters", SecretKeyMinLength))
	}
	if len(trimmed) > SecretKeyMaxLength {
		errs = append(errs, fmt.Sprintf("Secret key must be less than %d characters", SecretKeyMaxLength))
	}
	return errs
}

// Message validates outbound message text.
func Message(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []string{"Message cannot be empty"}
	}
	if len(trimmed) > MessageMaxLength {
		return []string{fmt.Sprintf("Message must be less than %d characters", MessageMaxLength)}
	}
	return nil
}
