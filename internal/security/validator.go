package security

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MessageValidator checks chat message content before it is stored
type MessageValidator struct {
	maxLength       int
	blockedPatterns []*regexp.Regexp
}

// NewMessageValidator creates a validator accepting at most maxLength runes
func NewMessageValidator(maxLength int) *MessageValidator {
	patterns := []string{
		`(?i)<\s*script\b`,
		`(?i)javascript\s*:`,
		`(?i)\bon(error|load|click)\s*=`,
		`(?i)data\s*:\s*text/html`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}

	return &MessageValidator{maxLength: maxLength, blockedPatterns: compiled}
}

// ValidationError represents a message validation error
type ValidationError struct {
	Message string
	Pattern string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validate checks that content is a non-empty, bounded, printable text
func (v *MessageValidator) Validate(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return &ValidationError{Message: "empty message"}
	}

	if !utf8.ValidString(content) {
		return &ValidationError{Message: "message is not valid UTF-8"}
	}

	if v.maxLength > 0 && utf8.RuneCountInString(content) > v.maxLength {
		return &ValidationError{Message: "message too long"}
	}

	for _, r := range content {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return &ValidationError{Message: "message contains control characters"}
		}
	}

	for _, pattern := range v.blockedPatterns {
		if pattern.MatchString(content) {
			return &ValidationError{
				Message: "blocked content detected",
				Pattern: pattern.String(),
			}
		}
	}

	return nil
}

// Normalize trims surrounding whitespace and collapses runs of blank lines
func (v *MessageValidator) Normalize(content string) string {
	content = strings.TrimSpace(content)
	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}
	return content
}

// ValidateAndPrepare validates content and returns its normalized form
func (v *MessageValidator) ValidateAndPrepare(content string) (string, error) {
	if err := v.Validate(content); err != nil {
		return "", err
	}
	return v.Normalize(content), nil
}
