package models

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError reports a rejected field value before it reaches storage
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidateTitle rejects empty or whitespace-only titles
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	return nil
}

// IsValidPriority checks if a priority is valid
func IsValidPriority(p Priority) bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// NormalizePriority converts alternate priority spellings to canonical form.
// Accepts: "h", "m", "l", "1", "2", "3" and any casing of the full names.
func NormalizePriority(p string) Priority {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "h", "1", "high":
		return PriorityHigh
	case "m", "2", "medium", "med":
		return PriorityMedium
	case "l", "3", "low":
		return PriorityLow
	default:
		return Priority(p)
	}
}

// ParsePriority normalizes p and validates it. Empty input yields PriorityMedium.
func ParsePriority(p string) (Priority, error) {
	if strings.TrimSpace(p) == "" {
		return PriorityMedium, nil
	}
	pr := NormalizePriority(p)
	if !IsValidPriority(pr) {
		return "", &ValidationError{Field: "priority", Message: fmt.Sprintf("%q is not one of high, medium, low", p)}
	}
	return pr, nil
}

// ParseDueDate validates a YYYY-MM-DD due date. Empty input is allowed.
func ParseDueDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", &ValidationError{Field: "dueDate", Message: fmt.Sprintf("%q is not a YYYY-MM-DD date", s)}
	}
	return s, nil
}

// ValidatePatch checks the fields a patch sets
func ValidatePatch(p TaskPatch) error {
	if p.Title != nil {
		if err := ValidateTitle(*p.Title); err != nil {
			return err
		}
	}
	if p.Priority != nil && !IsValidPriority(*p.Priority) {
		return &ValidationError{Field: "priority", Message: fmt.Sprintf("%q is not one of high, medium, low", *p.Priority)}
	}
	if p.DueDate != nil && !p.ClearDueDate {
		if _, err := ParseDueDate(*p.DueDate); err != nil {
			return err
		}
	}
	return nil
}
