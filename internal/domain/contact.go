package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// RespondentContact is the immutable snapshot of a respondent copied into a
// queue entry at enqueue time. Geographic tags drive priority selection.
type RespondentContact struct {
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number"`
	CountryCode  string `json:"country_code,omitempty"`
	AssemblyUnit string `json:"assembly_unit,omitempty"`
	ParentUnit   string `json:"parent_unit,omitempty"`
	SubUnit      string `json:"sub_unit,omitempty"`
}

// NormalizePhone strips separators and validates the remaining digits.
// Returns ErrValidation for anything that cannot be dialed.
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsDigit(r):
			return r
		case r == '+':
			return r
		default:
			return -1
		}
	}, strings.TrimSpace(raw))

	digits := strings.TrimPrefix(cleaned, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return "", fmt.Errorf("%w: phone number %q", ErrValidation, raw)
	}
	for _, r := range digits {
		if !unicode.IsDigit(r) {
			return "", fmt.Errorf("%w: phone number %q", ErrValidation, raw)
		}
	}
	return cleaned, nil
}

func (c RespondentContact) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: contact name is required", ErrValidation)
	}
	if _, err := NormalizePhone(c.PhoneNumber); err != nil {
		return err
	}
	return nil
}
