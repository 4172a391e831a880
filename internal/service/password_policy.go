package service

import (
	"unicode"
	"unicode/utf8"
)

// Password policy rules. All are mandatory and every violated rule is
// reported, so callers can present complete feedback.
const (
	passwordMinLength = 8

	ruleMinLength = "password must be at least 8 characters long"
	ruleUppercase = "password must contain at least one uppercase letter"
	ruleLowercase = "password must contain at least one lowercase letter"
	ruleDigit     = "password must contain at least one digit"
	ruleSpecial   = "password must contain at least one special character"
)

// ValidatePassword returns the list of violated policy rules, empty when the
// candidate satisfies all of them.
func ValidatePassword(candidate string) []string {
	var violations []string

	if utf8.RuneCountInString(candidate) < passwordMinLength {
		violations = append(violations, ruleMinLength)
	}

	// Uncased letters (CJK and the like) count as letters, never as special
	// characters.
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		violations = append(violations, ruleUppercase)
	}
	if !hasLower {
		violations = append(violations, ruleLowercase)
	}
	if !hasDigit {
		violations = append(violations, ruleDigit)
	}
	if !hasSpecial {
		violations = append(violations, ruleSpecial)
	}

	return violations
}
