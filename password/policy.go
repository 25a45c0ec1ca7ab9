package password

import (
	"strings"
	"unicode"
)

// MinLength is the minimum password length in characters.
const MinLength = 8

// SpecialCharacters is the set of which at least one must appear.
const SpecialCharacters = "@$!%*?&"

// PolicyError lists every rule a candidate password failed.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password policy: " + strings.Join(e.Violations, "; ")
}

// CheckStrength returns a *PolicyError when pw does not meet the policy.
func CheckStrength(pw string) error {
	var (
		lower, upper, digit, special bool
		length                       int
	)
	for _, r := range pw {
		length++
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(SpecialCharacters, r):
			special = true
		}
	}

	var v []string
	if length < MinLength {
		v = append(v, "must be at least 8 characters")
	}
	if !lower {
		v = append(v, "must contain a lowercase letter")
	}
	if !upper {
		v = append(v, "must contain an uppercase letter")
	}
	if !digit {
		v = append(v, "must contain a digit")
	}
	if !special {
		v = append(v, "must contain one of "+SpecialCharacters)
	}
	if len(v) > 0 {
		return &PolicyError{Violations: v}
	}
	return nil
}
