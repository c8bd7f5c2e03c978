package credential

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Policy is the password rule set enforced at validation time. It is
// injected at construction; DefaultPolicy() carries enterprise-grade values.
type Policy struct {
	MinLength           int
	MaxLength           int
	RequireUppercase    bool
	RequireLowercase    bool
	RequireDigit        bool
	RequireSpecial      bool
	MinSpecialCount     int
	MinCharacterClasses int
	HistoryCount        int
	MaxAge              time.Duration
	MinAge              time.Duration
	LockoutThreshold    int
	LockoutDuration     time.Duration
	// CustomDenylist carries per-tenant banned terms, compared
	// case-insensitively as substrings.
	CustomDenylist []string
}

// DefaultPolicy returns the enterprise defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:           12,
		MaxLength:           128,
		RequireUppercase:    true,
		RequireLowercase:    true,
		RequireDigit:        true,
		RequireSpecial:      true,
		MinSpecialCount:     2,
		MinCharacterClasses: 3,
		HistoryCount:        12,
		MaxAge:              90 * 24 * time.Hour,
		MinAge:              24 * time.Hour,
		LockoutThreshold:    5,
		LockoutDuration:     30 * time.Minute,
	}
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	OK       bool
	Errors   []string
	Strength int // [0,100]
}

// commonPasswords is a denial shortlist; the full corpus lives with the
// protocol adapters that sync breach databases.
var commonPasswords = map[string]struct{}{
	"password":      {},
	"password1":     {},
	"password123":   {},
	"passw0rd":      {},
	"123456":        {},
	"12345678":      {},
	"123456789":     {},
	"1234567890":    {},
	"qwerty":        {},
	"qwerty123":     {},
	"letmein":       {},
	"welcome":       {},
	"welcome1":      {},
	"admin":         {},
	"administrator": {},
	"iloveyou":      {},
	"monkey":        {},
	"dragon":        {},
	"sunshine":      {},
	"trustno1":      {},
}

type charClasses struct {
	upper, lower, digit, special int
}

func classify(password string) charClasses {
	var c charClasses
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			c.upper++
		case unicode.IsLower(r):
			c.lower++
		case unicode.IsDigit(r):
			c.digit++
		default:
			c.special++
		}
	}
	return c
}

func (c charClasses) distinct() int {
	n := 0
	for _, v := range []int{c.upper, c.lower, c.digit, c.special} {
		if v > 0 {
			n++
		}
	}
	return n
}

// hasRepeatedRun reports a run of the same character longer than two.
func hasRepeatedRun(password string) bool {
	runes := []rune(password)
	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run > 2 {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// hasSequentialRun reports three or more strictly consecutive code
// points, ascending or descending (abc, 321).
func hasSequentialRun(password string) bool {
	runes := []rune(strings.ToLower(password))
	asc, desc := 1, 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1]+1 {
			asc++
			desc = 1
		} else if runes[i] == runes[i-1]-1 {
			desc++
			asc = 1
		} else {
			asc, desc = 1, 1
		}
		if asc >= 3 || desc >= 3 {
			return true
		}
	}
	return false
}

// Validate enforces the policy and returns every violated rule.
func (p Policy) Validate(password string) ValidationResult {
	var errs []string

	if len(password) < p.MinLength {
		errs = append(errs, fmt.Sprintf("must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		errs = append(errs, fmt.Sprintf("must be at most %d characters", p.MaxLength))
	}

	c := classify(password)
	if p.RequireUppercase && c.upper == 0 {
		errs = append(errs, "must contain an uppercase letter")
	}
	if p.RequireLowercase && c.lower == 0 {
		errs = append(errs, "must contain a lowercase letter")
	}
	if p.RequireDigit && c.digit == 0 {
		errs = append(errs, "must contain a digit")
	}
	if p.RequireSpecial && c.special == 0 {
		errs = append(errs, "must contain a special character")
	}
	if p.MinSpecialCount > 0 && c.special < p.MinSpecialCount {
		errs = append(errs, fmt.Sprintf("must contain at least %d special characters", p.MinSpecialCount))
	}
	if p.MinCharacterClasses > 0 && c.distinct() < p.MinCharacterClasses {
		errs = append(errs, fmt.Sprintf("must use at least %d character classes", p.MinCharacterClasses))
	}

	lowered := strings.ToLower(password)
	if _, ok := commonPasswords[lowered]; ok {
		errs = append(errs, "is too common")
	}
	if hasRepeatedRun(password) {
		errs = append(errs, "must not repeat a character more than twice in a row")
	}
	if hasSequentialRun(password) {
		errs = append(errs, "must not contain sequential characters")
	}
	for _, banned := range p.CustomDenylist {
		if banned != "" && strings.Contains(lowered, strings.ToLower(banned)) {
			errs = append(errs, "contains a disallowed term")
			break
		}
	}

	strength := Strength(password)
	return ValidationResult{OK: len(errs) == 0, Errors: errs, Strength: strength.Score}
}
