package credential

import (
	"strings"
	"testing"
	"time"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validPassword satisfies every default rule: length 15, four classes,
// two specials, no runs or sequences.
const validPassword = "Tr0ub4dor&!mXzQ"

func TestValidateDefaults(t *testing.T) {
	p := DefaultPolicy()

	res := p.Validate(validPassword)
	assert.True(t, res.OK, "errors: %v", res.Errors)
	assert.Empty(t, res.Errors)
	assert.Greater(t, res.Strength, 50)
}

func TestValidateLengthBoundary(t *testing.T) {
	p := DefaultPolicy()

	// Exactly min length passes; one below fails.
	atMin := "Tr0u!d&rGx#Q" // 12 chars
	require.Len(t, atMin, p.MinLength)
	assert.True(t, p.Validate(atMin).OK, "errors: %v", p.Validate(atMin).Errors)

	below := atMin[:p.MinLength-1]
	res := p.Validate(below)
	assert.False(t, res.OK)
	assert.Contains(t, strings.Join(res.Errors, "; "), "at least 12 characters")
}

func TestValidateRules(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name     string
		password string
		wantErr  string
	}{
		{"no uppercase", "tr0ub4dor&!mxzq", "uppercase"},
		{"no digit", "Troubador&!mXzQ", "digit"},
		{"one special only", "Tr0ub4dor!mXzQw", "at least 2 special"},
		{"common password", "Password123", "too common"},
		{"repeated run", "Tr0ub4dooor&!mX", "repeat"},
		{"sequential", "Tr0ubadorabc&!X", "sequential"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Validate(tt.password)
			assert.False(t, res.OK)
			assert.Contains(t, strings.ToLower(strings.Join(res.Errors, "; ")), tt.wantErr)
		})
	}
}

func TestValidateCommonPasswordCaseInsensitive(t *testing.T) {
	p := DefaultPolicy()
	res := p.Validate("QWERTY123")
	assert.False(t, res.OK)
	assert.Contains(t, strings.Join(res.Errors, "; "), "too common")
}

func TestValidateCustomDenylist(t *testing.T) {
	p := DefaultPolicy()
	p.CustomDenylist = []string{"clearpath"}

	res := p.Validate("Cl3arpath&!mXzQ")
	assert.True(t, res.OK) // "clearpath" not a literal substring

	res = p.Validate("MyClearpath&0!Q")
	assert.False(t, res.OK)
	assert.Contains(t, strings.Join(res.Errors, "; "), "disallowed term")
}

func TestStrengthOrdering(t *testing.T) {
	weak := Strength("password")
	strong := Strength("kH8#mQ2$vL9@xR4&")
	assert.Less(t, weak.Score, strong.Score)
	assert.GreaterOrEqual(t, weak.Score, 0)
	assert.LessOrEqual(t, strong.Score, 100)
	assert.NotEmpty(t, weak.Feedback)
}

func TestServiceValidatePolicyViolation(t *testing.T) {
	svc := NewService(newTestHasher(), DefaultPolicy(), store.SystemClock{}, discardLogger())

	_, err := svc.Validate("short")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPolicyViolation))

	res, err := svc.Validate(validPassword)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestLockoutMath(t *testing.T) {
	clock := &store.FixedClock{Instant: time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)}
	svc := NewService(newTestHasher(), DefaultPolicy(), clock, discardLogger())

	assert.False(t, svc.ShouldLock(4))
	assert.True(t, svc.ShouldLock(5))
	assert.True(t, svc.ShouldLock(6))

	assert.Equal(t, clock.Instant.Add(30*time.Minute), svc.UnlockAt())
}

func TestChangeAllowedMinAge(t *testing.T) {
	clock := &store.FixedClock{Instant: time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)}
	svc := NewService(newTestHasher(), DefaultPolicy(), clock, discardLogger())

	assert.False(t, svc.ChangeAllowed(clock.Instant.Add(-23*time.Hour)))
	assert.True(t, svc.ChangeAllowed(clock.Instant.Add(-25*time.Hour)))
}

func TestIsInHistory(t *testing.T) {
	hasher := newTestHasher()
	policy := DefaultPolicy()
	policy.HistoryCount = 2
	svc := NewService(hasher, policy, store.SystemClock{}, discardLogger())

	oldest, err := hasher.Hash("oldest-password")
	require.NoError(t, err)
	middle, err := hasher.Hash("middle-password")
	require.NoError(t, err)
	newest, err := hasher.Hash("newest-password")
	require.NoError(t, err)

	history := []string{newest, middle, oldest} // newest first

	assert.True(t, svc.IsInHistory("newest-password", history))
	assert.True(t, svc.IsInHistory("middle-password", history))
	// Outside the history window of 2.
	assert.False(t, svc.IsInHistory("oldest-password", history))
	assert.False(t, svc.IsInHistory("never-used", history))
}
