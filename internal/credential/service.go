// Package credential computes and verifies password hashes, enforces the
// password policy, and owns the lockout and aging math.
package credential

import (
	"log/slog"
	"time"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/store"
)

// Service binds a Hasher to a Policy and a Clock.
type Service struct {
	hasher Hasher
	policy Policy
	clock  store.Clock
	log    *slog.Logger
}

func NewService(hasher Hasher, policy Policy, clock store.Clock, log *slog.Logger) *Service {
	return &Service{hasher: hasher, policy: policy, clock: clock, log: log}
}

// Policy exposes the active rule set (lockout parameters are read by the
// identity service).
func (s *Service) Policy() Policy { return s.policy }

// Hash computes the encoded hash of the password.
func (s *Service) Hash(password string) (string, error) {
	return s.hasher.Hash(password)
}

// Verify compares a candidate against an encoded hash in constant time.
func (s *Service) Verify(password, encoded string) bool {
	return s.hasher.Verify(password, encoded)
}

// Validate checks the candidate against the policy. A failing candidate
// yields a PolicyViolation carrying every broken rule.
func (s *Service) Validate(password string) (ValidationResult, error) {
	result := s.policy.Validate(password)
	if !result.OK {
		return result, apperr.PolicyViolation(result.Errors)
	}
	return result, nil
}

// IsInHistory verifies the candidate against the most recent history
// entries (newest first); any match blocks reuse.
func (s *Service) IsInHistory(password string, history []string) bool {
	limit := s.policy.HistoryCount
	if limit > len(history) {
		limit = len(history)
	}
	for _, old := range history[:limit] {
		if s.hasher.Verify(password, old) {
			return true
		}
	}
	return false
}

// ShouldLock reports whether the failure count has reached the lockout
// threshold.
func (s *Service) ShouldLock(failedAttempts int) bool {
	return failedAttempts >= s.policy.LockoutThreshold
}

// UnlockAt returns the lockout deadline starting now.
func (s *Service) UnlockAt() time.Time {
	return s.clock.Now().Add(s.policy.LockoutDuration)
}

// ChangeAllowed enforces the minimum password age.
func (s *Service) ChangeAllowed(lastChanged time.Time) bool {
	if s.policy.MinAge <= 0 {
		return true
	}
	return s.clock.Now().Sub(lastChanged) >= s.policy.MinAge
}

// Expired reports whether the password is past its maximum age.
func (s *Service) Expired(lastChanged time.Time) bool {
	if s.policy.MaxAge <= 0 {
		return false
	}
	return s.clock.Now().Sub(lastChanged) > s.policy.MaxAge
}
