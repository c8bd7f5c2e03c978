package store

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time so tests can pin it.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock returns a constant instant. Tests advance it explicitly.
type FixedClock struct {
	Instant time.Time
}

func (c *FixedClock) Now() time.Time { return c.Instant }

// Advance moves the clock forward.
func (c *FixedClock) Advance(d time.Duration) { c.Instant = c.Instant.Add(d) }

// RandomSource abstracts entropy so tests can make token generation
// deterministic.
type RandomSource interface {
	Bytes(n int) ([]byte, error)
	UUID() uuid.UUID
}

// CryptoRandom draws from crypto/rand.
type CryptoRandom struct{}

func (CryptoRandom) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (CryptoRandom) UUID() uuid.UUID { return uuid.New() }
