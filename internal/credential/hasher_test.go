package credential

import (
	"strings"
	"testing"

	"github.com/clearpathsec/bastion/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testParams keep the KDF cheap enough for unit tests.
func testParams() Argon2Params {
	return Argon2Params{
		Memory:      1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestHasher() *Argon2Hasher {
	return NewArgon2Hasher(testParams(), store.CryptoRandom{})
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher()

	encoded, err := h.Hash("Tr0ub4dor&3xtra")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	assert.True(t, h.Verify("Tr0ub4dor&3xtra", encoded))
	assert.False(t, h.Verify("Tr0ub4dor&3xtrb", encoded))
	assert.False(t, h.Verify("", encoded))
}

func TestHashUniqueSalt(t *testing.T) {
	h := newTestHasher()

	first, err := h.Hash("same-password")
	require.NoError(t, err)
	second, err := h.Hash("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "independent hashes must differ by salt")
	assert.True(t, h.Verify("same-password", first))
	assert.True(t, h.Verify("same-password", second))
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher()

	cases := []string{
		"",
		"not-a-hash",
		"$argon2id$v=19$m=1024,t=1,p=1$onlyfourparts",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$ZGlnZXN0",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$ZGlnZXN0",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$ZGlnZXN0",
		"$argon2id$v=19$m=1024,t=1,p=1$!!bad!!$ZGlnZXN0",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$!!bad!!",
	}
	for _, c := range cases {
		assert.False(t, h.Verify("whatever", c), "case: %q", c)
	}
}

func TestVerifyUsesEncodedParams(t *testing.T) {
	// A hash computed with different cost parameters still verifies:
	// parameters come from the string, not the service.
	heavy := NewArgon2Hasher(Argon2Params{
		Memory: 2048, Iterations: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	}, store.CryptoRandom{})
	encoded, err := heavy.Hash("cross-params")
	require.NoError(t, err)

	assert.True(t, newTestHasher().Verify("cross-params", encoded))
}
