package credential

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/store"
	"golang.org/x/crypto/argon2"
)

// Hasher defines the contract for password hashing operations.
// This interface allows us to mock hashing in tests or swap algorithms.
type Hasher interface {
	Hash(password string) (string, error)
	// Verify is constant-time over the digest and returns false on any
	// malformed hash without distinguishing why.
	Verify(password, encoded string) bool
}

// Argon2Params are the Argon2id cost parameters encoded into every hash.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params follow current OWASP guidance for Argon2id.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2Hasher implements Hasher using Argon2id with a per-hash random
// salt. The encoded form is the PHC string:
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt-b64>$<digest-b64>
type Argon2Hasher struct {
	params Argon2Params
	rand   store.RandomSource
}

func NewArgon2Hasher(params Argon2Params, rand store.RandomSource) *Argon2Hasher {
	return &Argon2Hasher{params: params, rand: rand}
}

// Hash returns the PHC-encoded Argon2id hash of the password.
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt, err := h.rand.Bytes(int(h.params.SaltLength))
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindCrypto, "salt generation failed")
	}

	digest := argon2.IDKey([]byte(password), salt,
		h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest))
	return encoded, nil
}

// Verify recomputes the digest with the parameters carried in the encoded
// string and compares in constant time.
func (h *Argon2Hasher) Verify(password, encoded string) bool {
	params, salt, digest, err := decodeHash(encoded)
	if err != nil {
		return false
	}

	candidate := argon2.IDKey([]byte(password), salt,
		params.Iterations, params.Memory, params.Parallelism, uint32(len(digest)))

	return subtle.ConstantTimeCompare(candidate, digest) == 1
}

func decodeHash(encoded string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, apperr.New(apperr.KindCrypto, "malformed hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Params{}, nil, nil, apperr.New(apperr.KindCrypto, "malformed hash")
	}

	var params Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return Argon2Params{}, nil, nil, apperr.New(apperr.KindCrypto, "malformed hash")
	}
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return Argon2Params{}, nil, nil, apperr.New(apperr.KindCrypto, "malformed hash")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Argon2Params{}, nil, nil, apperr.New(apperr.KindCrypto, "malformed hash")
	}
	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(digest) == 0 {
		return Argon2Params{}, nil, nil, apperr.New(apperr.KindCrypto, "malformed hash")
	}

	return params, salt, digest, nil
}
