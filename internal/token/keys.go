package token

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"sync/atomic"

	"github.com/clearpathsec/bastion/internal/apperr"
)

// Keypair is one signing key with its key id.
type Keypair struct {
	KID     string
	Private *rsa.PrivateKey
}

// keyset is one immutable snapshot of the signing state: the current
// signer plus every verification key indexed by kid.
type keyset struct {
	current   Keypair
	verifiers map[string]*rsa.PublicKey
}

// Keyring holds the process-wide key state behind a single atomic
// pointer. Rotation publishes a new snapshot; in-flight operations keep
// the snapshot they captured.
type Keyring struct {
	ptr atomic.Pointer[keyset]
}

// NewKeyring builds a ring with one active keypair. retired carries
// previously-active public keys that must keep verifying until their
// tokens expire.
func NewKeyring(current Keypair, retired map[string]*rsa.PublicKey) *Keyring {
	verifiers := map[string]*rsa.PublicKey{current.KID: &current.Private.PublicKey}
	for kid, pub := range retired {
		verifiers[kid] = pub
	}
	r := &Keyring{}
	r.ptr.Store(&keyset{current: current, verifiers: verifiers})
	return r
}

// Rotate installs a new signer. The outgoing signer's public key stays in
// the verifier set.
func (r *Keyring) Rotate(next Keypair) {
	old := r.ptr.Load()
	verifiers := make(map[string]*rsa.PublicKey, len(old.verifiers)+1)
	for kid, pub := range old.verifiers {
		verifiers[kid] = pub
	}
	verifiers[next.KID] = &next.Private.PublicKey
	r.ptr.Store(&keyset{current: next, verifiers: verifiers})
}

// Current returns the active signing keypair.
func (r *Keyring) Current() Keypair {
	return r.ptr.Load().current
}

// Verifier returns the public key for a kid, if the ring knows it.
func (r *Keyring) Verifier(kid string) (*rsa.PublicKey, bool) {
	pub, ok := r.ptr.Load().verifiers[kid]
	return pub, ok
}

// JWK represents a JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// JWKS represents a JSON Web Key Set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS exports every verification key for external validators.
func (r *Keyring) JWKS() *JWKS {
	snap := r.ptr.Load()
	set := &JWKS{Keys: make([]JWK, 0, len(snap.verifiers))}
	for kid, pub := range snap.verifiers {
		set.Keys = append(set.Keys, JWK{
			Kty: "RSA",
			Kid: kid,
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			Alg: "RS256",
		})
	}
	return set
}

// ParsePrivateKeyPEM decodes an RSA private key from PEM, accepting
// PKCS#1 and PKCS#8 encodings.
func ParsePrivateKeyPEM(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, apperr.New(apperr.KindCrypto, "no PEM block in private key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindCrypto, "failed to parse private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, apperr.New(apperr.KindCrypto, "private key is not RSA")
	}
	return key, nil
}
