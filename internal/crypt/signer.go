// Package crypt wraps crypto/ed25519 for the device-identity signing the
// token manager needs during refresh. Keypair provisioning itself is out of
// scope per spec.md §1; this package only ever consumes a private key that
// already exists on disk.
package crypt

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/miruml/agent/internal/agenterr"
)

// Signer signs challenge bytes with a pre-provisioned ed25519 private key.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewSigner wraps an existing ed25519 private key. The key must be the
// standard 64-byte seed+public encoding crypto/ed25519 produces.
func NewSigner(private ed25519.PrivateKey) (*Signer, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, agenterr.New(agenterr.KindCrypt, "crypt.NewSigner",
			fmt.Sprintf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(private)))
	}
	pub, ok := private.Public().(ed25519.PublicKey)
	if !ok {
		return nil, agenterr.New(agenterr.KindCrypt, "crypt.NewSigner", "unable to derive public key")
	}
	return &Signer{private: private, public: pub}, nil
}

// PublicKeyHex returns the lowercase hex encoding of the signer's public key,
// the form the backend's activation and token endpoints expect.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.public)
}

// Sign returns the hex-encoded ed25519 signature over challenge.
func (s *Signer) Sign(challenge []byte) string {
	sig := ed25519.Sign(s.private, challenge)
	return hex.EncodeToString(sig)
}

// Verify reports whether sigHex is a valid ed25519 signature over message
// under pub. Used by tests and by any component that double-checks a
// signature the backend already accepted.
func Verify(pub ed25519.PublicKey, message []byte, sigHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, agenterr.Wrap(agenterr.KindCrypt, "crypt.Verify", err)
	}
	return ed25519.Verify(pub, message, sig), nil
}
