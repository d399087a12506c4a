package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	minisign "github.com/jedisct1/go-minisign"
)

//go:embed keys/upkk-directory.pub
var embeddedPublicKey string

// DefaultPublicKey returns the embedded minisign public key used to verify
// directory snapshots.
func DefaultPublicKey() string {
	return strings.TrimSpace(embeddedPublicKey)
}

// SignatureVerifier validates a payload against its detached signature.
type SignatureVerifier interface {
	Verify(payload, signature []byte) error
}

// MinisignVerifier verifies snapshots signed with minisign using a trusted
// public key.
type MinisignVerifier struct {
	publicKey minisign.PublicKey
}

// NewMinisignVerifier parses the provided minisign public key (including
// comment header) and returns a verifier configured to validate signatures
// created with the associated secret key.
func NewMinisignVerifier(pubKey string) (*MinisignVerifier, error) {
	pubKey = strings.TrimSpace(pubKey)
	if pubKey == "" {
		return nil, errors.New("minisign public key is required")
	}
	publicKey, err := minisign.DecodePublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("parse minisign public key: %w", err)
	}
	return &MinisignVerifier{publicKey: publicKey}, nil
}

// Verify validates the detached signature over the payload bytes.
func (v *MinisignVerifier) Verify(payload, signature []byte) error {
	if v == nil {
		return errors.New("signature verifier not configured")
	}
	sig, err := minisign.DecodeSignature(string(signature))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	ok, err := v.publicKey.Verify(payload, sig)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("signature verification failed")
	}
	return nil
}
