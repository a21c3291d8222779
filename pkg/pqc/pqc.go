// Package pqc isolates every post-quantum primitive the core depends on
// behind a small surface: ML-KEM-768 encapsulation and ML-DSA-65 signing,
// both via CIRCL's scheme registries. Every other package performs its
// KEM and signature operations through this package and imports CIRCL
// only for its kem/sign key interface types, so a swap of the schemes
// themselves touches one file.
package pqc

import (
	"fmt"
	"io"

	circlkem "github.com/cloudflare/circl/kem"
	kemschemes "github.com/cloudflare/circl/kem/schemes"
	circlsign "github.com/cloudflare/circl/sign"
	signschemes "github.com/cloudflare/circl/sign/schemes"
)

const (
	kemSchemeName  = "ML-KEM-768"
	signSchemeName = "ML-DSA-65"

	// SignatureSize is the fixed ML-DSA-65 signature length.
	SignatureSize = 3309
)

var (
	kemScheme  circlkem.Scheme
	signScheme circlsign.Scheme
)

func init() {
	kemScheme = kemschemes.ByName(kemSchemeName)
	if kemScheme == nil {
		panic("pqc: " + kemSchemeName + " scheme not registered in circl")
	}
	signScheme = signschemes.ByName(signSchemeName)
	if signScheme == nil {
		panic("pqc: " + signSchemeName + " scheme not registered in circl")
	}
}

// KEMPublicKeySize, KEMPrivateKeySize and KEMCiphertextSize are the fixed
// ML-KEM-768 sizes, exposed so callers can size buffers without importing
// circl directly.
func KEMPublicKeySize() int  { return kemScheme.PublicKeySize() }
func KEMPrivateKeySize() int { return kemScheme.PrivateKeySize() }
func KEMCiphertextSize() int { return kemScheme.CiphertextSize() }
func KEMSharedKeySize() int  { return kemScheme.SharedKeySize() }

// KEMKeyPair is an ML-KEM-768 encapsulation key pair.
type KEMKeyPair struct {
	Public  circlkem.PublicKey
	Private circlkem.PrivateKey
}

// GenerateKEMKeyPair creates a fresh ML-KEM-768 key pair.
func GenerateKEMKeyPair() (*KEMKeyPair, error) {
	pub, priv, err := kemScheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("pqc: generate KEM keypair: %w", err)
	}
	return &KEMKeyPair{Public: pub, Private: priv}, nil
}

// MarshalKEMPublicKey encodes a public key to its fixed-size wire form.
func MarshalKEMPublicKey(pk circlkem.PublicKey) ([]byte, error) {
	return pk.(interface{ MarshalBinary() ([]byte, error) }).MarshalBinary()
}

// MarshalKEMPrivateKey encodes a private key to its fixed-size wire form.
func MarshalKEMPrivateKey(sk circlkem.PrivateKey) ([]byte, error) {
	return sk.(interface{ MarshalBinary() ([]byte, error) }).MarshalBinary()
}

// UnmarshalKEMPublicKey parses a wire-encoded ML-KEM-768 public key.
func UnmarshalKEMPublicKey(buf []byte) (circlkem.PublicKey, error) {
	return kemScheme.UnmarshalBinaryPublicKey(buf)
}

// UnmarshalKEMPrivateKey parses a wire-encoded ML-KEM-768 private key.
func UnmarshalKEMPrivateKey(buf []byte) (circlkem.PrivateKey, error) {
	return kemScheme.UnmarshalBinaryPrivateKey(buf)
}

// Encapsulate wraps a fresh shared secret to the recipient's public key,
// returning the ciphertext to transport and the shared secret to use as an
// AEAD content-encryption key.
func Encapsulate(pk circlkem.PublicKey) (ciphertext, sharedSecret []byte, err error) {
	ct, ss, err := kemScheme.Encapsulate(pk)
	if err != nil {
		return nil, nil, fmt.Errorf("pqc: encapsulate: %w", err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret from a ciphertext using the
// recipient's private key.
func Decapsulate(sk circlkem.PrivateKey, ciphertext []byte) ([]byte, error) {
	ss, err := kemScheme.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("pqc: decapsulate: %w", err)
	}
	return ss, nil
}

// SignKeyPair is an ML-DSA-65 signing key pair.
type SignKeyPair struct {
	Public  circlsign.PublicKey
	Private circlsign.PrivateKey
}

// GenerateSignKeyPair creates a fresh ML-DSA-65 signing key pair.
func GenerateSignKeyPair(rand io.Reader) (*SignKeyPair, error) {
	pub, priv, err := signScheme.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("pqc: generate sign keypair: %w", err)
	}
	return &SignKeyPair{Public: pub, Private: priv}, nil
}

// MarshalSignPublicKey encodes a public key to its fixed-size wire form.
func MarshalSignPublicKey(pk circlsign.PublicKey) ([]byte, error) {
	return pk.(interface{ MarshalBinary() ([]byte, error) }).MarshalBinary()
}

// MarshalSignPrivateKey encodes a private key to its fixed-size wire form.
func MarshalSignPrivateKey(sk circlsign.PrivateKey) ([]byte, error) {
	return sk.(interface{ MarshalBinary() ([]byte, error) }).MarshalBinary()
}

// UnmarshalSignPublicKey parses a wire-encoded ML-DSA-65 public key.
func UnmarshalSignPublicKey(buf []byte) (circlsign.PublicKey, error) {
	return signScheme.UnmarshalBinaryPublicKey(buf)
}

// Sign produces a detached ML-DSA-65 signature over message.
func Sign(sk circlsign.PrivateKey, message []byte) []byte {
	return signScheme.Sign(sk, message, nil)
}

// Verify checks a detached ML-DSA-65 signature over message.
func Verify(pk circlsign.PublicKey, message, signature []byte) bool {
	if len(signature) != SignatureSize {
		return false
	}
	return signScheme.Verify(pk, message, signature, nil)
}
