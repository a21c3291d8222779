// Package aead implements content envelope encryption (SPEC_FULL.md C3):
// ChaCha20-Poly1305 AEAD sealing keyed according to the active storage
// policy, with ML-KEM-768 key wrapping for non-convergent policies and
// deterministic HMAC-derived keys for convergent ones.
package aead

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	circlkem "github.com/cloudflare/circl/kem"
	"github.com/dyrnwyn/saorsa-core/pkg/policy"
	"github.com/dyrnwyn/saorsa-core/pkg/pqc"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeyMode describes how the content-encryption key for an envelope was
// derived, so the Container/Record layer knows whether to persist a
// wrapped key or can recompute it on demand.
type KeyMode int

const (
	// KeyModeRandom: key is freshly random per object and must be wrapped
	// (PrivateMax, GroupScoped member wrapping).
	KeyModeRandom KeyMode = iota
	// KeyModeConvergentScoped: key is deterministically derived from
	// content and a per-namespace scope secret (PrivateScoped), giving
	// dedup within the namespace but not across namespaces.
	KeyModeConvergentScoped
	// KeyModeConvergentGlobal: key is deterministically derived from the
	// plaintext hash alone, with no per-engine secret mixed in
	// (PublicMarkdown), so identical markdown converges to identical
	// ciphertext across every writer, anywhere.
	KeyModeConvergentGlobal
)

// AlgorithmTag identifies the AEAD construction bound into every
// envelope's associated data.
const AlgorithmTag = "chacha20poly1305"

const keySize = chacha20poly1305.KeySize // 32 bytes

// nonceSize is the standard (non-extended) ChaCha20-Poly1305 nonce size.
const nonceSize = chacha20poly1305.NonceSize

// Envelope is the encrypted-at-rest form of an object: the AEAD
// ciphertext plus enough metadata to recover the content-encryption key
// and to verify the context it was bound under.
type Envelope struct {
	Nonce      []byte
	Ciphertext []byte
	KeyMode    KeyMode
	// WrappedKey is the ML-KEM-768 ciphertext encapsulating the CEK to the
	// recipient's public key. Populated only for KeyModeRandom envelopes.
	WrappedKey []byte
	// AlgorithmTag names the AEAD construction used to seal Ciphertext.
	AlgorithmTag string
	// KeyID identifies the keying scope (policy kind, plus namespace or
	// group when applicable) used to derive or wrap the CEK.
	KeyID string
	// AAD is the associated data bound into Ciphertext's authentication
	// tag. It is carried alongside the ciphertext (not secret) and fed
	// back into Open* unchanged; tampering with any byte of it, or of
	// Nonce or Ciphertext, breaks tag verification.
	AAD []byte
}

// BuildAAD binds the algorithm tag, policy kind, and optional namespace/
// group scope into the bytes used as ChaCha20-Poly1305 associated data,
// so altering the algorithm, policy, or scope after sealing is
// detectable on open.
func BuildAAD(kind policy.Kind, namespace, group string) []byte {
	var buf bytes.Buffer
	buf.WriteString(AlgorithmTag)
	buf.WriteByte(0)
	buf.WriteString(kind.String())
	buf.WriteByte(0)
	buf.WriteString(namespace)
	buf.WriteByte(0)
	buf.WriteString(group)
	return buf.Bytes()
}

func keyIDFor(kind policy.Kind, namespace, group string) string {
	switch kind {
	case policy.PrivateScoped:
		return "ns:" + namespace
	case policy.GroupScoped:
		return "group:" + group
	default:
		return kind.String()
	}
}

const scopedConvergentKeyDomain = "saorsa:aead:convergent:v1"
const scopedConvergentNonceDomain = "saorsa:aead:convergent-nonce:v1"

// deriveConvergentKey computes a deterministic content-encryption key from
// the plaintext hash and a per-namespace scope secret, so identical
// content under the same scope always seals to the same ciphertext
// (PrivateScoped dedup).
func deriveConvergentKey(contentHash []byte, scopeSecret []byte) []byte {
	mac := hmac.New(sha256.New, scopeSecret)
	mac.Write([]byte(scopedConvergentKeyDomain))
	mac.Write(contentHash)
	return mac.Sum(nil)
}

// deriveConvergentNonce computes a deterministic nonce from the same
// inputs as deriveConvergentKey, under a distinct domain-separation
// label, so that sealing the same content under the same scope always
// produces bitwise-identical envelopes.
func deriveConvergentNonce(contentHash []byte, scopeSecret []byte) []byte {
	mac := hmac.New(sha256.New, scopeSecret)
	mac.Write([]byte(scopedConvergentNonceDomain))
	mac.Write(contentHash)
	return mac.Sum(nil)[:nonceSize]
}

const globalConvergentKeyDomain = "saorsa:aead:public-convergent:v1"
const globalConvergentNonceDomain = "saorsa:aead:public-convergent-nonce:v1"

// deriveGlobalConvergentKey computes the PublicMarkdown content-encryption
// key from the plaintext hash alone. It deliberately mixes in no
// per-engine secret, so the key is recoverable by anyone holding the
// content, not just holders of a particular engine's master secret —
// identical markdown converges to identical ciphertext across every
// independent writer.
func deriveGlobalConvergentKey(contentHash []byte) []byte {
	mac := hmac.New(sha256.New, []byte(globalConvergentKeyDomain))
	mac.Write(contentHash)
	return mac.Sum(nil)
}

func deriveGlobalConvergentNonce(contentHash []byte) []byte {
	mac := hmac.New(sha256.New, []byte(globalConvergentNonceDomain))
	mac.Write(contentHash)
	return mac.Sum(nil)[:nonceSize]
}

// SealRandom encrypts plaintext under a freshly generated key, wraps that
// key to recipientPub via ML-KEM-768, and returns the envelope. Used for
// PrivateMax and per-member GroupScoped sealing. aad is bound into the
// authentication tag and must be supplied again, unchanged, to recover
// plaintext (callers normally read it back from the returned envelope's
// AAD field rather than recomputing it).
func SealRandom(plaintext []byte, recipientPub circlkem.PublicKey, keyID string, aad []byte) (*Envelope, error) {
	ciphertext, wrappedKey, err := sealWithEncapsulatedKey(plaintext, recipientPub, aad)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Nonce:        ciphertext.nonce,
		Ciphertext:   ciphertext.ct,
		KeyMode:      KeyModeRandom,
		WrappedKey:   wrappedKey,
		AlgorithmTag: AlgorithmTag,
		KeyID:        keyID,
		AAD:          aad,
	}, nil
}

// SealConvergentScoped encrypts plaintext under a key deterministically
// derived from its content hash and a per-namespace scopeSecret. Used for
// PrivateScoped, where deduplication within the namespace is desired; the
// key is never transmitted, only recomputed by holders of scopeSecret.
func SealConvergentScoped(plaintext []byte, contentHash []byte, scopeSecret []byte, keyID string, aad []byte) (*Envelope, error) {
	key := deriveConvergentKey(contentHash, scopeSecret)
	c, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	nonce := deriveConvergentNonce(contentHash, scopeSecret)
	ct := c.Seal(nil, nonce, plaintext, aad)
	return &Envelope{
		Nonce:        nonce,
		Ciphertext:   ct,
		KeyMode:      KeyModeConvergentScoped,
		AlgorithmTag: AlgorithmTag,
		KeyID:        keyID,
		AAD:          aad,
	}, nil
}

// OpenConvergentScoped decrypts an envelope sealed with
// SealConvergentScoped, given the same contentHash and scopeSecret used
// to seal it.
func OpenConvergentScoped(env *Envelope, contentHash []byte, scopeSecret []byte) ([]byte, error) {
	if env.KeyMode != KeyModeConvergentScoped {
		return nil, fmt.Errorf("aead: envelope is not scoped-convergent-keyed")
	}
	key := deriveConvergentKey(contentHash, scopeSecret)
	c, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	pt, err := c.Open(nil, env.Nonce, env.Ciphertext, env.AAD)
	if err != nil {
		return nil, fmt.Errorf("aead: decrypt failed: %w", err)
	}
	return pt, nil
}

// SealConvergentGlobal encrypts plaintext under a key derived solely from
// its content hash, with no per-engine secret. Used for PublicMarkdown,
// where global deduplication across every writer is required.
func SealConvergentGlobal(plaintext []byte, contentHash []byte, keyID string, aad []byte) (*Envelope, error) {
	key := deriveGlobalConvergentKey(contentHash)
	c, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	nonce := deriveGlobalConvergentNonce(contentHash)
	ct := c.Seal(nil, nonce, plaintext, aad)
	return &Envelope{
		Nonce:        nonce,
		Ciphertext:   ct,
		KeyMode:      KeyModeConvergentGlobal,
		AlgorithmTag: AlgorithmTag,
		KeyID:        keyID,
		AAD:          aad,
	}, nil
}

// OpenConvergentGlobal decrypts an envelope sealed with
// SealConvergentGlobal, given the same contentHash used to seal it.
func OpenConvergentGlobal(env *Envelope, contentHash []byte) ([]byte, error) {
	if env.KeyMode != KeyModeConvergentGlobal {
		return nil, fmt.Errorf("aead: envelope is not globally-convergent-keyed")
	}
	key := deriveGlobalConvergentKey(contentHash)
	c, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	pt, err := c.Open(nil, env.Nonce, env.Ciphertext, env.AAD)
	if err != nil {
		return nil, fmt.Errorf("aead: decrypt failed: %w", err)
	}
	return pt, nil
}

// OpenRandom decrypts an envelope sealed with SealRandom, recovering the
// content-encryption key by decapsulating WrappedKey with recipientPriv.
func OpenRandom(env *Envelope, recipientPriv circlkem.PrivateKey) ([]byte, error) {
	if env.KeyMode != KeyModeRandom {
		return nil, fmt.Errorf("aead: envelope is not randomly-keyed")
	}
	key, err := pqc.Decapsulate(recipientPriv, env.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("aead: unwrap key: %w", err)
	}
	c, err := chacha20poly1305.New(key[:keySize])
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	pt, err := c.Open(nil, env.Nonce, env.Ciphertext, env.AAD)
	if err != nil {
		return nil, fmt.Errorf("aead: decrypt failed: %w", err)
	}
	return pt, nil
}

type sealedBytes struct {
	nonce []byte
	ct    []byte
}

func sealWithEncapsulatedKey(plaintext []byte, recipientPub circlkem.PublicKey, aad []byte) (*sealedBytes, []byte, error) {
	ciphertext, sharedSecret, err := pqc.Encapsulate(recipientPub)
	if err != nil {
		return nil, nil, fmt.Errorf("aead: encapsulate key: %w", err)
	}
	c, err := chacha20poly1305.New(sharedSecret[:keySize])
	if err != nil {
		return nil, nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("aead: generate nonce: %w", err)
	}
	ct := c.Seal(nil, nonce, plaintext, aad)
	return &sealedBytes{nonce: nonce, ct: ct}, ciphertext, nil
}

// SealForPolicy picks the correct sealing strategy for the given policy,
// building the AAD and key id from the policy's kind, namespace and
// group. recipientPub is required for PrivateMax and per-member
// GroupScoped sealing; scopeSecret is required for PrivateScoped only —
// PublicMarkdown derives its key purely from contentHash.
func SealForPolicy(pol policy.Policy, plaintext, contentHash []byte, recipientPub circlkem.PublicKey, scopeSecret []byte) (*Envelope, error) {
	aad := BuildAAD(pol.Kind, pol.Namespace, pol.Group)
	keyID := keyIDFor(pol.Kind, pol.Namespace, pol.Group)

	switch pol.Kind {
	case policy.PrivateMax, policy.GroupScoped:
		if recipientPub == nil {
			return nil, fmt.Errorf("aead: %s requires a recipient public key", pol.Kind)
		}
		return SealRandom(plaintext, recipientPub, keyID, aad)
	case policy.PrivateScoped:
		if scopeSecret == nil {
			return nil, fmt.Errorf("aead: %s requires a scope secret", pol.Kind)
		}
		return SealConvergentScoped(plaintext, contentHash, scopeSecret, keyID, aad)
	case policy.PublicMarkdown:
		return SealConvergentGlobal(plaintext, contentHash, keyID, aad)
	default:
		return nil, fmt.Errorf("aead: unknown policy kind %v", pol.Kind)
	}
}

// OpenForEnvelope dispatches to the correct open strategy based on the
// envelope's own KeyMode.
func OpenForEnvelope(env *Envelope, contentHash []byte, scopeSecret []byte, recipientPriv circlkem.PrivateKey) ([]byte, error) {
	switch env.KeyMode {
	case KeyModeConvergentGlobal:
		return OpenConvergentGlobal(env, contentHash)
	case KeyModeConvergentScoped:
		return OpenConvergentScoped(env, contentHash, scopeSecret)
	default:
		return OpenRandom(env, recipientPriv)
	}
}
