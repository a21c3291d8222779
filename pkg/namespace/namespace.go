// Package namespace implements the namespace key service (SPEC_FULL.md
// C1): deterministic per-namespace key derivation from a master secret,
// object and DHT key derivation from those namespace keys, and key
// rotation with bounded historical retention.
package namespace

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/dyrnwyn/saorsa-core/pkg/constants"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/text/unicode/norm"
	"lukechampine.com/blake3"
)

const masterSecretSize = 32
const derivedKeySize = 32

var reservedNamespaces = map[string]bool{
	"system": true, "admin": true, "root": true, "public": true, "private": true,
}

func isValidNamespaceChar(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b == '_'
}

// ValidateNamespace checks a namespace string against the format,
// length, and reserved-word rules shared by every derivation call. The
// input is first put into NFC form, so a namespace built from combining
// character sequences is judged by the same canonical representation
// as its precomposed equivalent rather than slipping past the ASCII
// character check under a different encoding of the same text.
func ValidateNamespace(ns string) error {
	ns = norm.NFC.String(ns)
	if ns == "" || len(ns) > 255 {
		return &InvalidNamespaceError{Reason: "TooLong", Namespace: ns}
	}
	for i := 0; i < len(ns); i++ {
		if !isValidNamespaceChar(ns[i]) {
			return &InvalidNamespaceError{Reason: "Format", Namespace: ns}
		}
	}
	if reservedNamespaces[ns] {
		return &InvalidNamespaceError{Reason: "Reserved", Namespace: ns}
	}
	return nil
}

// historicalKey is a retired namespace key, kept until its retention
// window expires.
type historicalKey struct {
	key       [derivedKeySize]byte
	version   uint64
	retiredAt time.Time
}

// namespaceState holds the active key, its version, and its retired
// predecessors for one namespace.
type namespaceState struct {
	key     [derivedKeySize]byte
	version uint64
	history []historicalKey
}

// Service derives and caches namespace, object and DHT keys from a single
// master secret, and manages key rotation and historical retention.
type Service struct {
	mu           sync.RWMutex
	masterSecret []byte
	states       map[string]*namespaceState
}

// New creates a namespace key service over masterSecret. The secret must
// be exactly 32 bytes and must not be all-zero or all-0xFF (both treated
// as a corrupted/placeholder secret).
func New(masterSecret []byte) (*Service, error) {
	if len(masterSecret) != masterSecretSize {
		return nil, &InvalidKeyLengthError{Got: len(masterSecret), Want: masterSecretSize}
	}
	if isAllByte(masterSecret, 0x00) || isAllByte(masterSecret, 0xFF) {
		return nil, &KeyCorruptionError{Reason: "master secret is all-zero or all-0xFF"}
	}
	secretCopy := make([]byte, len(masterSecret))
	copy(secretCopy, masterSecret)
	return &Service{
		masterSecret: secretCopy,
		states:       make(map[string]*namespaceState),
	}, nil
}

func isAllByte(b []byte, v byte) bool {
	for _, x := range b {
		if x != v {
			return false
		}
	}
	return true
}

// DeriveNamespaceKey returns the active 32-byte key for ns, deriving and
// caching it on first use via HKDF-SHA256 extract-then-expand with the
// fixed info string constants.NamespaceKeyInfo.
func (s *Service) DeriveNamespaceKey(ns string) ([derivedKeySize]byte, uint64, error) {
	if err := ValidateNamespace(ns); err != nil {
		return [derivedKeySize]byte{}, 0, err
	}
	ns = norm.NFC.String(ns)

	s.mu.RLock()
	if st, ok := s.states[ns]; ok {
		key, version := st.key, st.version
		s.mu.RUnlock()
		return key, version, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[ns]; ok {
		return st.key, st.version, nil
	}

	key, err := s.hkdfDerive(ns, 1)
	if err != nil {
		return [derivedKeySize]byte{}, 0, err
	}
	s.states[ns] = &namespaceState{key: key, version: 1}
	return key, 1, nil
}

func (s *Service) hkdfDerive(ns string, version uint64) ([derivedKeySize]byte, error) {
	salt := []byte(fmt.Sprintf("%s:v%d", ns, version))
	r := hkdf.New(sha256.New, s.masterSecret, salt, []byte(constants.NamespaceKeyInfo))
	var out [derivedKeySize]byte
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return [derivedKeySize]byte{}, &HKDFExpansionError{Cause: err}
	}
	return out, nil
}

// DeriveObjectKey computes HMAC-SHA256(namespaceKey, content_id || context)
// — the same inputs always yield the same output.
func (s *Service) DeriveObjectKey(ns, contentID, context string) ([derivedKeySize]byte, error) {
	key, _, err := s.DeriveNamespaceKey(ns)
	if err != nil {
		return [derivedKeySize]byte{}, err
	}
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(contentID))
	mac.Write([]byte(context))
	var out [derivedKeySize]byte
	copy(out[:], mac.Sum(nil))
	return out, nil
}

// DeriveDHTKey computes BLAKE3(object_key || salt) truncated to 160 bits.
func DeriveDHTKey(objectKey [derivedKeySize]byte, salt []byte) [constants.DHTNodeIDBytes]byte {
	h := blake3.New(32, nil)
	h.Write(objectKey[:])
	h.Write(salt)
	full := h.Sum(nil)
	var out [constants.DHTNodeIDBytes]byte
	copy(out[:], full[:constants.DHTNodeIDBytes])
	return out
}

// RotateNamespaceKey retires the current key into history and derives a
// new one at version+1. The cache is invalidated immediately: the next
// DeriveNamespaceKey call returns the new key, never the retired one.
func (s *Service) RotateNamespaceKey(ns string) ([derivedKeySize]byte, uint64, error) {
	if err := ValidateNamespace(ns); err != nil {
		return [derivedKeySize]byte{}, 0, err
	}
	ns = norm.NFC.String(ns)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[ns]
	if !ok {
		key, err := s.hkdfDerive(ns, 1)
		if err != nil {
			return [derivedKeySize]byte{}, 0, err
		}
		s.states[ns] = &namespaceState{key: key, version: 1}
		return key, 1, nil
	}

	st.history = append(st.history, historicalKey{key: st.key, version: st.version, retiredAt: time.Now()})
	newVersion := st.version + 1
	newKey, err := s.hkdfDerive(ns, newVersion)
	if err != nil {
		return [derivedKeySize]byte{}, 0, err
	}
	st.key = newKey
	st.version = newVersion
	return newKey, newVersion, nil
}

// HistoricalKey looks up a specific retired version for ns, used to
// decrypt legacy content sealed before a rotation.
func (s *Service) HistoricalKey(ns string, version uint64) ([derivedKeySize]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[ns]
	if !ok {
		return [derivedKeySize]byte{}, &InvalidKeyVersionError{Version: version}
	}
	if st.version == version {
		return st.key, nil
	}
	for _, h := range st.history {
		if h.version == version {
			return h.key, nil
		}
	}
	return [derivedKeySize]byte{}, &InvalidKeyVersionError{Version: version}
}

// CleanupOldKeys discards historical keys retired before now-retentionDays.
// Active keys are never discarded regardless of age.
func (s *Service) CleanupOldKeys(retentionDays int) int {
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, st := range s.states {
		kept := st.history[:0]
		for _, h := range st.history {
			if h.retiredAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, h)
		}
		st.history = kept
	}
	return removed
}

// SampleEntropy reports measured byte-entropy (bits/byte) across a sample
// of derived namespace keys, used to validate the "different namespaces
// yield different keys" invariant operationally.
func SampleEntropy(keys [][derivedKeySize]byte) float64 {
	var counts [256]int
	total := 0
	for _, k := range keys {
		for _, b := range k {
			counts[b]++
			total++
		}
	}
	if total == 0 {
		return 0
	}
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * log2(p)
	}
	return entropy
}

func log2(x float64) float64 {
	return math.Log2(x)
}
