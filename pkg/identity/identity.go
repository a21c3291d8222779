// Package identity manages user identities: ML-DSA-65 signing keys,
// ML-KEM-768 key-agreement keys, and the deterministic four-word
// human-readable address derived from the public signing key.
//
// REDESIGN: the source this module is grounded on once picked the
// four-word address by random selection, contradicting the intent of a
// deterministic identity. Every word here is a pure function of the
// public key; nothing about it is random.
package identity

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	circlkem "github.com/cloudflare/circl/kem"
	circlsign "github.com/cloudflare/circl/sign"

	"github.com/dyrnwyn/saorsa-core/pkg/constants"
	"github.com/dyrnwyn/saorsa-core/pkg/pqc"
	"lukechampine.com/blake3"
)

// Identity represents a user's signing and key-agreement material.
type Identity struct {
	SigningPublic  circlsign.PublicKey
	SigningPrivate circlsign.PrivateKey
	KEMPublic      circlkem.PublicKey
	KEMPrivate     circlkem.PrivateKey

	userID   string // cached opaque UserId
	fourWord string // cached deterministic human-readable address
}

// Generate creates a fresh identity with new ML-DSA-65 and ML-KEM-768 key
// material.
func Generate() (*Identity, error) {
	signKP, err := pqc.GenerateSignKeyPair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing key: %w", err)
	}
	kemKP, err := pqc.GenerateKEMKeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate KEM key: %w", err)
	}

	id := &Identity{
		SigningPublic:  signKP.Public,
		SigningPrivate: signKP.Private,
		KEMPublic:      kemKP.Public,
		KEMPrivate:     kemKP.Private,
	}
	if err := id.computeCaches(); err != nil {
		return nil, err
	}
	return id, nil
}

func (id *Identity) computeCaches() error {
	pubBytes, err := pqc.MarshalSignPublicKey(id.SigningPublic)
	if err != nil {
		return fmt.Errorf("identity: marshal public key: %w", err)
	}
	id.userID = computeUserID(pubBytes)
	id.fourWord = computeFourWordAddress(pubBytes)
	return nil
}

// UserID returns the opaque, content-derived identifier for this identity.
func (id *Identity) UserID() string {
	if id.userID == "" {
		_ = id.computeCaches()
	}
	return id.userID
}

// FourWordAddress returns the deterministic human-readable address: four
// proquint words joined by '-', derived from BLAKE3(public key).
func (id *Identity) FourWordAddress() string {
	if id.fourWord == "" {
		_ = id.computeCaches()
	}
	return id.fourWord
}

// Handle combines a nickname with the four-word address, e.g.
// "alice~bodim-fanak-lotos-zivek".
func (id *Identity) Handle(nickname string) string {
	return fmt.Sprintf("%s~%s", nickname, id.FourWordAddress())
}

// computeUserID derives a stable opaque identifier: "usr:" + lowercase
// base32 of BLAKE3-256(pubkey) truncated to 160 bits, matching the DHT
// NodeID width so a UserID can be folded straight into DHT key derivation.
func computeUserID(pubKey []byte) string {
	full := blake3.Sum256(pubKey)
	truncated := full[:constants.DHTNodeIDBytes]
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(truncated)
	return "usr:" + strings.ToLower(encoded)
}

// computeFourWordAddress derives four CVCVC proquint words from the first
// 8 bytes of BLAKE3(pubkey): each word encodes 16 bits.
func computeFourWordAddress(pubKey []byte) string {
	h := blake3.Sum256(pubKey)
	words := make([]string, 4)
	for i := 0; i < 4; i++ {
		v := uint16(h[i*2])<<8 | uint16(h[i*2+1])
		words[i] = encodeProquint(v)
	}
	return strings.Join(words, "-")
}

// encodeProquint encodes a 16-bit value as a 5-character
// consonant-vowel-consonant-vowel-consonant word.
func encodeProquint(v uint16) string {
	c, vw := constants.ProquintConsonants, constants.ProquintVowels
	out := make([]byte, 5)
	out[0] = c[(v>>12)&0x0F]
	out[1] = vw[(v>>10)&0x03]
	out[2] = c[(v>>6)&0x0F]
	out[3] = vw[(v>>4)&0x03]
	out[4] = c[v&0x0F]
	return string(out)
}

// decodeProquint inverts encodeProquint, used by tests and by address
// round-trip validation.
func decodeProquint(word string) (uint16, error) {
	if len(word) != 5 {
		return 0, fmt.Errorf("identity: invalid proquint length %d", len(word))
	}
	c, vw := constants.ProquintConsonants, constants.ProquintVowels
	var v uint16
	positions := []struct {
		alphabet string
		shift    uint
	}{
		{c, 12}, {vw, 10}, {c, 6}, {vw, 4}, {c, 0},
	}
	for i, p := range positions {
		idx := strings.IndexByte(p.alphabet, word[i])
		if idx < 0 {
			return 0, fmt.Errorf("identity: invalid proquint character %q at position %d", word[i], i)
		}
		v |= uint16(idx) << p.shift
	}
	return v, nil
}

// ValidateFourWordAddress recomputes the address from pubKey and checks it
// matches addr, giving callers a way to verify a claimed identity's address
// without trusting the claim.
func ValidateFourWordAddress(pubKey []byte, addr string) error {
	expected := computeFourWordAddress(pubKey)
	if expected != addr {
		return fmt.Errorf("identity: four-word address mismatch")
	}
	return nil
}
