// Package noisesession adapts flynn/noise's Noise-IK pattern into the
// session-establishment layer the DHT façade's transport uses before a
// directed peer message travels on the wire: a fresh Noise-IK handshake
// per session, its first message's payload bound to the initiator's
// identity by an ML-DSA-65 signature rather than the classical Ed25519
// proof the pattern is usually demonstrated with.
//
// The Diffie-Hellman operation Noise-IK performs is still X25519 — that
// is what the "IK" pattern is defined over, and this package does not
// pretend otherwise. It exists as a defense-in-depth transport wrapper
// around façade messaging, distinct from the ML-KEM/ML-DSA object-level
// protection already applied to content before it reaches the
// transport (see pkg/aead, pkg/records). Noise-IK is a two-message
// pattern: the initiator's message carries its static key encrypted
// against the responder's known static key (IK); the responder's reply
// completes the handshake on both sides.
package noisesession

import (
	"crypto/rand"
	"fmt"

	"github.com/dyrnwyn/saorsa-core/pkg/codec/cborcanon"
	"github.com/dyrnwyn/saorsa-core/pkg/identity"
	"github.com/dyrnwyn/saorsa-core/pkg/pqc"
	"github.com/flynn/noise"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b)

// GenerateStaticKeypair creates a fresh X25519 static keypair for the
// Noise-IK handshake. The public half is advertised alongside a peer's
// directory entry; the private half never leaves the local process.
func GenerateStaticKeypair() (noise.DHKey, error) {
	return noise.DH25519.GenerateKeypair(rand.Reader)
}

// hello is the identity-binding payload carried inside the initiator's
// handshake message: it lets a completed session also authenticate
// which identity it belongs to, the same role the teacher's ClientHello
// Proof field plays, signed with ML-DSA-65 instead of Ed25519.
type hello struct {
	UserID string `cbor:"uid"`
	Nonce  uint64 `cbor:"nonce"`
	Proof  []byte `cbor:"proof,omitempty"`
}

func signedHelloBytes(id *identity.Identity, nonce uint64) ([]byte, error) {
	h := hello{UserID: id.UserID(), Nonce: nonce}
	body, err := cborcanon.EncodeForSigning(&h, "proof")
	if err != nil {
		return nil, fmt.Errorf("noisesession: encode hello: %w", err)
	}
	h.Proof = pqc.Sign(id.SigningPrivate, body)
	return cborcanon.Marshal(&h)
}

// VerifyHello decodes an initiator's hello payload and checks its proof
// against verify, returning the asserted user id and the hello's nonce
// on success. Callers that want replay protection across sessions
// should feed the returned (userID, nonce) pair to a ReplayGuard.
func VerifyHello(payload []byte, verify func(userID string) (verifyFunc, bool)) (string, uint64, error) {
	var h hello
	if err := cborcanon.Unmarshal(payload, &h); err != nil {
		return "", 0, fmt.Errorf("noisesession: decode hello: %w", err)
	}
	check, ok := verify(h.UserID)
	if !ok {
		return "", 0, fmt.Errorf("noisesession: unknown peer user id %q", h.UserID)
	}
	proof := h.Proof
	h.Proof = nil
	body, err := cborcanon.EncodeForSigning(&h, "proof")
	if err != nil {
		return "", 0, fmt.Errorf("noisesession: re-encode hello: %w", err)
	}
	if !check(body, proof) {
		return "", 0, fmt.Errorf("noisesession: hello proof verification failed for %q", h.UserID)
	}
	return h.UserID, h.Nonce, nil
}

// verifyFunc checks a message/signature pair against one identity's
// ML-DSA-65 public key; callers build it from pqc.Verify bound to the
// looked-up identity. It is an alias, so callers outside this package
// can pass a plain func(message, signature []byte) bool.
type verifyFunc = func(message, signature []byte) bool

// Session wraps one Noise-IK handshake and the transport cipher states
// it yields once both messages have been exchanged.
type Session struct {
	state    *noise.HandshakeState
	send     *noise.CipherState
	recv     *noise.CipherState
	complete bool
}

// NewInitiator starts the initiator side of a Noise-IK handshake
// against a peer whose advertised X25519 static key is peerNoiseKey.
func NewInitiator(local noise.DHKey, peerNoiseKey []byte) (*Session, error) {
	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     true,
		StaticKeypair: local,
		PeerStatic:    peerNoiseKey,
	})
	if err != nil {
		return nil, fmt.Errorf("noisesession: initiator handshake state: %w", err)
	}
	return &Session{state: state}, nil
}

// NewResponder starts the responder side of a Noise-IK handshake.
func NewResponder(local noise.DHKey) (*Session, error) {
	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     false,
		StaticKeypair: local,
	})
	if err != nil {
		return nil, fmt.Errorf("noisesession: responder handshake state: %w", err)
	}
	return &Session{state: state}, nil
}

// WriteInitiatorHello produces the initiator's first handshake message,
// embedding an ML-DSA-signed hello for identity binding. The handshake
// is not yet complete: the initiator still needs ReadResponse.
func (s *Session) WriteInitiatorHello(id *identity.Identity, nonce uint64) ([]byte, error) {
	payload, err := signedHelloBytes(id, nonce)
	if err != nil {
		return nil, err
	}
	msg, _, _, err := s.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("noisesession: write initiator hello: %w", err)
	}
	return msg, nil
}

// ReadInitiatorHello is the responder's first step: it reads the
// initiator's message and returns the embedded hello payload for the
// caller to verify with VerifyHello before replying.
func (s *Session) ReadInitiatorHello(msg []byte) ([]byte, error) {
	payload, _, _, err := s.state.ReadMessage(nil, msg)
	if err != nil {
		return nil, fmt.Errorf("noisesession: read initiator hello: %w", err)
	}
	return payload, nil
}

// WriteResponse is the responder's second step: it completes the
// handshake and returns the message to send back to the initiator.
func (s *Session) WriteResponse() ([]byte, error) {
	msg, cs1, cs2, err := s.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("noisesession: write response: %w", err)
	}
	s.finish(cs1, cs2)
	return msg, nil
}

// ReadResponse is the initiator's second step: it completes the
// handshake using the responder's reply.
func (s *Session) ReadResponse(msg []byte) error {
	_, cs1, cs2, err := s.state.ReadMessage(nil, msg)
	if err != nil {
		return fmt.Errorf("noisesession: read response: %w", err)
	}
	s.finish(cs1, cs2)
	return nil
}

func (s *Session) finish(send, recv *noise.CipherState) {
	if send != nil && recv != nil {
		s.send, s.recv = send, recv
		s.complete = true
	}
}

// Complete reports whether the handshake has produced transport cipher
// states.
func (s *Session) Complete() bool {
	return s.complete
}

// Encrypt seals plaintext for the peer using the session's send cipher.
func (s *Session) Encrypt(ad, plaintext []byte) ([]byte, error) {
	if !s.complete {
		return nil, fmt.Errorf("noisesession: handshake not complete")
	}
	return s.send.Encrypt(nil, ad, plaintext), nil
}

// Decrypt opens ciphertext from the peer using the session's receive
// cipher.
func (s *Session) Decrypt(ad, ciphertext []byte) ([]byte, error) {
	if !s.complete {
		return nil, fmt.Errorf("noisesession: handshake not complete")
	}
	return s.recv.Decrypt(nil, ad, ciphertext)
}
