// Package tcptransport adapts pkg/transport/tcp into a dhtfacade.Transport:
// the same framed put/get/send contract quictransport serves over QUIC,
// carried instead over TCP+TLS 1.3 for deployments where QUIC's UDP
// transport is blocked or unavailable.
package tcptransport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	circlsign "github.com/cloudflare/circl/sign"
	"github.com/flynn/noise"

	"github.com/dyrnwyn/saorsa-core/pkg/codec/cborcanon"
	"github.com/dyrnwyn/saorsa-core/pkg/dhtfacade"
	"github.com/dyrnwyn/saorsa-core/pkg/dhtfacade/noisesession"
	"github.com/dyrnwyn/saorsa-core/pkg/identity"
	"github.com/dyrnwyn/saorsa-core/pkg/pqc"
	"github.com/dyrnwyn/saorsa-core/pkg/transport"
	"github.com/dyrnwyn/saorsa-core/pkg/transport/tcp"
)

// maxFrameBytes bounds a single request/response frame to guard against a
// malformed or hostile length prefix driving an unbounded allocation.
const maxFrameBytes = 64 * 1024 * 1024

// opKind identifies which façade operation a frame carries.
type opKind string

const (
	opPut  opKind = "put"
	opGet  opKind = "get"
	opSend opKind = "send"
)

// request is the wire envelope for a single façade call.
type request struct {
	Op      opKind `cbor:"op"`
	Key     []byte `cbor:"key,omitempty"`
	Value   []byte `cbor:"value,omitempty"`
	Topic   string `cbor:"topic,omitempty"`
	Payload []byte `cbor:"payload,omitempty"`
}

// response is the wire envelope for a call's result.
type response struct {
	OK      bool   `cbor:"ok"`
	Found   bool   `cbor:"found,omitempty"`
	Value   []byte `cbor:"value,omitempty"`
	Payload []byte `cbor:"payload,omitempty"`
	Err     string `cbor:"err,omitempty"`
}

// NoiseConfig enables a Noise-IK session layer on top of the TCP stream,
// identical in shape to quictransport's: an identity-bound (ML-DSA-65)
// handshake runs before request/response frames are exchanged, encrypted
// under the resulting session keys. Leave nil to send frames in the clear
// over the TCP/TLS channel alone.
type NoiseConfig struct {
	Local       *identity.Identity
	LocalKey    noise.DHKey
	TrustedKeys map[string]circlsign.PublicKey
	Replay      *noisesession.ReplayGuard
}

// Transport implements dhtfacade.Transport over TCP+TLS. It is the
// fallback counterpart to quictransport.Transport for peers or networks
// that can't carry QUIC's UDP datagrams; the façade and its callers
// select between the two by the Transport they're constructed with, not
// by any type assertion.
type Transport struct {
	tcp          transport.Transport
	tlsConfig    *tls.Config
	noise        *NoiseConfig
	helloCounter uint64
}

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithNoise attaches a Noise-IK session layer to every call this
// Transport makes and serves.
func WithNoise(cfg NoiseConfig) Option {
	return func(t *Transport) { t.noise = &cfg }
}

// New builds a TCP-backed dhtfacade.Transport. tlsConfig must carry the
// certificate/verification material the deployment uses to authenticate
// TCP peers.
func New(tlsConfig *tls.Config, opts ...Option) *Transport {
	t := &Transport{tcp: tcp.New(), tlsConfig: tlsConfig}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Transport) dial(ctx context.Context, peer *dhtfacade.Peer) (transport.Conn, error) {
	if len(peer.Addrs) == 0 {
		return nil, fmt.Errorf("tcptransport: peer %s has no advertised address", peer.ID)
	}
	return t.tcp.Dial(ctx, peer.Addrs[0], t.tlsConfig)
}

func writeFrameBytes(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("tcptransport: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("tcptransport: write frame body: %w", err)
	}
	return nil
}

func readFrameBytes(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("tcptransport: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("tcptransport: frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("tcptransport: read frame body: %w", err)
	}
	return body, nil
}

// clientHandshake runs the initiator side of a Noise-IK session over
// conn. It returns a nil session when noise is disabled, and an error
// when noise is enabled but peer advertises no NoiseKey.
func (t *Transport) clientHandshake(conn transport.Conn, peer *dhtfacade.Peer) (*noisesession.Session, error) {
	if t.noise == nil {
		return nil, nil
	}
	if len(peer.NoiseKey) == 0 {
		return nil, fmt.Errorf("tcptransport: noise enabled but peer %s advertises no noise key", peer.ID)
	}
	sess, err := noisesession.NewInitiator(t.noise.LocalKey, peer.NoiseKey)
	if err != nil {
		return nil, fmt.Errorf("tcptransport: noise initiator: %w", err)
	}
	nonce := atomic.AddUint64(&t.helloCounter, 1)
	hello, err := sess.WriteInitiatorHello(t.noise.Local, nonce)
	if err != nil {
		return nil, err
	}
	if err := writeFrameBytes(conn, hello); err != nil {
		return nil, err
	}
	respMsg, err := readFrameBytes(conn)
	if err != nil {
		return nil, fmt.Errorf("tcptransport: noise handshake response: %w", err)
	}
	if err := sess.ReadResponse(respMsg); err != nil {
		return nil, err
	}
	return sess, nil
}

func (t *Transport) roundTrip(ctx context.Context, peer *dhtfacade.Peer, req request) (response, error) {
	conn, err := t.dial(ctx, peer)
	if err != nil {
		return response{}, err
	}
	defer conn.Close()

	sess, err := t.clientHandshake(conn, peer)
	if err != nil {
		return response{}, err
	}

	reqBytes, err := cborcanon.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("tcptransport: encode request: %w", err)
	}
	if sess != nil {
		reqBytes, err = sess.Encrypt(nil, reqBytes)
		if err != nil {
			return response{}, fmt.Errorf("tcptransport: encrypt request: %w", err)
		}
	}
	if err := writeFrameBytes(conn, reqBytes); err != nil {
		return response{}, err
	}

	respBytes, err := readFrameBytes(conn)
	if err != nil {
		return response{}, fmt.Errorf("tcptransport: %s: %w", req.Op, err)
	}
	if sess != nil {
		respBytes, err = sess.Decrypt(nil, respBytes)
		if err != nil {
			return response{}, fmt.Errorf("tcptransport: decrypt response: %w", err)
		}
	}
	var resp response
	if err := cborcanon.Unmarshal(respBytes, &resp); err != nil {
		return response{}, fmt.Errorf("tcptransport: decode response: %w", err)
	}
	if !resp.OK {
		return response{}, fmt.Errorf("tcptransport: %s: peer reported: %s", req.Op, resp.Err)
	}
	return resp, nil
}

// Put stores key/value on the remote peer.
func (t *Transport) Put(ctx context.Context, peer *dhtfacade.Peer, key, value []byte) error {
	_, err := t.roundTrip(ctx, peer, request{Op: opPut, Key: key, Value: value})
	return err
}

// Get fetches key from the remote peer.
func (t *Transport) Get(ctx context.Context, peer *dhtfacade.Peer, key []byte) ([]byte, bool, error) {
	resp, err := t.roundTrip(ctx, peer, request{Op: opGet, Key: key})
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Found, nil
}

// Send delivers a directed application message to the remote peer and
// returns its reply payload.
func (t *Transport) Send(ctx context.Context, peer *dhtfacade.Peer, topic string, payload []byte) ([]byte, error) {
	resp, err := t.roundTrip(ctx, peer, request{Op: opSend, Topic: topic, Payload: payload})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Listen serves incoming façade requests on addr, dispatching each framed
// request to handler and writing its framed response back on the same
// connection. When t was built WithNoise, every accepted connection runs
// the responder side of a Noise-IK handshake before its request frame is
// read.
func (t *Transport) Listen(ctx context.Context, addr string, handler Handler) error {
	l, err := t.tcp.Listen(ctx, addr, t.tlsConfig)
	if err != nil {
		return fmt.Errorf("tcptransport: listen: %w", err)
	}
	defer l.Close()

	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			return err
		}
		go t.serve(conn, handler)
	}
}

// Handler answers local put/get/send requests arriving over a transport
// connection.
type Handler interface {
	HandlePut(ctx context.Context, key, value []byte) error
	HandleGet(ctx context.Context, key []byte) ([]byte, bool, error)
	HandleSend(ctx context.Context, topic string, payload []byte) ([]byte, error)
}

// serverHandshake runs the responder side of a Noise-IK session over
// conn, verifying the initiator's hello against t.noise.TrustedKeys.
func (t *Transport) serverHandshake(conn transport.Conn) (*noisesession.Session, error) {
	if t.noise == nil {
		return nil, nil
	}
	sess, err := noisesession.NewResponder(t.noise.LocalKey)
	if err != nil {
		return nil, fmt.Errorf("tcptransport: noise responder: %w", err)
	}
	helloMsg, err := readFrameBytes(conn)
	if err != nil {
		return nil, fmt.Errorf("tcptransport: noise handshake hello: %w", err)
	}
	helloPayload, err := sess.ReadInitiatorHello(helloMsg)
	if err != nil {
		return nil, err
	}
	userID, nonce, err := noisesession.VerifyHello(helloPayload, func(userID string) (func([]byte, []byte) bool, bool) {
		pub, ok := t.noise.TrustedKeys[userID]
		if !ok {
			return nil, false
		}
		return func(message, signature []byte) bool { return pqc.Verify(pub, message, signature) }, true
	})
	if err != nil {
		return nil, fmt.Errorf("tcptransport: noise hello: %w", err)
	}
	if t.noise.Replay != nil && !t.noise.Replay.Accept(userID, nonce) {
		return nil, fmt.Errorf("tcptransport: noise hello: replayed nonce from %q", userID)
	}
	respMsg, err := sess.WriteResponse()
	if err != nil {
		return nil, err
	}
	if err := writeFrameBytes(conn, respMsg); err != nil {
		return nil, err
	}
	return sess, nil
}

func (t *Transport) serve(conn transport.Conn, handler Handler) {
	defer conn.Close()

	sess, err := t.serverHandshake(conn)
	if err != nil {
		return
	}

	reqBytes, err := readFrameBytes(conn)
	if err != nil {
		return
	}
	if sess != nil {
		reqBytes, err = sess.Decrypt(nil, reqBytes)
		if err != nil {
			return
		}
	}
	var req request
	if err := cborcanon.Unmarshal(reqBytes, &req); err != nil {
		return
	}

	ctx := context.Background()
	var resp response
	switch req.Op {
	case opPut:
		if err := handler.HandlePut(ctx, req.Key, req.Value); err != nil {
			resp = response{OK: false, Err: err.Error()}
		} else {
			resp = response{OK: true}
		}
	case opGet:
		value, found, err := handler.HandleGet(ctx, req.Key)
		if err != nil {
			resp = response{OK: false, Err: err.Error()}
		} else {
			resp = response{OK: true, Value: value, Found: found}
		}
	case opSend:
		reply, err := handler.HandleSend(ctx, req.Topic, req.Payload)
		if err != nil {
			resp = response{OK: false, Err: err.Error()}
		} else {
			resp = response{OK: true, Payload: reply}
		}
	default:
		resp = response{OK: false, Err: fmt.Sprintf("unknown op %q", req.Op)}
	}

	respBytes, err := cborcanon.Marshal(resp)
	if err != nil {
		return
	}
	if sess != nil {
		respBytes, err = sess.Encrypt(nil, respBytes)
		if err != nil {
			return
		}
	}
	_ = writeFrameBytes(conn, respBytes)
}
