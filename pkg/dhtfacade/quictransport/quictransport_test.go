package quictransport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	circlsign "github.com/cloudflare/circl/sign"

	"github.com/dyrnwyn/saorsa-core/pkg/dhtfacade"
	"github.com/dyrnwyn/saorsa-core/pkg/dhtfacade/noisesession"
	"github.com/dyrnwyn/saorsa-core/pkg/identity"
)

func generateTestTLSConfig() *tls.Config {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"saorsa-core test"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		DNSNames:     []string{"localhost"},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}},
		NextProtos:         []string{"saorsa/1"},
		InsecureSkipVerify: true,
	}
}

type echoHandler struct {
	store map[string][]byte
}

func (h *echoHandler) HandlePut(ctx context.Context, key, value []byte) error {
	h.store[string(key)] = value
	return nil
}

func (h *echoHandler) HandleGet(ctx context.Context, key []byte) ([]byte, bool, error) {
	v, ok := h.store[string(key)]
	return v, ok, nil
}

func (h *echoHandler) HandleSend(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	return append([]byte(topic+":"), payload...), nil
}

func TestPutGetSendRoundTripOverQUIC(t *testing.T) {
	serverTLS := generateTestTLSConfig()
	handler := &echoHandler{store: make(map[string][]byte)}

	ready := make(chan string, 1)
	errc := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		q := New(serverTLS)
		l, err := q.quic.Listen(ctx, "127.0.0.1:0", serverTLS)
		if err != nil {
			errc <- err
			return
		}
		defer l.Close()
		ready <- l.Addr().String()
		for {
			conn, err := l.Accept(ctx)
			if err != nil {
				return
			}
			go q.serve(conn, handler)
		}
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-errc:
		t.Fatalf("listen: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for listener")
	}

	clientTLS := &tls.Config{NextProtos: []string{"saorsa/1"}, InsecureSkipVerify: true}
	tr := New(clientTLS)
	peer := &dhtfacade.Peer{ID: dhtfacade.NewPeerID("server"), Addrs: []string{addr}}

	if err := tr.Put(context.Background(), peer, []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := tr.Get(context.Background(), peer, []byte("k1"))
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(v) != "v1" {
		t.Fatalf("expected v1, got %s", v)
	}

	reply, err := tr.Send(context.Background(), peer, "topic", []byte("hi"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(reply) != "topic:hi" {
		t.Fatalf("unexpected reply: %s", reply)
	}
}

func TestGetMissingKeyReportsNotFound(t *testing.T) {
	serverTLS := generateTestTLSConfig()
	handler := &echoHandler{store: make(map[string][]byte)}

	ready := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		q := New(serverTLS)
		l, err := q.quic.Listen(ctx, "127.0.0.1:0", serverTLS)
		if err != nil {
			return
		}
		defer l.Close()
		ready <- l.Addr().String()
		for {
			conn, err := l.Accept(ctx)
			if err != nil {
				return
			}
			go q.serve(conn, handler)
		}
	}()

	addr := <-ready
	clientTLS := &tls.Config{NextProtos: []string{"saorsa/1"}, InsecureSkipVerify: true}
	tr := New(clientTLS)
	peer := &dhtfacade.Peer{ID: dhtfacade.NewPeerID("server"), Addrs: []string{addr}}

	_, ok, err := tr.Get(context.Background(), peer, []byte("missing"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected not found")
	}
}

func TestPutGetRoundTripOverNoiseSession(t *testing.T) {
	serverTLS := generateTestTLSConfig()
	handler := &echoHandler{store: make(map[string][]byte)}

	clientID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate client identity: %v", err)
	}
	clientNoiseKey, err := noisesession.GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("generate client noise key: %v", err)
	}
	serverNoiseKey, err := noisesession.GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("generate server noise key: %v", err)
	}

	serverNoise := NoiseConfig{
		LocalKey:    serverNoiseKey,
		TrustedKeys: map[string]circlsign.PublicKey{clientID.UserID(): clientID.SigningPublic},
		Replay:      noisesession.NewReplayGuard(),
	}
	clientNoise := NoiseConfig{Local: clientID, LocalKey: clientNoiseKey}

	ready := make(chan string, 1)
	errc := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		q := New(serverTLS, WithNoise(serverNoise))
		l, err := q.quic.Listen(ctx, "127.0.0.1:0", serverTLS)
		if err != nil {
			errc <- err
			return
		}
		defer l.Close()
		ready <- l.Addr().String()
		for {
			conn, err := l.Accept(ctx)
			if err != nil {
				return
			}
			go q.serve(conn, handler)
		}
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-errc:
		t.Fatalf("listen: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for listener")
	}

	clientTLS := &tls.Config{NextProtos: []string{"saorsa/1"}, InsecureSkipVerify: true}
	tr := New(clientTLS, WithNoise(clientNoise))
	peer := &dhtfacade.Peer{
		ID:       dhtfacade.NewPeerID("server"),
		Addrs:    []string{addr},
		NoiseKey: serverNoiseKey.Public,
	}

	if err := tr.Put(context.Background(), peer, []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := tr.Get(context.Background(), peer, []byte("k1"))
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(v) != "v1" {
		t.Fatalf("expected v1, got %s", v)
	}
}

func TestNoiseSessionRejectsUntrustedPeer(t *testing.T) {
	serverTLS := generateTestTLSConfig()
	handler := &echoHandler{store: make(map[string][]byte)}

	clientID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate client identity: %v", err)
	}
	clientNoiseKey, err := noisesession.GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("generate client noise key: %v", err)
	}
	serverNoiseKey, err := noisesession.GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("generate server noise key: %v", err)
	}

	// The server's trust registry does not include the client's signing
	// key, so its handshake verification must fail the session.
	serverNoise := NoiseConfig{
		LocalKey:    serverNoiseKey,
		TrustedKeys: map[string]circlsign.PublicKey{},
	}
	clientNoise := NoiseConfig{Local: clientID, LocalKey: clientNoiseKey}

	ready := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		q := New(serverTLS, WithNoise(serverNoise))
		l, err := q.quic.Listen(ctx, "127.0.0.1:0", serverTLS)
		if err != nil {
			return
		}
		defer l.Close()
		ready <- l.Addr().String()
		for {
			conn, err := l.Accept(ctx)
			if err != nil {
				return
			}
			go q.serve(conn, handler)
		}
	}()

	addr := <-ready
	clientTLS := &tls.Config{NextProtos: []string{"saorsa/1"}, InsecureSkipVerify: true}
	tr := New(clientTLS, WithNoise(clientNoise))
	peer := &dhtfacade.Peer{
		ID:       dhtfacade.NewPeerID("server"),
		Addrs:    []string{addr},
		NoiseKey: serverNoiseKey.Public,
	}

	if err := tr.Put(context.Background(), peer, []byte("k"), []byte("v")); err == nil {
		t.Fatalf("expected put to fail against a server that does not trust this client")
	}
}

func TestDialFailsWithoutAdvertisedAddress(t *testing.T) {
	tr := New(&tls.Config{})
	peer := &dhtfacade.Peer{ID: dhtfacade.NewPeerID("nowhere")}
	if err := tr.Put(context.Background(), peer, []byte("k"), []byte("v")); err == nil {
		t.Fatalf("expected error for peer with no advertised address")
	}
}
