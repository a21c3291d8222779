package dhtfacade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dyrnwyn/saorsa-core/pkg/ratelimit"
)

var errTransport = errors.New("transport failure")

type fakeTransport struct {
	mu    sync.Mutex
	store map[string]map[string][]byte // peer hex -> key -> value
	fail  map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{store: make(map[string]map[string][]byte), fail: make(map[string]bool)}
}

func (f *fakeTransport) Put(ctx context.Context, peer *Peer, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[peer.ID.String()] {
		return errTransport
	}
	if f.store[peer.ID.String()] == nil {
		f.store[peer.ID.String()] = make(map[string][]byte)
	}
	f.store[peer.ID.String()][string(key)] = value
	return nil
}

func (f *fakeTransport) Get(ctx context.Context, peer *Peer, key []byte) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[peer.ID.String()] {
		return nil, false, errTransport
	}
	m := f.store[peer.ID.String()]
	v, ok := m[string(key)]
	return v, ok, nil
}

func (f *fakeTransport) Send(ctx context.Context, peer *Peer, topic string, payload []byte) ([]byte, error) {
	if f.fail[peer.ID.String()] {
		return nil, errTransport
	}
	return append([]byte("reply:"), payload...), nil
}

func newTestPeer(name string) *Peer {
	return &Peer{ID: NewPeerID(name), LastSeen: time.Now(), ReliabilityScore: 0.5}
}

func TestPutGetRoundTripThroughPeers(t *testing.T) {
	transport := newFakeTransport()
	f := New(NewPeerID("local"), transport, WithRetryAttempts(1))

	p1 := newTestPeer("peer1")
	f.AddPeer(p1)

	if err := f.Put(context.Background(), []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Local copy always satisfies Get first.
	v, ok, err := f.Get(context.Background(), []byte("k1"))
	if err != nil || !ok {
		t.Fatalf("expected local hit, got ok=%v err=%v", ok, err)
	}
	if string(v) != "v1" {
		t.Fatalf("expected v1, got %s", v)
	}
}

func TestSendReturnsReply(t *testing.T) {
	transport := newFakeTransport()
	f := New(NewPeerID("local"), transport, WithRetryAttempts(1))
	p1 := newTestPeer("peer1")
	f.AddPeer(p1)

	reply, err := f.Send(context.Background(), p1.ID, "topic", []byte("hello"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(reply) != "reply:hello" {
		t.Fatalf("unexpected reply: %s", reply)
	}
}

func TestSendUnknownPeerFails(t *testing.T) {
	transport := newFakeTransport()
	f := New(NewPeerID("local"), transport)
	_, err := f.Send(context.Background(), NewPeerID("ghost"), "topic", nil)
	if _, ok := err.(*PeerNotFoundError); !ok {
		t.Fatalf("expected PeerNotFoundError, got %v", err)
	}
}

func TestReliabilityDecaysOnFailureAndRecoversOnSuccess(t *testing.T) {
	transport := newFakeTransport()
	f := New(NewPeerID("local"), transport, WithRetryAttempts(1), WithRetryBase(time.Millisecond))
	p1 := newTestPeer("peer1")
	p1.ReliabilityScore = 1.0
	f.AddPeer(p1)

	transport.fail[p1.ID.String()] = true
	_, err := f.Send(context.Background(), p1.ID, "t", nil)
	if err == nil {
		t.Fatalf("expected failure")
	}
	afterFail := f.routing.get(p1.ID).ReliabilityScore
	if afterFail >= 1.0 {
		t.Fatalf("expected reliability to decay after failure, got %f", afterFail)
	}

	transport.fail[p1.ID.String()] = false
	if _, err := f.Send(context.Background(), p1.ID, "t", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	afterSuccess := f.routing.get(p1.ID).ReliabilityScore
	if afterSuccess <= afterFail {
		t.Fatalf("expected reliability to recover after success")
	}
}

func TestHealthRequiresPeersAndSuccessRate(t *testing.T) {
	transport := newFakeTransport()
	f := New(NewPeerID("local"), transport)
	if f.Health() {
		t.Fatalf("expected unhealthy with no peers")
	}
	p1 := newTestPeer("peer1")
	p1.ReliabilityScore = 0.9
	f.AddPeer(p1)
	if !f.Health() {
		t.Fatalf("expected healthy with a single reliable peer")
	}
}

func TestClosestPeersOrderedByDistance(t *testing.T) {
	transport := newFakeTransport()
	f := New(NewPeerID("local"), transport)
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		f.AddPeer(newTestPeer(n))
	}
	target := NewPeerID("target")
	closest := f.ClosestPeers(target, 3)
	if len(closest) != 3 {
		t.Fatalf("expected 3 closest peers, got %d", len(closest))
	}
	for i := 1; i < len(closest); i++ {
		prevDist := closest[i-1].ID.Distance(target)
		curDist := closest[i].ID.Distance(target)
		if curDist.Less(prevDist) {
			t.Fatalf("expected non-decreasing distance order, peer %d closer than peer %d", i, i-1)
		}
	}
}

func TestSendRateLimitedAfterCapacityExhausted(t *testing.T) {
	transport := newFakeTransport()
	limiter := ratelimit.New(ratelimit.Config{Capacity: 1, Refill: time.Hour})
	f := New(NewPeerID("local"), transport, WithRetryAttempts(1), WithRateLimiter(limiter))
	p1 := newTestPeer("peer1")
	f.AddPeer(p1)

	if _, err := f.Send(context.Background(), p1.ID, "topic", []byte("hello")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	_, err := f.Send(context.Background(), p1.ID, "topic", []byte("hello"))
	if _, ok := err.(*RateLimitedError); !ok {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
}
