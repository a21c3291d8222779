package dhtfacade

import "fmt"

// PeerNotFoundError is returned when Send targets a peer id absent from
// the routing table.
type PeerNotFoundError struct {
	ID PeerID
}

func (e *PeerNotFoundError) Error() string {
	return fmt.Sprintf("dhtfacade: peer %s not found", e.ID)
}

// RateLimitedError is returned when Send is throttled by the façade's
// optional per-peer rate limiter.
type RateLimitedError struct {
	Peer PeerID
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("dhtfacade: peer %s rate limited", e.Peer)
}
