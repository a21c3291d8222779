// Package records implements the canonical-CBOR signed record schemas
// (SPEC_FULL.md C5): identity, presence, group, channel and container-tip
// records, each sharing the same sign/verify/hash lifecycle contract.
package records

import (
	"fmt"
	"time"

	circlsign "github.com/cloudflare/circl/sign"
	"github.com/dyrnwyn/saorsa-core/pkg/codec/cborcanon"
	"github.com/dyrnwyn/saorsa-core/pkg/constants"
	"github.com/dyrnwyn/saorsa-core/pkg/pqc"
)

// Record is the shared capability set every record kind implements: sign,
// verify, hash, and the static size/TTL limits it is subject to.
type Record interface {
	SizeCap() int
	TTL() time.Duration
	Timestamp() int64
	Signature() []byte
	SetSignature(sig []byte)
	EncodeForSigning() ([]byte, error)
}

// Sign clears r's signature, canonically encodes it, signs the encoding
// with ML-DSA-65, and stores the signature back onto r. Returns
// SizeExceeded if the signed record would exceed its cap.
func Sign(r Record, sk circlsign.PrivateKey) error {
	r.SetSignature(nil)
	data, err := r.EncodeForSigning()
	if err != nil {
		return fmt.Errorf("records: encode for signing: %w", err)
	}
	sig := pqc.Sign(sk, data)
	r.SetSignature(sig)

	total, err := cborcanon.Marshal(r)
	if err != nil {
		return fmt.Errorf("records: marshal signed record: %w", err)
	}
	if len(total) > r.SizeCap() {
		return &SizeExceededError{Size: len(total), Cap: r.SizeCap()}
	}
	return nil
}

// Verify enforces the size cap, the TTL relative to now, the fixed
// ML-DSA-65 signature length, and the signature itself over the canonical
// encoding with sig cleared.
func Verify(r Record, pk circlsign.PublicKey, now time.Time) error {
	total, err := cborcanon.Marshal(r)
	if err != nil {
		return fmt.Errorf("records: marshal for verify: %w", err)
	}
	if len(total) > r.SizeCap() {
		return &SizeExceededError{Size: len(total), Cap: r.SizeCap()}
	}

	age := now.Sub(time.Unix(r.Timestamp(), 0))
	if age > r.TTL() {
		return &ExpiredError{Age: age, TTL: r.TTL()}
	}

	sig := r.Signature()
	if len(sig) != pqc.SignatureSize {
		return &InvalidSignatureError{Reason: fmt.Sprintf("signature length %d != %d", len(sig), pqc.SignatureSize)}
	}

	r.SetSignature(nil)
	data, err := r.EncodeForSigning()
	r.SetSignature(sig)
	if err != nil {
		return fmt.Errorf("records: encode for verify: %w", err)
	}
	if !pqc.Verify(pk, data, sig) {
		return &InvalidSignatureError{Reason: "signature does not verify"}
	}
	return nil
}

// Hash returns BLAKE3 of the canonical encoding with sig cleared: a stable
// identifier for the record's content independent of who signed it.
func Hash(r Record) ([32]byte, error) {
	sig := r.Signature()
	r.SetSignature(nil)
	h, err := cborcanon.HashForIdentity(r, "sig")
	r.SetSignature(sig)
	if err != nil {
		return [32]byte{}, fmt.Errorf("records: hash: %w", err)
	}
	return h, nil
}

// DeviceEntry is one entry in an IdentityRecord's device list.
type DeviceEntry struct {
	DeviceID  string `cbor:"device_id"`
	PublicKey []byte `cbor:"public_key"`
	AddedAt   int64  `cbor:"added_at"`
}

// IdentityRecord binds a signing identity to its registered devices.
type IdentityRecord struct {
	Ver      uint8         `cbor:"ver"`
	Ts       int64         `cbor:"ts"`
	PKMLDSA  []byte        `cbor:"pk_mldsa"`
	Devices  []DeviceEntry `cbor:"devices"`
	Sig      []byte        `cbor:"sig"`
}

func (r *IdentityRecord) SizeCap() int           { return constants.IdentityRecordCap }
func (r *IdentityRecord) TTL() time.Duration     { return constants.IdentityRecordTTL }
func (r *IdentityRecord) Timestamp() int64       { return r.Ts }
func (r *IdentityRecord) Signature() []byte      { return r.Sig }
func (r *IdentityRecord) SetSignature(sig []byte) { r.Sig = sig }
func (r *IdentityRecord) EncodeForSigning() ([]byte, error) {
	return cborcanon.EncodeForSigning(r, "sig")
}

// PresenceRecord announces a short-lived endpoint and capability hint for
// an active device.
type PresenceRecord struct {
	Ver           uint8  `cbor:"ver"`
	Ts            int64  `cbor:"ts"`
	ActiveDevice  string `cbor:"active_device"`
	EndpointHint  string `cbor:"endpoint_hint"`
	MediaCaps     uint32 `cbor:"media_caps"`
	TTLSeconds    int64  `cbor:"ttl"`
	Sig           []byte `cbor:"sig"`
}

func (r *PresenceRecord) SizeCap() int       { return constants.PresenceRecordCap }
func (r *PresenceRecord) TTL() time.Duration { return constants.PresenceRecordTTL }
func (r *PresenceRecord) Timestamp() int64   { return r.Ts }
func (r *PresenceRecord) Signature() []byte  { return r.Sig }
func (r *PresenceRecord) SetSignature(sig []byte) { r.Sig = sig }
func (r *PresenceRecord) EncodeForSigning() ([]byte, error) {
	return cborcanon.EncodeForSigning(r, "sig")
}

// GroupRecord is the authoritative statement of a group's membership
// epoch and the root of its container tip.
type GroupRecord struct {
	Ver              uint8  `cbor:"ver"`
	Ts               int64  `cbor:"ts"`
	Epoch            uint64 `cbor:"epoch"`
	MembershipCommit [32]byte `cbor:"membership_commit"`
	ContainerTip     [32]byte `cbor:"container_tip"`
	WriteQuorum      uint32 `cbor:"write_quorum"`
	Sig              []byte `cbor:"sig"`
}

func (r *GroupRecord) SizeCap() int       { return constants.GroupRecordCap }
func (r *GroupRecord) TTL() time.Duration { return constants.GroupRecordTTL }
func (r *GroupRecord) Timestamp() int64   { return r.Ts }
func (r *GroupRecord) Signature() []byte  { return r.Sig }
func (r *GroupRecord) SetSignature(sig []byte) { r.Sig = sig }
func (r *GroupRecord) EncodeForSigning() ([]byte, error) {
	return cborcanon.EncodeForSigning(r, "sig")
}

// ChannelRecord points a named channel at the current container tip for
// a group epoch.
type ChannelRecord struct {
	Ver          uint8    `cbor:"ver"`
	Ts           int64    `cbor:"ts"`
	Epoch        uint64   `cbor:"epoch"`
	ContainerTip [32]byte `cbor:"container_tip"`
	Sig          []byte   `cbor:"sig"`
}

func (r *ChannelRecord) SizeCap() int       { return constants.ChannelRecordCap }
func (r *ChannelRecord) TTL() time.Duration { return constants.ChannelRecordTTL }
func (r *ChannelRecord) Timestamp() int64   { return r.Ts }
func (r *ChannelRecord) Signature() []byte  { return r.Sig }
func (r *ChannelRecord) SetSignature(sig []byte) { r.Sig = sig }
func (r *ChannelRecord) EncodeForSigning() ([]byte, error) {
	return cborcanon.EncodeForSigning(r, "sig")
}

// Version is a container's major.minor version pair.
type Version struct {
	Major uint32 `cbor:"major"`
	Minor uint32 `cbor:"minor"`
}

// ContainerTipRecord publishes the current root of a container's CRDT
// append log, optionally chained to its predecessor.
type ContainerTipRecord struct {
	Ver         uint8     `cbor:"ver"`
	Ts          int64     `cbor:"ts"`
	ContentRoot [32]byte  `cbor:"content_root"`
	Version     Version   `cbor:"version"`
	Prev        *[32]byte `cbor:"prev"`
	Sig         []byte    `cbor:"sig"`
}

func (r *ContainerTipRecord) SizeCap() int       { return constants.ContainerTipCap }
func (r *ContainerTipRecord) TTL() time.Duration { return constants.ContainerTipTTL }
func (r *ContainerTipRecord) Timestamp() int64   { return r.Ts }
func (r *ContainerTipRecord) Signature() []byte  { return r.Sig }
func (r *ContainerTipRecord) SetSignature(sig []byte) { r.Sig = sig }
func (r *ContainerTipRecord) EncodeForSigning() ([]byte, error) {
	return cborcanon.EncodeForSigning(r, "sig")
}
