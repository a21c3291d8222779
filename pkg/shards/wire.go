package shards

import (
	"context"
	"fmt"
	"time"

	"github.com/dyrnwyn/saorsa-core/pkg/codec/cborcanon"
	"github.com/dyrnwyn/saorsa-core/pkg/dhtfacade"
	"github.com/dyrnwyn/saorsa-core/pkg/erasure"
)

// MessageKind is the closed tag for the shard distributor's wire sum
// type: every message on the wire is exactly one of these six shapes.
type MessageKind string

const (
	KindStoreShardRequest     MessageKind = "StoreShardRequest"
	KindStoreShardResponse    MessageKind = "StoreShardResponse"
	KindRetrieveShardRequest  MessageKind = "RetrieveShardRequest"
	KindRetrieveShardResponse MessageKind = "RetrieveShardResponse"
	KindShardHealthCheck      MessageKind = "ShardHealthCheck"
	KindShardHealthResponse   MessageKind = "ShardHealthResponse"
)

// Message is the canonical-CBOR envelope carrying exactly one payload
// variant, tagged by Kind.
type Message struct {
	Kind    MessageKind `cbor:"kind"`
	Payload []byte      `cbor:"payload"`
}

type storeShardRequest struct {
	Group     string `cbor:"group"`
	DataID    string `cbor:"data_id"`
	Index     int    `cbor:"index"`
	Kind      int    `cbor:"shard_kind"`
	Data      []byte `cbor:"data"`
	Integrity [32]byte `cbor:"integrity"`
	CreatedAt int64  `cbor:"created_at"`
}

type storeShardResponse struct {
	OK     bool   `cbor:"ok"`
	Reason string `cbor:"reason,omitempty"`
}

type retrieveShardRequest struct {
	Group  string `cbor:"group"`
	DataID string `cbor:"data_id"`
	Index  int    `cbor:"index"`
}

type retrieveShardResponse struct {
	Found     bool     `cbor:"found"`
	Data      []byte   `cbor:"data"`
	Integrity [32]byte `cbor:"integrity"`
}

type shardHealthCheckRequest struct {
	Group  string `cbor:"group"`
	DataID string `cbor:"data_id"`
}

type shardHealthCheckResponse struct {
	AvailableIndices []int `cbor:"available_indices"`
	CorruptedIndices []int `cbor:"corrupted_indices"`
}

func encodeMessage(kind MessageKind, payload interface{}) ([]byte, error) {
	data, err := cborcanon.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return cborcanon.Marshal(&Message{Kind: kind, Payload: data})
}

func (d *Distributor) sendWithRetry(ctx context.Context, member dhtfacade.PeerID, topic string, shard *erasure.Shard) error {
	req := storeShardRequest{
		Group:     shard.Group,
		DataID:    shard.ContentID,
		Index:     shard.Index,
		Kind:      int(shard.Kind),
		Data:      shard.Data,
		Integrity: shard.Integrity,
		CreatedAt: shard.CreatedAt.Unix(),
	}
	msg, err := encodeMessage(KindStoreShardRequest, req)
	if err != nil {
		return fmt.Errorf("shards: encode store request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < d.retries; attempt++ {
		reply, err := d.transport.Send(ctx, member, topic, msg)
		if err == nil {
			var respMsg Message
			if err := cborcanon.Unmarshal(reply, &respMsg); err == nil {
				var resp storeShardResponse
				if err := cborcanon.Unmarshal(respMsg.Payload, &resp); err == nil && resp.OK {
					return nil
				}
			}
		}
		lastErr = err
		select {
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("shards: store shard failed after %d attempts: %w", d.retries, lastErr)
}

func (d *Distributor) retrieveWithRetry(ctx context.Context, member dhtfacade.PeerID, group, dataID string, index int) (*erasure.Shard, error) {
	req := retrieveShardRequest{Group: group, DataID: dataID, Index: index}
	msg, err := encodeMessage(KindRetrieveShardRequest, req)
	if err != nil {
		return nil, fmt.Errorf("shards: encode retrieve request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < d.retries; attempt++ {
		reply, err := d.transport.Send(ctx, member, retrieveShardTopic(group, dataID), msg)
		if err == nil {
			var respMsg Message
			if err := cborcanon.Unmarshal(reply, &respMsg); err == nil {
				var resp retrieveShardResponse
				if err := cborcanon.Unmarshal(respMsg.Payload, &resp); err == nil && resp.Found {
					shard := &erasure.Shard{Index: index, Group: group, ContentID: dataID, Data: resp.Data, Integrity: resp.Integrity}
					return shard, nil
				}
			}
		}
		lastErr = err
		select {
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("shard not found")
	}
	return nil, lastErr
}

type healthCheckResult struct {
	availableIndices []int
	corruptedIndices []int
}

func (d *Distributor) sendHealthCheck(ctx context.Context, member dhtfacade.PeerID, group, dataID string) (*healthCheckResult, error) {
	req := shardHealthCheckRequest{Group: group, DataID: dataID}
	msg, err := encodeMessage(KindShardHealthCheck, req)
	if err != nil {
		return nil, fmt.Errorf("shards: encode health check: %w", err)
	}

	reply, err := d.transport.Send(ctx, member, healthCheckTopic(group, dataID), msg)
	if err != nil {
		return nil, err
	}
	var respMsg Message
	if err := cborcanon.Unmarshal(reply, &respMsg); err != nil {
		return nil, err
	}
	var resp shardHealthCheckResponse
	if err := cborcanon.Unmarshal(respMsg.Payload, &resp); err != nil {
		return nil, err
	}
	return &healthCheckResult{availableIndices: resp.AvailableIndices, corruptedIndices: resp.CorruptedIndices}, nil
}
