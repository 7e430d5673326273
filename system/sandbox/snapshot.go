// Package sandbox implements the snapshot, replay, and amendment primitives
// layered on top of the core as a plugin.
package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
	engine "github.com/mcp-tool-shop-org/consensusos/system/core"
)

// AmendmentRecord is the serialized activation state of one amendment.
type AmendmentRecord struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

// Capture is the full sandbox state captured into a snapshot.
type Capture struct {
	State      map[string]any    `json:"state"`
	Events     []engine.Event    `json:"events"`
	Amendments []AmendmentRecord `json:"amendments"`
}

// envelope wraps the canonical payload with its content hash.
type envelope struct {
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

// checksum computes the content hash over the canonical JSON encoding.
func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Serialize encodes a capture to its canonical JSON form and wraps it with a
// sha256 content hash.
func Serialize(c Capture) ([]byte, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode capture: %w", err)
	}

	return json.Marshal(envelope{
		Checksum: checksum(payload),
		Payload:  payload,
	})
}

// Deserialize decodes a serialized capture, recomputing the content hash and
// rejecting any mismatch.
func Deserialize(raw []byte) (Capture, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Capture{}, fmt.Errorf("decode envelope: %w", err)
	}

	actual := checksum(env.Payload)
	if actual != env.Checksum {
		return Capture{}, coreerr.SnapshotIntegrity(env.Checksum, actual)
	}

	var c Capture
	if err := json.Unmarshal(env.Payload, &c); err != nil {
		return Capture{}, fmt.Errorf("decode capture: %w", err)
	}
	return c, nil
}
