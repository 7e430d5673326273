package sandbox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
	engine "github.com/mcp-tool-shop-org/consensusos/system/core"
)

func sampleCapture() Capture {
	return Capture{
		State: map[string]any{
			"height": float64(120),
			"flags":  map[string]any{"frozen": false},
		},
		Events: []engine.Event{
			{Topic: "core.boot.complete", Source: "core", Sequence: 1, Timestamp: "2025-06-01T00:00:00Z"},
			{Topic: "governor.token.issued", Source: "governor", Sequence: 2, Timestamp: "2025-06-01T00:00:01Z"},
		},
		Amendments: []AmendmentRecord{
			{ID: "raise-quorum", Active: true},
		},
	}
}

func TestSnapshot_RoundTripIdentity(t *testing.T) {
	original := sampleCapture()

	raw, err := Serialize(original)
	require.NoError(t, err)

	restored, err := Deserialize(raw)
	require.NoError(t, err)

	assert.Equal(t, original.State, restored.State)
	assert.Equal(t, original.Events, restored.Events)
	assert.Equal(t, original.Amendments, restored.Amendments)
}

func TestSnapshot_TamperDetection(t *testing.T) {
	raw, err := Serialize(sampleCapture())
	require.NoError(t, err)

	// Flip one byte inside a payload string; the recomputed hash must reject
	// the document even though it is still well-formed JSON.
	tampered := bytes.Replace(raw, []byte("raise-quorum"), []byte("raise-quoruM"), 1)
	require.NotEqual(t, raw, tampered)

	_, err = Deserialize(tampered)
	require.Error(t, err)
	assert.True(t, coreerr.HasCode(err, coreerr.ErrCodeSnapshotIntegrity))
}

func TestSnapshot_DeterministicEncoding(t *testing.T) {
	a, err := Serialize(sampleCapture())
	require.NoError(t, err)
	b, err := Serialize(sampleCapture())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSnapshot_GarbageRejected(t *testing.T) {
	_, err := Deserialize([]byte("not json at all"))
	assert.Error(t, err)
}
