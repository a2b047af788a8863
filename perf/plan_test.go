package perf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPlan_IsValid(t *testing.T) {
	plan := DefaultPlan()

	require.NoError(t, plan.Validate())
	assert.Equal(t, 30, plan.Samples)
	assert.Equal(t, []int{8, 64, 512}, plan.RTTSizes)
	assert.Equal(t, 90, plan.UDPDatagrams())
	// Every default burst moves 1 MiB.
	for _, tp := range plan.Throughput {
		assert.Equal(t, int64(1<<20), tp.Bytes())
	}
}

func TestParsePlan_PartialFile_KeepsDefaults(t *testing.T) {
	// GIVEN a plan that only overrides samples and the UDP timeout
	data := []byte("samples: 5\nudp_timeout: 250ms\n")

	// WHEN parsed
	plan, err := ParsePlan(data)

	// THEN the overrides apply and the rest stays default
	require.NoError(t, err)
	assert.Equal(t, 5, plan.Samples)
	assert.Equal(t, 250*time.Millisecond, plan.UDPTimeout)
	assert.Equal(t, DefaultPlan().Throughput, plan.Throughput)
}

func TestParsePlan_EmptyFile_IsDefault(t *testing.T) {
	plan, err := ParsePlan(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPlan(), plan)
}

func TestParsePlan_UnknownField_Rejected(t *testing.T) {
	_, err := ParsePlan([]byte("sampels: 5\n"))
	assert.Error(t, err, "typos must cause errors")
}

func TestParsePlan_InvalidValues_Rejected(t *testing.T) {
	tests := map[string]string{
		"zero samples":         "samples: 0\n",
		"negative rtt size":    "rtt_sizes: [8, -1]\n",
		"unaligned burst size": "throughput:\n  - messages: 10\n    message_size: 12\n",
		"oversized datagram":   "udp_sizes: [70000]\n",
		"zero udp timeout":     "udp_timeout: 0s\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePlan([]byte(data))
			assert.ErrorIs(t, err, ErrInvalidPlan)
		})
	}
}

func TestPlanValidate_UDPSizeLimit_FitsOneDatagram(t *testing.T) {
	plan := Plan{Samples: 1, UDPSizes: []int{MaxUDPPayload}, UDPTimeout: time.Second}

	// The largest accepted size, padded to words and prefixed by the sequence number,
	// still fits in an IPv4 datagram.
	require.NoError(t, plan.Validate())
	assert.LessOrEqual(t, WordBytes+WordsForSize(MaxUDPPayload)*WordBytes, 65507)

	// One byte more pads to a datagram that would not fit.
	plan.UDPSizes = []int{MaxUDPPayload + 1}
	assert.ErrorIs(t, plan.Validate(), ErrInvalidPlan)
	assert.Greater(t, WordBytes+WordsForSize(MaxUDPPayload+1)*WordBytes, 65507)
}

func TestLoadPlan_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("samples: 3\nudp_sizes: []\n"), 0644))

	plan, err := LoadPlan(path)

	require.NoError(t, err)
	assert.Equal(t, 3, plan.Samples)
	assert.Empty(t, plan.UDPSizes)
	assert.Zero(t, plan.UDPDatagrams())
}

func TestWritePlan_ReadPlan_SameMatrix(t *testing.T) {
	// GIVEN a plan announced over the wire
	var buf bytes.Buffer
	sent := DefaultPlan()
	sent.Samples = 7
	require.NoError(t, WritePlan(&buf, sent))

	// WHEN the server reads it back
	got, err := ReadPlan(&buf)

	// THEN it sees the same test matrix
	require.NoError(t, err)
	assert.Equal(t, sent, got)
	assert.Zero(t, buf.Len(), "frame must be consumed exactly")
}

func TestReadPlan_TruncatedFrame_Errors(t *testing.T) {
	var buf bytes.Buffer
	// Five words: version, samples, timeout, then an RTT list of 9 that ends after one entry.
	require.NoError(t, WriteWords(&buf, []uint64{5, planWireVersion, 3, 1000, 9, 8}))

	_, err := ReadPlan(&buf)

	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestReadPlan_OversizedFrame_Errors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteWords(&buf, []uint64{planFrameLimit + 1}))

	_, err := ReadPlan(&buf)

	assert.ErrorIs(t, err, ErrInvalidPlan)
}
