package perf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportTrace_LoadTrace_PreservesRecords(t *testing.T) {
	// GIVEN a header and records, one with a comma in its error message
	dir := t.TempDir()
	headerPath := filepath.Join(dir, "trace.yaml")
	dataPath := filepath.Join(dir, "trace.csv")
	header := &TraceHeader{
		Version:    TraceVersion,
		TimeUnit:   "ns",
		CreatedAt:  "2026-01-02T03:04:05Z",
		SessionID:  "s-1",
		ServerAddr: "127.0.0.1:26910",
		Seed:       -42,
		Iterations: 5,
		Plan:       DefaultPlan(),
	}
	records := []SampleRecord{
		{SessionID: "s-1", Phase: PhaseTCPRTT, MessageSize: 8, MessageCount: 1, Sample: 1,
			SendTimeUs: 1767225600000000, ElapsedNs: 123456, Bytes: 8, Status: StatusOK},
		{SessionID: "s-1", Phase: PhaseUDPRTT, MessageSize: 64, MessageCount: 1, Sample: 2,
			SendTimeUs: 1767225600000100, Bytes: 64, Status: StatusTimeout, ErrorMessage: "no reply, gave up"},
	}

	// WHEN exported and loaded back
	require.NoError(t, ExportTrace(header, records, headerPath, dataPath))
	trace, err := LoadTrace(headerPath, dataPath)

	// THEN header and records survive unchanged
	require.NoError(t, err)
	assert.Equal(t, *header, trace.Header)
	assert.Equal(t, records, trace.Records)
}

func TestLoadTrace_UnknownVersion_Errors(t *testing.T) {
	dir := t.TempDir()
	headerPath := filepath.Join(dir, "trace.yaml")
	dataPath := filepath.Join(dir, "trace.csv")
	require.NoError(t, os.WriteFile(headerPath, []byte("trace_version: 99\n"), 0644))
	require.NoError(t, os.WriteFile(dataPath, []byte(""), 0644))

	_, err := LoadTrace(headerPath, dataPath)

	assert.Error(t, err)
}

func TestLoadTrace_BadNumber_ReportsLine(t *testing.T) {
	dir := t.TempDir()
	headerPath := filepath.Join(dir, "trace.yaml")
	dataPath := filepath.Join(dir, "trace.csv")
	require.NoError(t, ExportTrace(&TraceHeader{Version: TraceVersion}, nil, headerPath, dataPath))
	f, err := os.OpenFile(dataPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("s,tcp_rtt,eight,1,1,0,0,8,ok,\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = LoadTrace(headerPath, dataPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
