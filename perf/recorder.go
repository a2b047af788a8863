package perf

import (
	"sync"
	"time"
)

// Phase names a session phase.
type Phase string

const (
	PhaseTCPRTT        Phase = "tcp_rtt"
	PhaseTCPThroughput Phase = "tcp_throughput"
	PhaseUDPRTT        Phase = "udp_rtt"
)

// Sample status values.
const (
	StatusOK      = "ok"
	StatusInvalid = "invalid" // payload or ack did not validate
	StatusTimeout = "timeout"
	StatusError   = "error"
)

// SampleRecord captures one measured sample.
type SampleRecord struct {
	SessionID    string
	Phase        Phase
	MessageSize  int
	MessageCount int // 1 for RTT samples
	Sample       int // 1-based within its test
	SendTimeUs   int64
	ElapsedNs    int64
	Bytes        int64 // payload bytes sent by the client
	Status       string
	ErrorMessage string
}

// Elapsed returns the measured duration.
func (r SampleRecord) Elapsed() time.Duration {
	return time.Duration(r.ElapsedNs)
}

// Recorder captures sample records (goroutine-safe).
type Recorder struct {
	mu      sync.Mutex
	records []SampleRecord
}

// Record appends one sample.
func (r *Recorder) Record(rec SampleRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records returns a copy of all recorded samples.
func (r *Recorder) Records() []SampleRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]SampleRecord, len(r.records))
	copy(result, r.records)
	return result
}

// Len returns the number of recorded samples.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Export writes the trace header and data files.
func (r *Recorder) Export(header *TraceHeader, headerPath, dataPath string) error {
	return ExportTrace(header, r.Records(), headerPath, dataPath)
}
