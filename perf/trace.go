package perf

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TraceVersion is the current trace format version.
const TraceVersion = 1

// TraceHeader captures run metadata for a trace.
type TraceHeader struct {
	Version    int    `yaml:"trace_version"`
	TimeUnit   string `yaml:"time_unit"`
	CreatedAt  string `yaml:"created_at,omitempty"`
	SessionID  string `yaml:"session_id"`
	ServerAddr string `yaml:"server_addr"`
	Seed       int64  `yaml:"seed"`
	Iterations int    `yaml:"iterations"`
	Plan       Plan   `yaml:"plan"`
}

// Trace combines header and records.
type Trace struct {
	Header  TraceHeader
	Records []SampleRecord
}

var traceColumns = []string{
	"session_id", "phase", "message_size", "message_count", "sample",
	"send_time_us", "elapsed_ns", "bytes", "status", "error_message",
}

// ExportTrace writes the trace header (YAML) and data (CSV) to separate files.
// Times use integer formatting to keep full precision.
func ExportTrace(header *TraceHeader, records []SampleRecord, headerPath, dataPath string) error {
	headerData, err := yaml.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling trace header: %w", err)
	}
	if err := os.WriteFile(headerPath, headerData, 0644); err != nil {
		return fmt.Errorf("writing trace header: %w", err)
	}

	file, err := os.Create(dataPath)
	if err != nil {
		return fmt.Errorf("creating trace data file: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := csv.NewWriter(file)
	if err := writer.Write(traceColumns); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for i, r := range records {
		row := []string{
			r.SessionID,
			string(r.Phase),
			strconv.Itoa(r.MessageSize),
			strconv.Itoa(r.MessageCount),
			strconv.Itoa(r.Sample),
			strconv.FormatInt(r.SendTimeUs, 10),
			strconv.FormatInt(r.ElapsedNs, 10),
			strconv.FormatInt(r.Bytes, 10),
			r.Status,
			r.ErrorMessage,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing CSV row %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flushing trace data: %w", err)
	}
	return nil
}

// LoadTrace reads a trace header (YAML) and data (CSV).
func LoadTrace(headerPath, dataPath string) (*Trace, error) {
	headerData, err := os.ReadFile(headerPath)
	if err != nil {
		return nil, fmt.Errorf("reading trace header: %w", err)
	}
	var header TraceHeader
	if err := yaml.Unmarshal(headerData, &header); err != nil {
		return nil, fmt.Errorf("parsing trace header: %w", err)
	}
	if header.Version != TraceVersion {
		return nil, fmt.Errorf("unsupported trace version %d", header.Version)
	}

	file, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("opening trace data: %w", err)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	var records []SampleRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row: %w", err)
		}
		r, err := parseSampleRecord(row)
		if err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		records = append(records, *r)
	}
	return &Trace{Header: header, Records: records}, nil
}

func parseSampleRecord(row []string) (*SampleRecord, error) {
	if len(row) < len(traceColumns) {
		return nil, fmt.Errorf("row has %d columns, expected %d", len(row), len(traceColumns))
	}
	ints := make([]int64, 0, 6)
	for _, col := range []int{2, 3, 4, 5, 6, 7} {
		v, err := strconv.ParseInt(row[col], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", traceColumns[col], err)
		}
		ints = append(ints, v)
	}
	return &SampleRecord{
		SessionID:    row[0],
		Phase:        Phase(row[1]),
		MessageSize:  int(ints[0]),
		MessageCount: int(ints[1]),
		Sample:       int(ints[2]),
		SendTimeUs:   ints[3],
		ElapsedNs:    ints[4],
		Bytes:        ints[5],
		Status:       row[8],
		ErrorMessage: strings.TrimSpace(row[9]),
	}, nil
}
