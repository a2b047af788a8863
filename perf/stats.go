package perf

import (
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/dustin/go-humanize"
)

type IntOrFloat64 interface {
	int | int64 | float64
}

// CalculatePercentile returns the p-th percentile of sorted data, linearly
// interpolated between ranks. Input is in nanoseconds, the result in microseconds.
func CalculatePercentile[T IntOrFloat64](data []T, p float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	rank := p / 100.0 * float64(n-1)
	lowerIdx := int(math.Floor(rank))
	upperIdx := int(math.Ceil(rank))
	if upperIdx >= n {
		return float64(data[n-1]) / 1000
	}
	if lowerIdx == upperIdx {
		return float64(data[lowerIdx]) / 1000
	}
	lowerVal := float64(data[lowerIdx])
	upperVal := float64(data[upperIdx])
	return (lowerVal + (upperVal-lowerVal)*(rank-float64(lowerIdx))) / 1000
}

// CalculateMean returns the mean of data. Input is in nanoseconds, the result in microseconds.
func CalculateMean[T IntOrFloat64](numbers []T) float64 {
	if len(numbers) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, number := range numbers {
		sum += float64(number)
	}
	return (sum / float64(len(numbers))) / 1000
}

// Summary aggregates the samples of one test (phase + message size).
// Latency fields are in microseconds and cover measured samples only
// (status ok or invalid); timeouts and errors are counted separately.
type Summary struct {
	Phase        Phase
	MessageSize  int
	MessageCount int

	Samples  int
	Valid    int
	Invalid  int
	Timeouts int
	Errors   int

	MeanUs float64
	MinUs  float64
	MaxUs  float64
	P50Us  float64
	P90Us  float64
	P99Us  float64

	BytesPerSecond float64
}

type summaryKey struct {
	phase Phase
	size  int
	count int
}

// Summarize groups records by test, in order of first appearance.
func Summarize(records []SampleRecord) []Summary {
	var order []summaryKey
	groups := make(map[summaryKey][]SampleRecord)
	for _, r := range records {
		k := summaryKey{phase: r.Phase, size: r.MessageSize, count: r.MessageCount}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	summaries := make([]Summary, 0, len(order))
	for _, k := range order {
		summaries = append(summaries, summarizeGroup(k, groups[k]))
	}
	return summaries
}

func summarizeGroup(k summaryKey, records []SampleRecord) Summary {
	s := Summary{Phase: k.phase, MessageSize: k.size, MessageCount: k.count, Samples: len(records)}
	var elapsed []int64
	var bytes int64
	for _, r := range records {
		switch r.Status {
		case StatusOK:
			s.Valid++
		case StatusInvalid:
			s.Invalid++
		case StatusTimeout:
			s.Timeouts++
			continue
		default:
			s.Errors++
			continue
		}
		elapsed = append(elapsed, r.ElapsedNs)
		bytes += r.Bytes
	}
	if len(elapsed) == 0 {
		return s
	}
	slices.Sort(elapsed)
	s.MeanUs = CalculateMean(elapsed)
	s.MinUs = float64(elapsed[0]) / 1000
	s.MaxUs = float64(elapsed[len(elapsed)-1]) / 1000
	s.P50Us = CalculatePercentile(elapsed, 50)
	s.P90Us = CalculatePercentile(elapsed, 90)
	s.P99Us = CalculatePercentile(elapsed, 99)

	var total int64
	for _, e := range elapsed {
		total += e
	}
	if total > 0 {
		s.BytesPerSecond = float64(bytes) / (float64(total) / 1e9)
	}
	return s
}

// PrintSummary writes a human-readable report.
func PrintSummary(w io.Writer, summaries []Summary) {
	_, _ = fmt.Fprintln(w, "=== Network Performance ===")
	for _, s := range summaries {
		switch s.Phase {
		case PhaseTCPThroughput:
			_, _ = fmt.Fprintf(w, "%-15s %s x %s\n", s.Phase,
				humanize.Comma(int64(s.MessageCount)), humanize.IBytes(uint64(s.MessageSize)))
		default:
			_, _ = fmt.Fprintf(w, "%-15s %s\n", s.Phase, humanize.IBytes(uint64(s.MessageSize)))
		}
		_, _ = fmt.Fprintf(w, "  samples        : %d (valid %d, invalid %d, timeout %d, error %d)\n",
			s.Samples, s.Valid, s.Invalid, s.Timeouts, s.Errors)
		if s.Valid+s.Invalid == 0 {
			continue
		}
		_, _ = fmt.Fprintf(w, "  latency (µs)   : mean %.2f  min %.2f  p50 %.2f  p90 %.2f  p99 %.2f  max %.2f\n",
			s.MeanUs, s.MinUs, s.P50Us, s.P90Us, s.P99Us, s.MaxUs)
		_, _ = fmt.Fprintf(w, "  throughput     : %s/s\n", humanize.IBytes(uint64(s.BytesPerSecond)))
	}
}
