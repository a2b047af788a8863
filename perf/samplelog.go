package perf

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// SampleLog appends raw measurements to a plain-text file: a heading line per
// test followed by one elapsed-nanoseconds line per sample.
// A nil *SampleLog discards everything.
type SampleLog struct {
	file   *os.File
	logger *logrus.Logger
}

// bareFormatter writes the message only, one per line.
type bareFormatter struct{}

func (bareFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return append([]byte(entry.Message), '\n'), nil
}

// OpenSampleLog opens path for appending, creating it if needed.
func OpenSampleLog(path string) (*SampleLog, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening sample log %s: %w", path, err)
	}
	logger := logrus.New()
	logger.SetOutput(file)
	logger.SetFormatter(bareFormatter{})
	logger.SetLevel(logrus.InfoLevel)
	return &SampleLog{file: file, logger: logger}, nil
}

// Heading starts a new test section.
func (l *SampleLog) Heading(format string, args ...any) {
	if l == nil {
		return
	}
	l.logger.Infof(format, args...)
}

// Elapsed logs one sample duration in nanoseconds.
func (l *SampleLog) Elapsed(d time.Duration) {
	if l == nil {
		return
	}
	l.logger.Info(d.Nanoseconds())
}

// Close closes the underlying file.
func (l *SampleLog) Close() error {
	if l == nil {
		return nil
	}
	return l.file.Close()
}
