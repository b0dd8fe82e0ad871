// Package cdr writes the call-detail record line emitted once per
// successfully delivered MESSAGE: at most one line per logical message,
// on the first accepted 2xx.
package cdr

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Sink accepts one CDR line per accepted 2xx. Implementations must be
// safe for concurrent use, though in practice only the engine worker
// goroutine ever calls Record.
type Sink interface {
	// Record writes one line for a delivered message: caller phone, IMSI,
	// callee phone/IMSI, and the delivery timestamp.
	Record(caller, imsi, callee string, when time.Time) error
	Close() error
}

// FileSink appends CDR lines to a file.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens (creating if absent) the CDR file at path for append.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("cdr: open %s: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

// Record writes "<caller>,<imsi>,<callee>,<unix-timestamp>\n".
func (s *FileSink) Record(caller, imsi, callee string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := fmt.Sprintf("%s,%s,%s,%d\n", caller, imsi, callee, when.Unix())
	if _, err := s.f.WriteString(line); err != nil {
		return fmt.Errorf("cdr: write record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// NullSink discards every record; used when CDRFile is unset.
type NullSink struct{}

func (NullSink) Record(caller, imsi, callee string, when time.Time) error { return nil }
func (NullSink) Close() error                                            { return nil }
