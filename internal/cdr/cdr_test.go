package cdr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileSinkRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smqueue.cdr")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer sink.Close()

	when := time.Unix(1700000000, 0)
	if err := sink.Record("+17074700741", "IMSI666410186585295", "+17074700746", when); err != nil {
		t.Fatalf("Record: %v", err)
	}
	sink.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "+17074700741,IMSI666410186585295,+17074700746,1700000000\n"
	if string(data) != want {
		t.Errorf("got %q, want %q", string(data), want)
	}
}

func TestFileSinkAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smqueue.cdr")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	sink.Record("a", "b", "c", time.Unix(1, 0))
	sink.Close()

	sink2, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink (reopen): %v", err)
	}
	sink2.Record("d", "e", "f", time.Unix(2, 0))
	sink2.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}
}

func TestNullSink(t *testing.T) {
	var s NullSink
	if err := s.Record("a", "b", "c", time.Now()); err != nil {
		t.Errorf("NullSink.Record returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("NullSink.Close returned error: %v", err)
	}
}
