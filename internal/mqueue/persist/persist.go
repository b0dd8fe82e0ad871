// Package persist saves and restores a queue's entries across a restart,
// in the plain-text format the state machine has always used: one record
// per entry, written in reverse-timestamp order so a straight top-to-bottom
// replay rebuilds a forward-time queue cheaply.
package persist

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/zurustar/smqueued/internal/mqueue"
)

// Record is one persisted queue entry, as read back from the save file
// before it has been reinserted into a live queue.
type Record struct {
	State          mqueue.State
	NextActionTime time.Time
	SourceAddr     string
	RawText        []byte
	Direction      mqueue.Direction
	NeedRepack     bool
}

// Save writes entries (expected in the reverse-time order returned by
// Queue.SnapshotReverse) to w.
func Save(w io.Writer, entries []*mqueue.Entry, textOf func(*mqueue.Entry) ([]byte, error)) (int, error) {
	bw := bufio.NewWriter(w)
	written := 0
	for _, e := range entries {
		text, err := textOf(e)
		if err != nil {
			return written, fmt.Errorf("persist: serialize entry %s: %w", e.QTag, err)
		}
		msToSC := 0
		if e.Direction == mqueue.DirectionOutbound {
			msToSC = 1
		}
		needRepack := 0
		if e.NeedRepack {
			needRepack = 1
		}
		// Self-originated entries (bounces, synthesized REGISTERs) have no
		// source address; the header fields are whitespace-separated, so an
		// empty one would corrupt the record.
		addr := e.SourceAddrS
		if addr == "" {
			addr = "0.0.0.0:0"
		}
		_, err = fmt.Fprintf(bw, "=== %d %d %s %d %d %d\n%s\n\n",
			int(e.State), e.NextActionTime.Unix(), addr, len(text), msToSC, needRepack, text)
		if err != nil {
			return written, fmt.Errorf("persist: write entry %s: %w", e.QTag, err)
		}
		written++
	}
	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("persist: flush: %w", err)
	}
	return written, nil
}

// Validate checks a record's raw text. A record whose datagram fails
// validation is counted as an error but doesn't stop the rest of the
// file from loading.
type Validate func(raw []byte) (valid bool)

// Load reads records back from r. Records that fail validate are counted
// as errors but skipped rather than aborting the load; the caller should
// clear the save file afterward if errCount > 0, so a second crash doesn't
// re-ingest the same bad data.
func Load(r io.Reader, validate Validate) (records []*Record, errCount int, err error) {
	br := bufio.NewReader(r)
	for {
		rec, ok, rerr := readOneRecord(br)
		if rerr != nil {
			return records, errCount, fmt.Errorf("persist: read record: %w", rerr)
		}
		if !ok {
			break
		}
		if validate != nil && !validate(rec.RawText) {
			errCount++
			continue
		}
		records = append(records, rec)
	}
	return records, errCount, nil
}

// readOneRecord reads a single "=== ..." header line plus its body, or
// returns ok=false at a clean end of file.
func readOneRecord(br *bufio.Reader) (*Record, bool, error) {
	header, err := br.ReadString('\n')
	if err == io.EOF && strings.TrimSpace(header) == "" {
		return nil, false, nil
	}
	if err != nil && err != io.EOF {
		return nil, false, err
	}
	header = strings.TrimRight(header, "\r\n")
	if header == "" {
		return nil, false, nil
	}

	fields := strings.Fields(header)
	if len(fields) != 7 || fields[0] != "===" {
		return nil, false, fmt.Errorf("malformed record header %q", header)
	}

	stateN, e1 := strconv.Atoi(fields[1])
	atime, e2 := strconv.ParseInt(fields[2], 10, 64)
	addr := fields[3]
	length, e3 := strconv.Atoi(fields[4])
	msToSC, e4 := strconv.Atoi(fields[5])
	needRepack, e5 := strconv.Atoi(fields[6])
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil || length < 0 {
		return nil, false, fmt.Errorf("malformed record header %q", header)
	}

	raw := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, false, fmt.Errorf("short record body: %w", err)
		}
	}

	// The body is followed by a newline and a blank line.
	for i := 0; i < 2; i++ {
		b, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if b != '\n' {
			return nil, false, fmt.Errorf("expected newline after record body, got %q", b)
		}
	}

	direction := mqueue.DirectionInbound
	if msToSC != 0 {
		direction = mqueue.DirectionOutbound
	}

	return &Record{
		State:          mqueue.State(stateN),
		NextActionTime: time.Unix(atime, 0),
		SourceAddr:     addr,
		RawText:        raw,
		Direction:      direction,
		NeedRepack:     needRepack != 0,
	}, true, nil
}
