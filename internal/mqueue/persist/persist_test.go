package persist

import (
	"bytes"
	"testing"
	"time"

	"github.com/zurustar/smqueued/internal/mqueue"
	"github.com/zurustar/smqueued/internal/sipmsg"
)

func newSavedEntry(qtag, addr string, at time.Time) *mqueue.Entry {
	msg := sipmsg.NewRequest(sipmsg.MethodMESSAGE, "sip:+17074700746@127.0.0.1:5062")
	e := mqueue.NewFromParsed(msg)
	e.QTag = qtag
	e.SourceAddrS = addr
	e.State = mqueue.RequestDelivery
	e.NextActionTime = at
	return e
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	entries := []*mqueue.Entry{
		newSavedEntry("2--b", "127.0.0.1:5062", now.Add(2*time.Second)),
		newSavedEntry("1--a", "127.0.0.1:5063", now.Add(1*time.Second)),
	}

	textOf := func(e *mqueue.Entry) ([]byte, error) {
		return []byte("MESSAGE sip:+17074700746@127.0.0.1:5062 SIP/2.0\r\nContent-Length: 0\r\n\r\n"), nil
	}

	var buf bytes.Buffer
	n, err := Save(&buf, entries, textOf)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 records written, got %d", n)
	}

	records, errCount, err := Load(&buf, func(raw []byte) bool { return len(raw) > 0 })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if errCount != 0 {
		t.Fatalf("expected no errors, got %d", errCount)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].SourceAddr != "127.0.0.1:5062" {
		t.Errorf("expected first record addr 127.0.0.1:5062, got %s", records[0].SourceAddr)
	}
	if records[1].SourceAddr != "127.0.0.1:5063" {
		t.Errorf("expected second record addr 127.0.0.1:5063, got %s", records[1].SourceAddr)
	}
}

func TestLoadCountsInvalidRecordsAsErrors(t *testing.T) {
	now := time.Unix(1700000000, 0)
	entries := []*mqueue.Entry{
		newSavedEntry("1--a", "127.0.0.1:5062", now),
	}
	textOf := func(e *mqueue.Entry) ([]byte, error) {
		return []byte("garbage"), nil
	}

	var buf bytes.Buffer
	if _, err := Save(&buf, entries, textOf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	records, errCount, err := Load(&buf, func(raw []byte) bool { return false })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if errCount != 1 {
		t.Fatalf("expected 1 error, got %d", errCount)
	}
	if len(records) != 0 {
		t.Fatalf("expected 0 valid records, got %d", len(records))
	}
}

func TestLoadEmptyFile(t *testing.T) {
	records, errCount, err := Load(bytes.NewReader(nil), func([]byte) bool { return true })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 0 || errCount != 0 {
		t.Fatalf("expected empty result, got %d records, %d errors", len(records), errCount)
	}
}

func TestLoadMalformedHeaderErrors(t *testing.T) {
	data := []byte("=== not enough fields\n")
	if _, _, err := Load(bytes.NewReader(data), func([]byte) bool { return true }); err == nil {
		t.Fatal("expected error for malformed header")
	}
}

func TestLoadDirectionAndRepackFlags(t *testing.T) {
	data := []byte("=== 11 1700000000 127.0.0.1:5062 5 1 1\nhello\n\n")
	records, errCount, err := Load(bytes.NewReader(data), func([]byte) bool { return true })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if errCount != 0 {
		t.Fatalf("expected no errors, got %d", errCount)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.State != mqueue.RequestDelivery {
		t.Errorf("expected state 11 (RequestDelivery), got %v", rec.State)
	}
	if rec.Direction != mqueue.DirectionOutbound {
		t.Error("expected outbound direction (ms_to_sc=1)")
	}
	if !rec.NeedRepack {
		t.Error("expected need_repack=true")
	}
	if string(rec.RawText) != "hello" {
		t.Errorf("expected raw text 'hello', got %q", rec.RawText)
	}
}
