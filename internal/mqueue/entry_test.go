package mqueue

import (
	"testing"

	"github.com/zurustar/smqueued/internal/sipmsg"
	"github.com/zurustar/smqueued/internal/sipparse"
)

func TestEntryTextFromParsed(t *testing.T) {
	msg := sipmsg.NewRequest(sipmsg.MethodMESSAGE, "sip:+17074700746@127.0.0.1:5062")
	msg.SetHeader(sipmsg.HeaderCallID, "call1@127.0.0.1")
	e := NewFromParsed(msg)

	p := sipparse.NewParser()
	text, err := e.Text(p)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if len(text) == 0 {
		t.Fatal("expected non-empty serialized text")
	}
}

func TestEntryParsedFromText(t *testing.T) {
	raw := []byte("MESSAGE sip:+17074700746@127.0.0.1:5062 SIP/2.0\r\nCall-ID: call1@127.0.0.1\r\nContent-Length: 0\r\n\r\n")
	e := NewFromText(raw)

	p := sipparse.NewParser()
	msg, err := e.Parsed(p)
	if err != nil {
		t.Fatalf("Parsed: %v", err)
	}
	if msg.GetMethod() != sipmsg.MethodMESSAGE {
		t.Errorf("expected MESSAGE, got %s", msg.GetMethod())
	}
}

func TestEntrySetParsedInvalidatesText(t *testing.T) {
	raw := []byte("MESSAGE sip:+17074700746@127.0.0.1:5062 SIP/2.0\r\nContent-Length: 0\r\n\r\n")
	e := NewFromText(raw)

	msg := sipmsg.NewRequest(sipmsg.MethodREGISTER, "sip:666410186585295@127.0.0.1:5060")
	e.SetParsed(msg)

	p := sipparse.NewParser()
	text, err := e.Text(p)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if string(text[:8]) != "REGISTER" {
		t.Errorf("expected reserialized text to reflect new parsed message, got %q", text[:8])
	}
}

func TestEntrySetTextInvalidatesParsed(t *testing.T) {
	msg := sipmsg.NewRequest(sipmsg.MethodMESSAGE, "sip:+17074700746@127.0.0.1:5062")
	e := NewFromParsed(msg)

	raw := []byte("REGISTER sip:666410186585295@127.0.0.1:5060 SIP/2.0\r\nContent-Length: 0\r\n\r\n")
	e.SetText(raw)

	p := sipparse.NewParser()
	parsed, err := e.Parsed(p)
	if err != nil {
		t.Fatalf("Parsed: %v", err)
	}
	if parsed.GetMethod() != sipmsg.MethodREGISTER {
		t.Errorf("expected re-parsed message to reflect new text, got %s", parsed.GetMethod())
	}
}
