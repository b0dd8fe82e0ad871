package sipparse

import (
	"strings"
	"testing"

	"github.com/zurustar/smqueued/internal/sipmsg"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseMessageRequest(t *testing.T) {
	raw := crlf(`MESSAGE sip:+17074700746@127.0.0.1:5062 SIP/2.0
Via: SIP/2.0/UDP 127.0.0.1:5063;branch=z9hG4bK776asdhds
Max-Forwards: 70
To: <sip:+17074700746@127.0.0.1:5062>
From: <sip:+17074700741@127.0.0.1:5063>;tag=1928301774
Call-ID: a84b4c76e66710@127.0.0.1
CSeq: 1 MESSAGE
Content-Type: text/plain
Content-Length: 5

hello`)

	parser := NewParser()
	msg, err := parser.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse MESSAGE request: %v", err)
	}

	if !msg.IsRequest() {
		t.Error("message should be a request")
	}
	if msg.GetMethod() != sipmsg.MethodMESSAGE {
		t.Errorf("expected method MESSAGE, got %s", msg.GetMethod())
	}
	if msg.GetRequestURI() != "sip:+17074700746@127.0.0.1:5062" {
		t.Errorf("unexpected request URI %s", msg.GetRequestURI())
	}
	if msg.GetHeader(sipmsg.HeaderCallID) != "a84b4c76e66710@127.0.0.1" {
		t.Errorf("unexpected Call-ID %s", msg.GetHeader(sipmsg.HeaderCallID))
	}
	if string(msg.Body) != "hello" {
		t.Errorf("expected body 'hello', got %q", msg.Body)
	}
}

func TestParseOKResponse(t *testing.T) {
	raw := crlf(`SIP/2.0 200 OK
Via: SIP/2.0/UDP 127.0.0.1:5063;branch=z9hG4bK776asdhds
To: <sip:+17074700746@127.0.0.1:5062>;tag=a6c85cf
From: <sip:+17074700741@127.0.0.1:5063>;tag=1928301774
Call-ID: a84b4c76e66710@127.0.0.1
CSeq: 1 MESSAGE
Content-Length: 0

`)

	parser := NewParser()
	msg, err := parser.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse 200 OK response: %v", err)
	}

	if !msg.IsResponse() {
		t.Error("message should be a response")
	}
	if msg.GetStatusCode() != sipmsg.StatusOK {
		t.Errorf("expected status code 200, got %d", msg.GetStatusCode())
	}
	if msg.GetReasonPhrase() != "OK" {
		t.Errorf("expected reason phrase OK, got %s", msg.GetReasonPhrase())
	}
}

func TestParseEmptyData(t *testing.T) {
	parser := NewParser()
	if _, err := parser.Parse(nil); err == nil {
		t.Error("expected error for empty data")
	}
}

func TestParseHeaderFolding(t *testing.T) {
	raw := crlf(`MESSAGE sip:+17074700746@127.0.0.1:5062 SIP/2.0
Via: SIP/2.0/UDP 127.0.0.1:5063
 ;branch=z9hG4bK776asdhds
To: <sip:+17074700746@127.0.0.1:5062>
From: <sip:+17074700741@127.0.0.1:5063>;tag=abc
Call-ID: a84b4c76e66710@127.0.0.1
CSeq: 1 MESSAGE

`)

	parser := NewParser()
	msg, err := parser.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse folded header: %v", err)
	}
	if !strings.Contains(msg.GetHeader(sipmsg.HeaderVia), "branch=z9hG4bK776asdhds") {
		t.Errorf("folded continuation not appended: %s", msg.GetHeader(sipmsg.HeaderVia))
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	parser := NewParser()

	msg := sipmsg.NewRequest(sipmsg.MethodMESSAGE, "sip:+17074700746@127.0.0.1:5062")
	msg.SetHeader(sipmsg.HeaderVia, "SIP/2.0/UDP 127.0.0.1:5063;branch=z9hG4bK1")
	msg.SetHeader(sipmsg.HeaderTo, "<sip:+17074700746@127.0.0.1:5062>")
	msg.SetHeader(sipmsg.HeaderFrom, "<sip:+17074700741@127.0.0.1:5063>;tag=abc")
	msg.SetHeader(sipmsg.HeaderCallID, "call1@127.0.0.1")
	msg.SetHeader(sipmsg.HeaderCSeq, "1 MESSAGE")
	msg.SetHeader(sipmsg.HeaderContentType, "text/plain")
	msg.Body = []byte("hello")
	msg.SetHeader(sipmsg.HeaderContentLength, "5")

	wire, err := parser.Serialize(msg)
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}

	reparsed, err := parser.Parse(wire)
	if err != nil {
		t.Fatalf("failed to reparse serialized message: %v", err)
	}

	if reparsed.GetMethod() != msg.GetMethod() {
		t.Errorf("method mismatch after round trip: %s", reparsed.GetMethod())
	}
	if string(reparsed.Body) != string(msg.Body) {
		t.Errorf("body mismatch after round trip: %q", reparsed.Body)
	}
	if reparsed.GetHeader(sipmsg.HeaderCallID) != msg.GetHeader(sipmsg.HeaderCallID) {
		t.Errorf("call-id mismatch after round trip")
	}
}
