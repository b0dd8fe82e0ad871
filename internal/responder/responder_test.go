package responder

import (
	"testing"

	"github.com/zurustar/smqueued/internal/sipmsg"
)

func sampleRequest() *sipmsg.Message {
	req := sipmsg.NewRequest(sipmsg.MethodMESSAGE, "sip:411@127.0.0.1:5063")
	req.AddHeader(sipmsg.HeaderVia, "SIP/2.0/UDP 127.0.0.1:5062;branch=z9hG4bK1")
	req.SetHeader(sipmsg.HeaderFrom, "<sip:IMSI1@127.0.0.1>;tag=abc")
	req.SetHeader(sipmsg.HeaderTo, "<sip:411@127.0.0.1>")
	req.SetHeader(sipmsg.HeaderCallID, "call-1")
	req.SetHeader(sipmsg.HeaderCSeq, "1 MESSAGE")
	return req
}

func TestAckClonesCorrelationHeaders(t *testing.T) {
	req := sampleRequest()
	resp := Ack(req, 100, "")

	if resp.GetHeader(sipmsg.HeaderFrom) != req.GetHeader(sipmsg.HeaderFrom) {
		t.Errorf("From not cloned")
	}
	if resp.GetHeader(sipmsg.HeaderTo) != req.GetHeader(sipmsg.HeaderTo) {
		t.Errorf("To not cloned")
	}
	if resp.GetHeader(sipmsg.HeaderCallID) != req.GetHeader(sipmsg.HeaderCallID) {
		t.Errorf("Call-ID not cloned")
	}
	if resp.GetHeader(sipmsg.HeaderCSeq) != req.GetHeader(sipmsg.HeaderCSeq) {
		t.Errorf("CSeq not cloned")
	}
	if got := resp.GetHeaders(sipmsg.HeaderVia); len(got) != 1 || got[0] != req.GetHeaders(sipmsg.HeaderVia)[0] {
		t.Errorf("Via not cloned verbatim (no fresh Via should be appended): %v", got)
	}
	if resp.GetStatusCode() != 100 || resp.GetReasonPhrase() != "Trying" {
		t.Errorf("expected 100 Trying, got %d %s", resp.GetStatusCode(), resp.GetReasonPhrase())
	}
}

func TestAckFixedReasonPhrases(t *testing.T) {
	req := sampleRequest()
	cases := map[int]string{
		200: "Okay",
		202: "Queued",
		404: "Not Found",
		484: "Address Incomplete",
	}
	for status, want := range cases {
		resp := Ack(req, status, "")
		if resp.GetReasonPhrase() != want {
			t.Errorf("status %d: got reason %q, want %q", status, resp.GetReasonPhrase(), want)
		}
	}
}

func TestAck405SetsAllow(t *testing.T) {
	req := sampleRequest()
	resp := Ack(req, sipmsg.StatusMethodNotAllowed, "")
	if resp.GetHeader(sipmsg.HeaderAllow) != "MESSAGE" {
		t.Errorf("expected default Allow header, got %q", resp.GetHeader(sipmsg.HeaderAllow))
	}
}

func TestAck415SetsAccept(t *testing.T) {
	req := sampleRequest()
	req.SetHeader(sipmsg.HeaderAccept, "text/plain, application/vnd.3gpp.sms")
	resp := Ack(req, sipmsg.StatusUnsupportedMediaType, "")
	if resp.GetHeader(sipmsg.HeaderAccept) != "text/plain, application/vnd.3gpp.sms" {
		t.Errorf("expected Accept header cloned, got %q", resp.GetHeader(sipmsg.HeaderAccept))
	}
}
