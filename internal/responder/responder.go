// Package responder synthesizes the SIP acknowledgement smqueued sends
// back to whoever originated a validated request, by cloning the
// request's identifying headers and patching in a status line.
package responder

import (
	"github.com/zurustar/smqueued/internal/sipmsg"
)

// reasonPhrases is the fixed reason-phrase table, including "200 Okay"
// and "202 Queued", which deployed peers expect verbatim in place of the
// RFC phrases.
var reasonPhrases = map[int]string{
	100: "Trying",
	200: "Okay",
	202: "Queued",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	413: "Request Entity Too Large",
	415: "Unsupported Media Type",
	416: "Unsupported URI Scheme",
	480: "Temporarily Unavailable",
	484: "Address Incomplete",
}

// ReasonFor returns the fixed reason phrase for status, falling back to
// the general SIP table for anything outside the explicit list.
func ReasonFor(status int) string {
	if r, ok := reasonPhrases[status]; ok {
		return r
	}
	return sipmsg.ReasonPhraseForCode(status)
}

// Ack synthesizes a SIP response to req: To/From/CSeq/Call-ID/Via are
// clones of the request's, status/reason are set from the fixed table
// (or the caller's reason if non-empty), and no fresh Via is appended
// (RFC 3261 8.2.6.2; smqueued is the transaction's last hop, not a
// forwarding proxy). 405 stamps Allow: MESSAGE and 415 stamps the
// supported-content-types Accept header, matching what the validator
// already set on req when it rejected it.
func Ack(req *sipmsg.Message, status int, reason string) *sipmsg.Message {
	if reason == "" {
		reason = ReasonFor(status)
	}
	resp := sipmsg.NewResponse(status, reason)

	for _, via := range req.GetHeaders(sipmsg.HeaderVia) {
		resp.AddHeader(sipmsg.HeaderVia, via)
	}
	copyHeader(req, resp, sipmsg.HeaderFrom)
	copyHeader(req, resp, sipmsg.HeaderTo)
	copyHeader(req, resp, sipmsg.HeaderCallID)
	copyHeader(req, resp, sipmsg.HeaderCSeq)

	if status == sipmsg.StatusMethodNotAllowed {
		if allow := req.GetHeader(sipmsg.HeaderAllow); allow != "" {
			resp.SetHeader(sipmsg.HeaderAllow, allow)
		} else {
			resp.SetHeader(sipmsg.HeaderAllow, "MESSAGE")
		}
	}
	if status == sipmsg.StatusUnsupportedMediaType {
		if accept := req.GetHeader(sipmsg.HeaderAccept); accept != "" {
			resp.SetHeader(sipmsg.HeaderAccept, accept)
		} else {
			resp.SetHeader(sipmsg.HeaderAccept, "text/plain, application/vnd.3gpp.sms")
		}
	}

	resp.SetHeader(sipmsg.HeaderContentLength, "0")
	resp.Destination = req.Source
	return resp
}

func copyHeader(req, resp *sipmsg.Message, name string) {
	if v := req.GetHeader(name); v != "" {
		resp.SetHeader(name, v)
	}
}
