package sipmsg

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// SIP Methods relevant to a store-and-forward MESSAGE queue.
const (
	MethodMESSAGE  = "MESSAGE"
	MethodACK      = "ACK"
	MethodREGISTER = "REGISTER"
	MethodOPTIONS  = "OPTIONS"
	MethodINFO     = "INFO"
)

// SIP Response Codes
const (
	// 1xx Provisional Responses
	StatusTrying               = 100
	StatusRinging              = 180
	StatusCallIsBeingForwarded = 181
	StatusQueued               = 182
	StatusSessionProgress      = 183

	// 2xx Success Responses
	StatusOK = 200

	// 3xx Redirection Responses
	StatusMultipleChoices    = 300
	StatusMovedPermanently   = 301
	StatusMovedTemporarily   = 302
	StatusUseProxy           = 305
	StatusAlternativeService = 380

	// 4xx Client Error Responses
	StatusBadRequest                  = 400
	StatusUnauthorized                = 401
	StatusPaymentRequired             = 402
	StatusForbidden                   = 403
	StatusNotFound                    = 404
	StatusMethodNotAllowed            = 405
	StatusNotAcceptable               = 406
	StatusProxyAuthenticationRequired = 407
	StatusRequestTimeout              = 408
	StatusGone                        = 410
	StatusRequestEntityTooLarge       = 413
	StatusRequestURITooLong           = 414
	StatusUnsupportedMediaType        = 415
	StatusUnsupportedURIScheme        = 416
	StatusBadExtension                = 420
	StatusExtensionRequired           = 421
	StatusIntervalTooBrief            = 423
	StatusTemporarilyUnavailable      = 480
	StatusCallTransactionDoesNotExist = 481
	StatusLoopDetected                = 482
	StatusTooManyHops                 = 483
	StatusAddressIncomplete           = 484
	StatusAmbiguous                   = 485
	StatusBusyHere                    = 486
	StatusRequestTerminated           = 487
	StatusNotAcceptableHere           = 488
	StatusRequestPending              = 491
	StatusUndecipherable              = 493

	// 5xx Server Error Responses
	StatusServerInternalError = 500
	StatusNotImplemented      = 501
	StatusBadGateway          = 502
	StatusServiceUnavailable  = 503
	StatusServerTimeout       = 504
	StatusVersionNotSupported = 505
	StatusMessageTooLarge     = 513

	// 6xx Global Failure Responses
	StatusBusyEverywhere       = 600
	StatusDecline              = 603
	StatusDoesNotExistAnywhere = 604
	StatusNotAcceptableGlobal  = 606
)

// SIPVersion is the only protocol version smqueued speaks.
const SIPVersion = "SIP/2.0"

// Common SIP Headers
const (
	HeaderVia           = "Via"
	HeaderFrom          = "From"
	HeaderTo            = "To"
	HeaderCallID        = "Call-ID"
	HeaderCSeq          = "CSeq"
	HeaderMaxForwards   = "Max-Forwards"
	HeaderContact       = "Contact"
	HeaderExpires       = "Expires"
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderUserAgent     = "User-Agent"
	HeaderServer        = "Server"
	HeaderAllow         = "Allow"
	HeaderAccept        = "Accept"
	HeaderSupported     = "Supported"
	HeaderMimeVersion   = "MIME-Version"
)

// Message represents a complete SIP message plus the out-of-band metadata
// smqueued's queue core attaches to it while it sits in the queue: the
// correlation tag, the relay flag, and the wake-up tag used by REGISTER
// chaining.
type Message struct {
	StartLine StartLine
	Headers   map[string][]string
	Body      []byte

	Transport   string
	Source      net.Addr
	Destination net.Addr

	// QTag correlates a queued request with the in-flight response that
	// answers it. Computed from CSeq number and From-tag (see sipparse.ComputeQTag).
	QTag string
	// QTagHash is a short, collision-tolerant hash of QTag used for quick
	// lookups in the priority queue's index.
	QTagHash uint32
	// LinkTag, when set, names the qtag of the registration-chain entry
	// that a 2xx answer to this message wakes up.
	LinkTag string
	// FromRelay is true when this message arrived from the configured
	// global relay (SIP.GlobalRelay) rather than from the BTS side.
	FromRelay bool
}

// StartLine interface for request and status lines
type StartLine interface {
	String() string
	IsRequest() bool
}

// RequestLine represents a SIP request line
type RequestLine struct {
	Method     string
	RequestURI string
	Version    string
}

func (r *RequestLine) String() string {
	return r.Method + " " + r.RequestURI + " " + r.Version
}

func (r *RequestLine) IsRequest() bool {
	return true
}

// StatusLine represents a SIP status line
type StatusLine struct {
	Version      string
	StatusCode   int
	ReasonPhrase string
}

func (s *StatusLine) String() string {
	return s.Version + " " + strconv.Itoa(s.StatusCode) + " " + s.ReasonPhrase
}

func (s *StatusLine) IsRequest() bool {
	return false
}

// Header represents a SIP header with name and values
type Header struct {
	Name   string
	Values []string
}

func (h *Header) String() string {
	return h.Name + ": " + strings.Join(h.Values, ",")
}

// New creates an empty SIP message.
func New() *Message {
	return &Message{
		Headers: make(map[string][]string),
	}
}

// NewRequest creates a new SIP request message.
func NewRequest(method, requestURI string) *Message {
	msg := New()
	msg.StartLine = &RequestLine{
		Method:     method,
		RequestURI: requestURI,
		Version:    SIPVersion,
	}
	return msg
}

// NewResponse creates a new SIP response message.
func NewResponse(statusCode int, reasonPhrase string) *Message {
	msg := New()
	msg.StartLine = &StatusLine{
		Version:      SIPVersion,
		StatusCode:   statusCode,
		ReasonPhrase: reasonPhrase,
	}
	return msg
}

func (m *Message) AddHeader(name, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string][]string)
	}
	m.Headers[name] = append(m.Headers[name], value)
}

func (m *Message) SetHeader(name, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string][]string)
	}
	m.Headers[name] = []string{value}
}

func (m *Message) GetHeader(name string) string {
	if values, exists := m.Headers[name]; exists && len(values) > 0 {
		return values[0]
	}
	return ""
}

func (m *Message) GetHeaders(name string) []string {
	if values, exists := m.Headers[name]; exists {
		return values
	}
	return nil
}

func (m *Message) HasHeader(name string) bool {
	_, exists := m.Headers[name]
	return exists
}

func (m *Message) RemoveHeader(name string) {
	delete(m.Headers, name)
}

func (m *Message) IsRequest() bool {
	return m.StartLine != nil && m.StartLine.IsRequest()
}

func (m *Message) IsResponse() bool {
	return m.StartLine != nil && !m.StartLine.IsRequest()
}

func (m *Message) GetMethod() string {
	if req, ok := m.StartLine.(*RequestLine); ok {
		return req.Method
	}
	return ""
}

func (m *Message) GetStatusCode() int {
	if resp, ok := m.StartLine.(*StatusLine); ok {
		return resp.StatusCode
	}
	return 0
}

func (m *Message) GetReasonPhrase() string {
	if resp, ok := m.StartLine.(*StatusLine); ok {
		return resp.ReasonPhrase
	}
	return ""
}

func (m *Message) GetRequestURI() string {
	if req, ok := m.StartLine.(*RequestLine); ok {
		return req.RequestURI
	}
	return ""
}

// Clone creates a deep copy of the message, including its queue metadata.
// The responder and engine packages do not use it; they build outgoing
// messages with NewResponse and NewRequest.
func (m *Message) Clone() *Message {
	clone := &Message{
		Headers:     make(map[string][]string),
		Body:        make([]byte, len(m.Body)),
		Transport:   m.Transport,
		Source:      m.Source,
		Destination: m.Destination,
		QTag:        m.QTag,
		QTagHash:    m.QTagHash,
		LinkTag:     m.LinkTag,
		FromRelay:   m.FromRelay,
	}

	copy(clone.Body, m.Body)

	for name, values := range m.Headers {
		clone.Headers[name] = make([]string, len(values))
		copy(clone.Headers[name], values)
	}

	if req, ok := m.StartLine.(*RequestLine); ok {
		clone.StartLine = &RequestLine{Method: req.Method, RequestURI: req.RequestURI, Version: req.Version}
	} else if resp, ok := m.StartLine.(*StatusLine); ok {
		clone.StartLine = &StatusLine{Version: resp.Version, StatusCode: resp.StatusCode, ReasonPhrase: resp.ReasonPhrase}
	}

	return clone
}

// ReasonPhraseForCode returns the standard reason phrase for a status code.
func ReasonPhraseForCode(code int) string {
	switch code {
	case StatusTrying:
		return "Trying"
	case StatusRinging:
		return "Ringing"
	case StatusCallIsBeingForwarded:
		return "Call Is Being Forwarded"
	case StatusQueued:
		return "Queued"
	case StatusSessionProgress:
		return "Session Progress"
	case StatusOK:
		return "OK"
	case StatusMultipleChoices:
		return "Multiple Choices"
	case StatusMovedPermanently:
		return "Moved Permanently"
	case StatusMovedTemporarily:
		return "Moved Temporarily"
	case StatusUseProxy:
		return "Use Proxy"
	case StatusAlternativeService:
		return "Alternative Service"
	case StatusBadRequest:
		return "Bad Request"
	case StatusUnauthorized:
		return "Unauthorized"
	case StatusPaymentRequired:
		return "Payment Required"
	case StatusForbidden:
		return "Forbidden"
	case StatusNotFound:
		return "Not Found"
	case StatusMethodNotAllowed:
		return "Method Not Allowed"
	case StatusNotAcceptable:
		return "Not Acceptable"
	case StatusProxyAuthenticationRequired:
		return "Proxy Authentication Required"
	case StatusRequestTimeout:
		return "Request Timeout"
	case StatusGone:
		return "Gone"
	case StatusRequestEntityTooLarge:
		return "Request Entity Too Large"
	case StatusRequestURITooLong:
		return "Request-URI Too Long"
	case StatusUnsupportedMediaType:
		return "Unsupported Media Type"
	case StatusUnsupportedURIScheme:
		return "Unsupported URI Scheme"
	case StatusBadExtension:
		return "Bad Extension"
	case StatusExtensionRequired:
		return "Extension Required"
	case StatusIntervalTooBrief:
		return "Interval Too Brief"
	case StatusTemporarilyUnavailable:
		return "Temporarily Unavailable"
	case StatusCallTransactionDoesNotExist:
		return "Call/Transaction Does Not Exist"
	case StatusLoopDetected:
		return "Loop Detected"
	case StatusTooManyHops:
		return "Too Many Hops"
	case StatusAddressIncomplete:
		return "Address Incomplete"
	case StatusAmbiguous:
		return "Ambiguous"
	case StatusBusyHere:
		return "Busy Here"
	case StatusRequestTerminated:
		return "Request Terminated"
	case StatusNotAcceptableHere:
		return "Not Acceptable Here"
	case StatusRequestPending:
		return "Request Pending"
	case StatusUndecipherable:
		return "Undecipherable"
	case StatusServerInternalError:
		return "Server Internal Error"
	case StatusNotImplemented:
		return "Not Implemented"
	case StatusBadGateway:
		return "Bad Gateway"
	case StatusServiceUnavailable:
		return "Service Unavailable"
	case StatusServerTimeout:
		return "Server Time-out"
	case StatusVersionNotSupported:
		return "Version Not Supported"
	case StatusMessageTooLarge:
		return "Message Too Large"
	case StatusBusyEverywhere:
		return "Busy Everywhere"
	case StatusDecline:
		return "Decline"
	case StatusDoesNotExistAnywhere:
		return "Does Not Exist Anywhere"
	case StatusNotAcceptableGlobal:
		return "Not Acceptable"
	default:
		return fmt.Sprintf("Unknown Status Code %d", code)
	}
}

// IsValidMethod checks if a method is one smqueued understands.
func IsValidMethod(method string) bool {
	switch method {
	case MethodMESSAGE, MethodACK, MethodREGISTER, MethodOPTIONS, MethodINFO:
		return true
	default:
		return false
	}
}

// IsValidStatusCode checks if a status code is in the valid SIP range.
func IsValidStatusCode(code int) bool {
	return code >= 100 && code <= 699
}
