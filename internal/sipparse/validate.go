package sipparse

import (
	"crypto/rand"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/zurustar/smqueued/internal/logging"
	"github.com/zurustar/smqueued/internal/sipmsg"
)

// ResolveFunc reports whether a MESSAGE request-URI username (a short code
// or an IMSI) can actually be delivered, used only by the relay
// early-resolution check.
type ResolveFunc func(requestURIUsername string) bool

// ValidateOptions carries the per-call knobs validation needs beyond the
// message itself.
type ValidateOptions struct {
	// AllowEarlyCheck enables the relay early-resolution edge case: a
	// MESSAGE arriving from the configured relay whose destination cannot
	// be resolved is rejected outright with 404 instead of being queued.
	AllowEarlyCheck bool
	// RelayAddr is "host:port" of the configured global relay.
	RelayAddr string
	// RelaxedVerify, when true, treats any Via header (not just the
	// immediate source address) as a potential relay match.
	RelaxedVerify bool
	// LocalHosts is the set of hosts recognized as "us": loopback,
	// configured own address, and any configured secondary address.
	LocalHosts map[string]bool
	// IsDeliverable decides, for the early-resolution check, whether the
	// destination username resolves to a short code or a known IMSI.
	IsDeliverable ResolveFunc
}

var imsiDigits = regexp.MustCompile(`^[0-9]{14,15}$`)

// Validator decides whether a parsed datagram is acceptable, returning 0
// or the SIP status code to reject with. It is nearly a pure function
// over the message: the one piece of state is which non-local hosts it
// has already warned about, so the warning fires once per unrecognized
// host instead of once per datagram.
type Validator struct {
	logger      logging.Logger
	debugTrace  bool
	warnedHosts sync.Map // host string -> struct{}
}

// NewValidator creates a validator. When debugTrace is set (mirrors
// Debug.print_as_we_validate), every accept/reject decision is logged.
func NewValidator(logger logging.Logger, debugTrace bool) *Validator {
	return &Validator{logger: logger, debugTrace: debugTrace}
}

// Validate returns 0 on accept, or the 3-digit SIP status code to reject
// with. On accept it also computes and stores qtag/qtag_hash on msg, and
// sets msg.FromRelay per the early-resolution edge case.
func (v *Validator) Validate(msg *sipmsg.Message, opts ValidateOptions) int {
	code := v.validate(msg, opts)
	if v.debugTrace {
		v.trace(msg, code)
	}
	return code
}

func (v *Validator) validate(msg *sipmsg.Message, opts ValidateOptions) int {
	if msg == nil || msg.StartLine == nil {
		return sipmsg.StatusBadRequest
	}

	if msg.IsResponse() {
		return v.validateResponse(msg)
	}
	return v.validateRequest(msg, opts)
}

func (v *Validator) validateResponse(msg *sipmsg.Message) int {
	status, ok := msg.StartLine.(*sipmsg.StatusLine)
	if !ok || status.StatusCode < 0 || strings.TrimSpace(status.ReasonPhrase) == "" {
		return sipmsg.StatusBadRequest
	}
	if len(msg.Body) != 0 {
		return sipmsg.StatusBadRequest
	}
	if cl := msg.GetHeader(sipmsg.HeaderContentLength); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n != 0 {
			return sipmsg.StatusBadRequest
		}
	}
	if !v.commonHeadersOK(msg) {
		return sipmsg.StatusBadRequest
	}
	msg.QTag, msg.QTagHash = ComputeQTag(msg)
	return 0
}

func (v *Validator) validateRequest(msg *sipmsg.Message, opts ValidateOptions) int {
	req, ok := msg.StartLine.(*sipmsg.RequestLine)
	if !ok || req.Version != sipmsg.SIPVersion {
		return sipmsg.StatusBadRequest
	}

	scheme, host, user, ok := parseSIPURI(req.RequestURI)
	if !ok || scheme != "sip" {
		return sipmsg.StatusUnsupportedURIScheme
	}

	if !v.isLocalHost(host, opts) {
		v.warnOnce(host)
	}

	if req.Method != sipmsg.MethodMESSAGE && req.Method != sipmsg.MethodREGISTER {
		msg.SetHeader(sipmsg.HeaderAllow, "MESSAGE")
		return sipmsg.StatusMethodNotAllowed
	}

	if !v.commonHeadersOK(msg) {
		return sipmsg.StatusBadRequest
	}

	cm, ok := cseqMethod(msg.GetHeader(sipmsg.HeaderCSeq))
	if !ok || cm != req.Method {
		return sipmsg.StatusBadRequest
	}

	if _, _, toUser, ok := parseSIPURI(toURIValue(msg.GetHeader(sipmsg.HeaderTo))); !ok || (req.Method == sipmsg.MethodMESSAGE && toUser == "") {
		return sipmsg.StatusAddressIncomplete
	}

	if mv := msg.GetHeader(sipmsg.HeaderMimeVersion); mv != "" && mv != "1.0" {
		return sipmsg.StatusBadRequest
	}

	if req.Method == sipmsg.MethodMESSAGE {
		if user == "" {
			return sipmsg.StatusAddressIncomplete
		}

		contentType := msg.GetHeader(sipmsg.HeaderContentType)
		if contentType != "text/plain" && contentType != "application/vnd.3gpp.sms" {
			msg.SetHeader(sipmsg.HeaderAccept, "text/plain, application/vnd.3gpp.sms")
			return sipmsg.StatusUnsupportedMediaType
		}

		if cl := msg.GetHeader(sipmsg.HeaderContentLength); cl != "" {
			n, err := strconv.Atoi(cl)
			if err != nil || n < 0 {
				return sipmsg.StatusBadRequest
			}
			if n > maxMessageBodyBytes {
				return sipmsg.StatusRequestEntityTooLarge
			}
		}
		if len(msg.Body) > maxMessageBodyBytes {
			return sipmsg.StatusRequestEntityTooLarge
		}
	}

	fromRelay := false
	if req.Method == sipmsg.MethodMESSAGE && opts.AllowEarlyCheck && opts.RelayAddr != "" {
		fromSource := matchesRelay(msg, opts)
		if fromSource {
			if opts.IsDeliverable != nil && !opts.IsDeliverable(user) {
				return sipmsg.StatusNotFound
			}
			fromRelay = true
		}
	}

	msg.FromRelay = fromRelay
	msg.QTag, msg.QTagHash = ComputeQTag(msg)
	return 0
}

func (v *Validator) commonHeadersOK(msg *sipmsg.Message) bool {
	for _, h := range []string{sipmsg.HeaderCallID, sipmsg.HeaderFrom, sipmsg.HeaderTo, sipmsg.HeaderCSeq} {
		if !msg.HasHeader(h) {
			return false
		}
	}
	if _, _, _, ok := parseSIPURI(fromURIValue(msg.GetHeader(sipmsg.HeaderFrom))); !ok {
		return false
	}
	if scheme, _, _, ok := parseSIPURI(toURIValue(msg.GetHeader(sipmsg.HeaderTo))); !ok || scheme != "sip" {
		return false
	}
	return true
}

func (v *Validator) isLocalHost(host string, opts ValidateOptions) bool {
	h := host
	if idx := strings.IndexByte(h, ':'); idx >= 0 {
		h = h[:idx]
	}
	if h == "127.0.0.1" || h == "localhost" || h == "::1" {
		return true
	}
	if ip := net.ParseIP(h); ip != nil && ip.IsLoopback() {
		return true
	}
	return opts.LocalHosts != nil && opts.LocalHosts[host]
}

func (v *Validator) warnOnce(host string) {
	if _, loaded := v.warnedHosts.LoadOrStore(host, struct{}{}); !loaded && v.logger != nil {
		v.logger.Warn("request-URI host not recognized as local", logging.StringField("host", host))
	}
}

func (v *Validator) trace(msg *sipmsg.Message, code int) {
	if v.logger == nil {
		return
	}
	method := msg.GetMethod()
	if method == "" {
		method = fmt.Sprintf("response %d", msg.GetStatusCode())
	}
	v.logger.Debug("validated datagram", logging.MethodField(method), logging.IntField("result", code))
}

// maxMessageBodyBytes bounds a MESSAGE body (413 Request Entity Too Large
// beyond this); generous for SMS-over-SIP concatenation but still bounded.
const maxMessageBodyBytes = 1600

func cseqMethod(cseq string) (string, bool) {
	parts := strings.Fields(cseq)
	if len(parts) != 2 {
		return "", false
	}
	if _, err := strconv.ParseUint(parts[0], 10, 32); err != nil {
		return "", false
	}
	return parts[1], true
}

// parseSIPURI extracts scheme, host[:port], and username from a bare or
// name-addr-wrapped SIP URI, ignoring any ;params and display name.
func parseSIPURI(raw string) (scheme, host, user string, ok bool) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '<'); i >= 0 {
		if j := strings.IndexByte(s[i:], '>'); j >= 0 {
			s = s[i+1 : i+j]
		}
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return "", "", "", false
	}
	scheme = s[:colon]
	rest := s[colon+1:]

	at := strings.LastIndexByte(rest, '@')
	if at >= 0 {
		user = rest[:at]
		host = rest[at+1:]
	} else {
		host = rest
	}
	if host == "" {
		return "", "", "", false
	}
	return scheme, host, user, true
}

func fromURIValue(header string) string { return header }
func toURIValue(header string) string   { return header }

// fromTag extracts the ;tag= parameter from a From header, or "" if absent.
func fromTag(from string) string {
	parts := strings.Split(from, ";")
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(strings.ToLower(p), "tag=") {
			return p[len("tag="):]
		}
	}
	return ""
}

// ComputeQTag computes the stable correlation tag: the CSeq number
// joined to the From-tag by "--", deliberately excluding Call-ID (a
// resend may mint a fresh one). qtagHash is the first byte of qtag, used
// as a cheap pre-filter before the linear scan in mqueue.Queue.FindByTag.
func ComputeQTag(msg *sipmsg.Message) (qtag string, qtagHash uint32) {
	cseq := msg.GetHeader(sipmsg.HeaderCSeq)
	num := ""
	if parts := strings.Fields(cseq); len(parts) >= 1 {
		num = parts[0]
	}
	tag := fromTag(msg.GetHeader(sipmsg.HeaderFrom))
	qtag = num + "--" + tag
	if len(qtag) > 0 {
		qtagHash = uint32(qtag[0])
	}
	return qtag, qtagHash
}

func matchesRelay(msg *sipmsg.Message, opts ValidateOptions) bool {
	if addr, ok := msg.Source.(*net.UDPAddr); ok && addr.String() == opts.RelayAddr {
		return true
	}
	if !opts.RelaxedVerify {
		return false
	}
	for _, via := range msg.GetHeaders(sipmsg.HeaderVia) {
		if strings.Contains(via, opts.RelayAddr) {
			return true
		}
	}
	return false
}

// IMSILooksValid reports whether s is a bare 14-15 digit IMSI.
func IMSILooksValid(s string) bool {
	return imsiDigits.MatchString(s)
}

// NewCallNumber mints a random hex call number for freshly originated
// requests: REQUEST_DEST_SIPURL minting a new Call-ID, REGISTER minting
// its own.
func NewCallNumber() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", b), nil
}
