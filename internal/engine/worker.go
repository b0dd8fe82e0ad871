// Package engine implements the state machine at the heart of smqueued:
// it advances each queued message through sender resolution, destination
// resolution, delivery, and completion, correlating responses back to
// the requests they answer.
package engine

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/zurustar/smqueued/internal/cdr"
	"github.com/zurustar/smqueued/internal/config"
	"github.com/zurustar/smqueued/internal/directory"
	"github.com/zurustar/smqueued/internal/logging"
	"github.com/zurustar/smqueued/internal/mqueue"
	"github.com/zurustar/smqueued/internal/shortcode"
	"github.com/zurustar/smqueued/internal/sipmsg"
	"github.com/zurustar/smqueued/internal/sipparse"
	"github.com/zurustar/smqueued/internal/transport"
)

// Worker advances every queued entry through resolution, delivery, and
// completion. Every collaborator is an explicit field so tests can wire
// fakes; nothing here reaches for package-level state.
type Worker struct {
	Queue      *mqueue.Queue
	Directory  directory.Client
	ShortCodes *shortcode.Table
	Parser     *sipparse.Parser
	Transport  transport.Transport
	CDR        cdr.Sink
	Config     *config.Config
	Logger     logging.Logger

	// OwnAddr is the "host:port" smqueued advertises in the Via headers it
	// appends and in the Call-IDs and From URIs it mints, e.g. when
	// resolving REQUEST_DEST_SIPURL.
	OwnAddr string

	rateMu     sync.Mutex
	lastSendAt time.Time
}

// Tick pops and processes every entry due at or before now, in
// next_action_time order, and returns once none remain due.
func (w *Worker) Tick(now time.Time) {
	for {
		e := w.Queue.PopHeadIfDue(now)
		if e == nil {
			return
		}
		w.process(e, now)
	}
}

// process is the single entry point the writer loop drives one entry
// through per pop. Only one goroutine ever touches an entry, so state
// transitions for a single message are strictly serial.
func (w *Worker) process(e *mqueue.Entry, now time.Time) {
	switch e.State {
	case mqueue.Initial:
		w.handleInitial(e, now)
	case mqueue.RequestFromLookup:
		w.handleRequestFromLookup(e, now)
	case mqueue.AskedForFromLookup:
		w.requeue(e, mqueue.AwaitingTryDestIMSI, now)
	case mqueue.AwaitingTryDestIMSI:
		w.requeue(e, mqueue.RequestDestIMSI, now)
	case mqueue.RequestDestIMSI:
		w.handleRequestDestIMSI(e, now)
	case mqueue.AskedForDestIMSI:
		w.requeue(e, mqueue.AwaitingTryDestSIPURL, now)
	case mqueue.AwaitingTryDestSIPURL:
		w.requeue(e, mqueue.RequestDestSIPURL, now)
	case mqueue.RequestDestSIPURL:
		w.handleRequestDestSIPURL(e, now)
	case mqueue.AskedForDestSIPURL:
		w.requeue(e, mqueue.AwaitingTryDelivery, now)
	case mqueue.AwaitingTryDelivery:
		w.requeue(e, mqueue.RequestDelivery, now)
	case mqueue.RequestDelivery:
		w.handleRequestDelivery(e, now)
	case mqueue.AskedForDelivery:
		w.requeueResend(e, now)
	case mqueue.AwaitingRegister:
		w.handleAwaitingRegister(e, now)
	case mqueue.Register:
		w.handleRegister(e, now)
	case mqueue.AskedToRegister:
		w.requeue(e, mqueue.AwaitingRegister, now)
	case mqueue.Delete:
		// already popped; nothing further to do.
	case mqueue.NoState:
		w.handleNoState(e, now)
	default:
		// An unrecognized state resets the entry to INITIAL and falls
		// straight through into REQUEST_FROM_LOOKUP in the same tick
		// instead of waiting for the next one.
		e.State = mqueue.Initial
		w.handleRequestFromLookup(e, now)
	}
}

// requeue re-inserts e in newState, computing next_action_time from the
// static transition matrix, for the purely timer-driven "awaiting ->
// retry" transitions that carry no other side effect.
func (w *Worker) requeue(e *mqueue.Entry, newState mqueue.State, now time.Time) {
	w.Queue.SetState(e, newState, now)
}

// requeueResend steps an unanswered delivery back to the waiting state,
// honoring the SIP.Timeout.MessageResend override when configured.
func (w *Worker) requeueResend(e *mqueue.Entry, now time.Time) {
	if secs := w.Config.SIP.Timeout.MessageResend; secs > 0 {
		w.Queue.Insert(e, mqueue.AwaitingTryDelivery, now.Add(time.Duration(secs)*time.Second))
		return
	}
	w.Queue.SetState(e, mqueue.AwaitingTryDelivery, now)
}

// handleNoState logs the offending entry and promotes it straight to
// DELETE. NO_STATE is a transient sink, never a resting state.
func (w *Worker) handleNoState(e *mqueue.Entry, now time.Time) {
	if w.Logger != nil {
		w.Logger.Warn("entry reached NO_STATE, dropping", logging.QTagField(e.QTag))
	}
	w.Queue.SetState(e, mqueue.Delete, now)
}

// handleInitial dispatches a freshly arrived entry: short-code handling
// for a MESSAGE to a registered code, ordinary resolution otherwise, or
// response correlation for an answer arriving back.
func (w *Worker) handleInitial(e *mqueue.Entry, now time.Time) {
	msg, err := e.Parsed(w.Parser)
	if err != nil {
		w.handleNoState(e, now)
		return
	}

	if msg.IsResponse() {
		w.correlateResponse(e, msg, now)
		return
	}

	if !msg.IsRequest() {
		w.Queue.SetState(e, mqueue.NoState, now)
		return
	}

	if msg.GetMethod() != sipmsg.MethodMESSAGE {
		w.Queue.SetState(e, mqueue.NoState, now)
		return
	}

	_, _, user, _ := sipparse.ParseURI(msg.GetRequestURI())
	if handler, ok := w.ShortCodes.Lookup(user); ok {
		w.dispatchShortCode(e, msg, handler, user, now)
		return
	}

	// MESSAGE to a non-short-code destination: move to REQUEST_FROM_LOOKUP
	// to begin ordinary resolution.
	w.Queue.SetState(e, mqueue.RequestFromLookup, now)
}

func (w *Worker) dispatchShortCode(e *mqueue.Entry, msg *sipmsg.Message, handler shortcode.Handler, code string, now time.Time) {
	_, _, fromUser, _ := sipparse.ParseURI(fromURI(msg))
	fromIMSI := bareIMSI(fromUser)
	ctx := context.Background()
	sc := shortcode.Context{Directory: w.Directory, Config: w.Config, Logger: w.Logger}
	result := handler(ctx, sc, fromIMSI, string(msg.Body), nil)

	switch result.Directive {
	case shortcode.DirectiveReply:
		w.originateReply(code, fromIMSI, result.ReplyText, now)
		w.Queue.SetState(e, mqueue.Delete, now)
	case shortcode.DirectiveDone:
		w.Queue.SetState(e, mqueue.Delete, now)
	case shortcode.DirectiveInternalError:
		w.Queue.SetState(e, mqueue.NoState, now)
	case shortcode.DirectiveRetryAfterDelay:
		e.Retries++
		w.Queue.SetState(e, mqueue.RequestFromLookup, now)
	case shortcode.DirectiveAwaitRegister:
		w.Queue.SetState(e, mqueue.AwaitingRegister, now)
	case shortcode.DirectiveRegister:
		w.handleRegister(e, now)
	case shortcode.DirectiveTreatAsOrdinary:
		w.handleRequestFromLookup(e, now)
	case shortcode.DirectiveRestartProcessing:
		w.Queue.SetState(e, mqueue.Initial, now)
	case shortcode.DirectiveExec, shortcode.DirectiveQuit:
		// The request is logged and the entry deleted; no stop or re-exec
		// of the controller takes place.
		if w.Logger != nil {
			w.Logger.Warn("short code requested controller stop", logging.StringField("directive", result.Directive.String()))
		}
		w.Queue.SetState(e, mqueue.Delete, now)
	default:
		w.Queue.SetState(e, mqueue.Delete, now)
	}
}

// handleRequestFromLookup resolves the sender's identity, appends our
// Via, and moves on toward resolving the destination.
func (w *Worker) handleRequestFromLookup(e *mqueue.Entry, now time.Time) {
	msg, err := e.Parsed(w.Parser)
	if err != nil {
		w.handleNoState(e, now)
		return
	}

	msg.AddHeader(sipmsg.HeaderVia, viaFor(w.OwnAddr))

	_, uri, tag := sipparse.ParseAddress(msg.GetHeader(sipmsg.HeaderFrom))
	scheme, host, user, ok := sipparse.ParseURI(uri)
	if !ok {
		w.handleNoState(e, now)
		return
	}

	if looksLikePhone(user) {
		e.SetParsed(msg)
		w.Queue.SetState(e, mqueue.RequestDestIMSI, now)
		return
	}

	imsi := bareIMSI(user)
	if sipparse.IMSILooksValid(imsi) {
		if phone, found, derr := w.Directory.IMSIToPhone(context.Background(), imsi); derr == nil && found {
			// The display name keeps the original IMSI-form username so
			// accounting (the CDR line) still identifies the handset.
			newURI := sipparse.BuildURI(scheme, phone, host)
			msg.SetHeader(sipmsg.HeaderFrom, sipparse.FormatAddress(user, newURI, tag))
		}
	}
	e.SetParsed(msg)
	w.Queue.SetState(e, mqueue.RequestDestIMSI, now)
}

// handleRequestDestIMSI resolves the Request-URI's username to a
// destination IMSI, or routes to the global relay, or bounces.
func (w *Worker) handleRequestDestIMSI(e *mqueue.Entry, now time.Time) {
	msg, err := e.Parsed(w.Parser)
	if err != nil {
		w.handleNoState(e, now)
		return
	}

	scheme, host, user, ok := sipparse.ParseURI(msg.GetRequestURI())
	if !ok {
		w.handleNoState(e, now)
		return
	}

	if !looksLikePhone(user) {
		// Already an IMSI (or short code fallthrough) destination.
		e.SetParsed(msg)
		w.Queue.SetState(e, mqueue.RequestDestSIPURL, now)
		return
	}

	imsi, found, derr := w.Directory.PhoneToIMSI(context.Background(), user)
	if derr == nil && found {
		// Prefixed "IMSI" so handleRequestDestSIPURL's looksLikePhone
		// check (which only sees a bare digit string as still-a-phone)
		// recognizes this destination as already resolved.
		msg.StartLine = &sipmsg.RequestLine{
			Method:     msg.GetMethod(),
			RequestURI: sipparse.BuildURI(scheme, "IMSI"+imsi, host),
			Version:    sipmsg.SIPVersion,
		}
		e.SetParsed(msg)
		w.Queue.SetState(e, mqueue.RequestDestSIPURL, now)
		return
	}

	if w.Config.SIP.GlobalRelay.IP != "" {
		w.routeToRelay(e, msg, now)
		return
	}

	w.bounce(e, msg, w.Config.Bounce.NotRegistered, now)
}

// routeToRelay rewrites the sender's phone to its global form and
// transcodes content-type to the relay's preference, letting the next
// state route the message to the relay's host:port.
func (w *Worker) routeToRelay(e *mqueue.Entry, msg *sipmsg.Message, now time.Time) {
	display, uri, tag := sipparse.ParseAddress(msg.GetHeader(sipmsg.HeaderFrom))
	scheme, host, user, ok := sipparse.ParseURI(uri)
	if ok {
		globalUser := toGlobalForm(user)
		msg.SetHeader(sipmsg.HeaderFrom, sipparse.FormatAddress(display, sipparse.BuildURI(scheme, globalUser, host), tag))
	}
	if ct := w.Config.SIP.GlobalRelay.ContentType; ct != "" {
		e.NeedRepack = e.ContentType != ct
		e.ContentType = ct
		msg.SetHeader(sipmsg.HeaderContentType, ct)
	}
	e.SetParsed(msg)
	w.Queue.SetState(e, mqueue.RequestDestSIPURL, now)
}

// toGlobalForm renders a local number in the "global" (E.164-ish) form
// the relay expects, prefixing a bare national number with "+".
func toGlobalForm(user string) string {
	if strings.HasPrefix(user, "+") {
		return user
	}
	return "+" + user
}

// handleRequestDestSIPURL resolves the destination's current host:port,
// mints a fresh Call-ID, and recomputes qtag before handing off to
// delivery.
func (w *Worker) handleRequestDestSIPURL(e *mqueue.Entry, now time.Time) {
	msg, err := e.Parsed(w.Parser)
	if err != nil {
		w.handleNoState(e, now)
		return
	}

	scheme, _, rawUser, ok := sipparse.ParseURI(msg.GetRequestURI())
	if !ok {
		w.handleNoState(e, now)
		return
	}
	// A resolved destination carries an "IMSI" marker (set by
	// handleRequestDestIMSI) so it isn't mistaken for a still-unresolved
	// phone number here; strip it before using the bare digits.
	user := bareIMSI(rawUser)

	var destAddr string
	if looksLikePhone(rawUser) {
		destAddr = fmt.Sprintf("%s:%d", w.Config.SIP.GlobalRelay.IP, w.Config.SIP.GlobalRelay.Port)
	} else {
		loc, found, derr := w.Directory.IMSIToLocation(context.Background(), user)
		if derr == nil && found {
			destAddr = loc
		} else {
			destAddr = fmt.Sprintf("127.0.0.1:%d", w.Config.Server.BTSPort)
		}
	}

	msg.StartLine = &sipmsg.RequestLine{
		Method:     msg.GetMethod(),
		RequestURI: sipparse.BuildURI(scheme, user, destAddr),
		Version:    sipmsg.SIPVersion,
	}

	callNum, cerr := sipparse.NewCallNumber()
	if cerr != nil {
		w.handleNoState(e, now)
		return
	}
	ownHost := hostOnly(w.OwnAddr)
	msg.SetHeader(sipmsg.HeaderCallID, callNum+"@"+ownHost)

	msg.QTag, msg.QTagHash = sipparse.ComputeQTag(msg)
	e.QTag, e.QTagHash = msg.QTag, msg.QTagHash
	e.SetParsed(msg)
	w.Queue.SetState(e, mqueue.RequestDelivery, now)
}

// handleRequestDelivery enforces the retry bound and the global
// send-spacing limit, then emits the datagram.
func (w *Worker) handleRequestDelivery(e *mqueue.Entry, now time.Time) {
	e.Retries++
	if w.Config.SMS.MaxRetries > 0 && e.Retries > w.Config.SMS.MaxRetries {
		if w.Logger != nil {
			w.Logger.Warn("retry bound exceeded, dropping entry", logging.QTagField(e.QTag), logging.IntField("retries", e.Retries))
		}
		w.Queue.SetState(e, mqueue.Delete, now)
		return
	}

	if secs := w.Config.SIP.Timeout.MessageBounce; secs > 0 && !e.CreatedAt.IsZero() &&
		now.Sub(e.CreatedAt) > time.Duration(secs)*time.Second {
		msg, err := e.Parsed(w.Parser)
		if err != nil || msg.GetMethod() != sipmsg.MethodMESSAGE {
			w.Queue.SetState(e, mqueue.Delete, now)
			return
		}
		w.bounce(e, msg, w.Config.Bounce.NotRegistered, now)
		return
	}

	if w.Config.SMS.RateLimit > 0 {
		limit := time.Duration(w.Config.SMS.RateLimit) * time.Millisecond
		w.rateMu.Lock()
		elapsed := now.Sub(w.lastSendAt)
		ready := elapsed >= limit
		if ready {
			w.lastSendAt = now
		}
		w.rateMu.Unlock()
		if !ready {
			w.Queue.SetState(e, mqueue.RequestDelivery, now.Add(limit-elapsed))
			return
		}
	}

	msg, err := e.Parsed(w.Parser)
	if err != nil {
		w.handleNoState(e, now)
		return
	}
	if e.NeedRepack {
		repackBody(msg, e.ContentType)
		e.NeedRepack = false
	}
	e.SetParsed(msg)

	data, err := e.Text(w.Parser)
	dest := destAddrOf(msg)
	var sendErr error
	if err == nil && dest != nil {
		sendErr = w.Transport.SendDatagram(data, dest)
	} else {
		sendErr = fmt.Errorf("engine: cannot send entry %s: %v", e.QTag, err)
	}
	if sendErr != nil && w.Logger != nil {
		w.Logger.Warn("delivery send failed", logging.QTagField(e.QTag), logging.ErrorField(sendErr))
	}

	// Advances to ASKED_FOR_DELIVERY on both success and failure: a
	// failed send is indistinguishable from a lost datagram, and the
	// retry timer covers both.
	w.Queue.SetState(e, mqueue.AskedForDelivery, now)
}

// handleAwaitingRegister polls the directory for the pending IMSI<->phone
// mapping the registration short code recorded; once it resolves, the
// entry moves on to synthesizing the REGISTER.
func (w *Worker) handleAwaitingRegister(e *mqueue.Entry, now time.Time) {
	msg, err := e.Parsed(w.Parser)
	if err != nil {
		w.handleNoState(e, now)
		return
	}
	_, _, fromUser, _ := sipparse.ParseURI(fromURI(msg))
	if _, found, derr := w.Directory.IMSIToPhone(context.Background(), bareIMSI(fromUser)); derr == nil && found {
		w.Queue.SetState(e, mqueue.Register, now)
		return
	}
	w.Queue.SetState(e, mqueue.AwaitingRegister, now)
}

// handleRegister synthesizes a fresh SIP REGISTER for the now-known
// IMSI, links it back to this shortcode entry, and enqueues it for
// delivery. The Call-ID is saved on the entry so every resend shares it,
// with only the CSeq counting up.
func (w *Worker) handleRegister(e *mqueue.Entry, now time.Time) {
	msg, err := e.Parsed(w.Parser)
	if err != nil {
		w.handleNoState(e, now)
		return
	}
	_, _, fromUser, _ := sipparse.ParseURI(fromURI(msg))
	fromIMSI := "IMSI" + bareIMSI(fromUser)

	if e.RegisterCallID == "" {
		callNum, cerr := sipparse.NewCallNumber()
		if cerr != nil {
			w.handleNoState(e, now)
			return
		}
		e.RegisterCallID = callNum + "@" + hostOnly(w.OwnAddr)
		e.RegisterCSeq = 1
	} else {
		e.RegisterCSeq++
	}

	reg := sipmsg.NewRequest(sipmsg.MethodREGISTER, sipparse.BuildURI("sip", "", w.Config.Asterisk.Address))
	aor := sipparse.BuildURI("sip", fromIMSI, w.Config.Asterisk.Address)
	reg.SetHeader(sipmsg.HeaderFrom, sipparse.FormatAddress("", aor, fmt.Sprintf("reg-%s", fromIMSI)))
	reg.SetHeader(sipmsg.HeaderTo, sipparse.FormatAddress("", aor, ""))
	reg.SetHeader(sipmsg.HeaderCallID, e.RegisterCallID)
	reg.SetHeader(sipmsg.HeaderCSeq, fmt.Sprintf("%d REGISTER", e.RegisterCSeq))
	reg.AddHeader(sipmsg.HeaderVia, viaFor(w.OwnAddr))
	contactAddr := fmt.Sprintf("127.0.0.1:%d", w.Config.Server.BTSPort)
	if e.SourceAddrS != "" {
		contactAddr = e.SourceAddrS
	}
	reg.SetHeader(sipmsg.HeaderContact, sipparse.FormatAddress("", sipparse.BuildURI("sip", fromIMSI, contactAddr), "")+";expires=3600")
	reg.SetHeader(sipmsg.HeaderContentLength, "0")
	reg.LinkTag = e.QTag
	reg.QTag, reg.QTagHash = sipparse.ComputeQTag(reg)

	newEntry := mqueue.NewFromParsed(reg)
	newEntry.LinkTag = e.QTag
	newEntry.QTag, newEntry.QTagHash = reg.QTag, reg.QTagHash
	w.Queue.Insert(newEntry, mqueue.RequestDelivery, now)

	w.Queue.SetState(e, mqueue.AskedToRegister, now)
}

// fromURI extracts the bare URI out of a message's From header.
func fromURI(msg *sipmsg.Message) string {
	_, uri, _ := sipparse.ParseAddress(msg.GetHeader(sipmsg.HeaderFrom))
	return uri
}

// bareIMSI strips an IMSI/imsi username prefix, leaving the bare digits
// the directory keys on.
func bareIMSI(user string) string {
	return strings.TrimPrefix(strings.TrimPrefix(user, "IMSI"), "imsi")
}

// looksLikePhone reports whether user starts with '+' or a digit,
// distinguishing a phone-number username from an IMSI-form one.
func looksLikePhone(user string) bool {
	if user == "" {
		return false
	}
	c := user[0]
	return c == '+' || (c >= '0' && c <= '9')
}

// viaFor builds the Via header value smqueued appends to name itself as a
// hop. The value carries no branch parameter.
func viaFor(ownAddr string) string {
	return "SIP/2.0/UDP " + ownAddr
}

// hostOnly strips a ":port" suffix from a "host:port" string.
func hostOnly(addr string) string {
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// destAddrOf resolves a net.Addr for msg's current Request-URI host:port,
// used as the UDP destination when delivering it.
func destAddrOf(msg *sipmsg.Message) net.Addr {
	_, host, _, ok := sipparse.ParseURI(msg.GetRequestURI())
	if !ok {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp4", host)
	if err != nil {
		return nil
	}
	return addr
}

// repackBody transcodes a body between smqueued's two supported content
// types. Both are plain text on the wire; repacking only needs to update
// the declared content-type and length, not the bytes themselves.
func repackBody(msg *sipmsg.Message, contentType string) {
	msg.SetHeader(sipmsg.HeaderContentType, contentType)
	msg.SetHeader(sipmsg.HeaderContentLength, fmt.Sprintf("%d", len(msg.Body)))
}
