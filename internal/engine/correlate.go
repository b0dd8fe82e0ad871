package engine

import (
	"time"

	"github.com/zurustar/smqueued/internal/logging"
	"github.com/zurustar/smqueued/internal/mqueue"
	"github.com/zurustar/smqueued/internal/sipmsg"
	"github.com/zurustar/smqueued/internal/sipparse"
)

// correlateResponse matches a response entry against the queued request
// it answers by qtag, dispatches by status class, and always discards
// the response itself regardless of which branch fires.
func (w *Worker) correlateResponse(respEntry *mqueue.Entry, resp *sipmsg.Message, now time.Time) {
	request := w.Queue.FindByTag(resp.QTag, resp.QTagHash)
	if request == nil {
		if w.Logger != nil {
			w.Logger.Debug("response matched no queued request, dropping", logging.QTagField(resp.QTag))
		}
		return
	}

	status := resp.GetStatusCode()
	switch {
	case status >= 100 && status < 200:
		w.bumpTimeout(request, now)
	case status >= 200 && status < 300:
		w.accept2xx(request, now)
	case status == sipmsg.StatusTemporarilyUnavailable || status == sipmsg.StatusBusyHere:
		w.bumpTimeout(request, now)
	case status >= 400 && status < 500:
		w.handle4xx(request, resp, now)
	case status >= 300 && status < 400, status >= 600 && status < 700:
		w.Queue.SetState(request, mqueue.RequestDestIMSI, now)
	case status >= 500 && status < 600:
		w.bumpTimeout(request, now)
	}
}

// bumpTimeout extends a request's next_action_time by
// SIP.Timeout.ACKedMessageResend (default 60s) without otherwise
// disturbing its state, per the 1xx/480/486/5xx branches.
func (w *Worker) bumpTimeout(request *mqueue.Entry, now time.Time) {
	secs := w.Config.SIP.Timeout.ACKedMessageResend
	if secs <= 0 {
		secs = 60
	}
	w.Queue.Reschedule(request, now.Add(time.Duration(secs)*time.Second))
}

// accept2xx implements the at-most-once 2xx success branch: a REGISTER's
// acceptance wakes its linked shortcode entry back to INITIAL; a
// MESSAGE's acceptance writes one CDR line. Either way the acknowledged
// request is removed from the queue.
func (w *Worker) accept2xx(request *mqueue.Entry, now time.Time) {
	msg, err := request.Parsed(w.Parser)
	if err != nil {
		w.Queue.Remove(request)
		return
	}

	if msg.GetMethod() == sipmsg.MethodREGISTER && request.LinkTag != "" {
		if linked := w.Queue.FindByTag(request.LinkTag, hashOf(request.LinkTag)); linked != nil {
			switch linked.State {
			case mqueue.AwaitingRegister, mqueue.Register, mqueue.AskedToRegister:
				// Due immediately so the shortcode re-dispatches and the
				// welcome reply goes out now, not after the no-timeout
				// interval.
				w.Queue.SetState(linked, mqueue.Initial, now)
				w.Queue.Reschedule(linked, now)
			}
		}
	}

	if msg.GetMethod() == sipmsg.MethodMESSAGE && w.CDR != nil {
		imsi, fromURIVal, _ := sipparse.ParseAddress(msg.GetHeader(sipmsg.HeaderFrom))
		_, _, callerUser, _ := sipparse.ParseURI(fromURIVal)
		_, toURIVal, _ := sipparse.ParseAddress(msg.GetHeader(sipmsg.HeaderTo))
		_, _, calleeUser, _ := sipparse.ParseURI(toURIVal)
		if err := w.CDR.Record(callerUser, imsi, calleeUser, now); err != nil && w.Logger != nil {
			w.Logger.Error("failed to write CDR record", logging.ErrorField(err))
		}
	}

	w.Queue.Remove(request)
}

// handle4xx implements the 4xx branch: 480/486 bump the timeout like a
// provisional response, every other 4xx bounces to the sender.
func (w *Worker) handle4xx(request *mqueue.Entry, resp *sipmsg.Message, now time.Time) {
	status := resp.GetStatusCode()
	if status == sipmsg.StatusTemporarilyUnavailable || status == sipmsg.StatusBusyHere {
		w.bumpTimeout(request, now)
		return
	}
	msg, err := request.Parsed(w.Parser)
	if err != nil {
		w.Queue.SetState(request, mqueue.Delete, now)
		return
	}
	w.bounce(request, msg, w.Config.Bounce.IMSILookupFailed, now)
}

// hashOf computes the same first-byte hash ComputeQTag derives, for
// looking up a tag we already have in hand (a link_tag) without
// recomputing it from message headers.
func hashOf(tag string) uint32 {
	if len(tag) == 0 {
		return 0
	}
	return uint32(tag[0])
}
