package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zurustar/smqueued/internal/logging"
	"github.com/zurustar/smqueued/internal/mqueue"
	"github.com/zurustar/smqueued/internal/sipmsg"
	"github.com/zurustar/smqueued/internal/sipparse"
)

// originateReply synthesizes a new MESSAGE from a short code back to the
// sender's IMSI and enqueues it at REQUEST_DEST_SIPURL; the recipient is
// already an IMSI, so destination resolution can be skipped.
func (w *Worker) originateReply(fromCode, toIMSI, text string, now time.Time) {
	toURI := sipparse.BuildURI("sip", "IMSI"+toIMSI, w.Config.Asterisk.Address)
	msg := w.newOriginatedMessage(fromCode, toURI, text)
	entry := mqueue.NewFromParsed(msg)
	entry.QTag, entry.QTagHash = msg.QTag, msg.QTagHash
	w.Queue.Insert(entry, mqueue.RequestDestSIPURL, now)
}

// bounce creates an automated reply from the configured bounce short code
// explaining why delivery failed, unless the failing message's sender IS
// the bounce short code, in which case it is dropped to prevent a bounce
// loop.
func (w *Worker) bounce(e *mqueue.Entry, msg *sipmsg.Message, text string, now time.Time) {
	_, uri, _ := sipparse.ParseAddress(msg.GetHeader(sipmsg.HeaderFrom))
	_, _, senderUser, ok := sipparse.ParseURI(uri)
	if !ok {
		w.Queue.SetState(e, mqueue.Delete, now)
		return
	}
	if senderUser == w.Config.Bounce.Code {
		if w.Logger != nil {
			w.Logger.Debug("suppressing bounce to bounce short code", logging.QTagField(e.QTag))
		}
		w.Queue.SetState(e, mqueue.Delete, now)
		return
	}

	toURI := sipparse.BuildURI("sip", senderUser, w.Config.Asterisk.Address)
	bounceMsg := w.newOriginatedMessage(w.Config.Bounce.Code, toURI, text)
	entry := mqueue.NewFromParsed(bounceMsg)
	entry.QTag, entry.QTagHash = bounceMsg.QTag, bounceMsg.QTagHash

	initial := mqueue.RequestDestIMSI
	if strings.HasPrefix(strings.ToUpper(senderUser), "IMSI") {
		initial = mqueue.RequestDestSIPURL
	}
	w.Queue.Insert(entry, initial, now)

	w.Queue.SetState(e, mqueue.Delete, now)
}

// newOriginatedMessage builds a fresh MESSAGE request from fromCode to
// toURI carrying text, with a freshly minted Call-ID and From-tag, the
// common construction every self-originated message (bounce or
// short-code reply) shares.
func (w *Worker) newOriginatedMessage(fromCode, toURI, text string) *sipmsg.Message {
	msg := sipmsg.NewRequest(sipmsg.MethodMESSAGE, toURI)
	tag := uuid.NewString()
	msg.SetHeader(sipmsg.HeaderFrom, sipparse.FormatAddress("", sipparse.BuildURI("sip", fromCode, w.OwnAddr), tag))
	msg.SetHeader(sipmsg.HeaderTo, sipparse.FormatAddress("", toURI, ""))
	callNum, _ := sipparse.NewCallNumber()
	msg.SetHeader(sipmsg.HeaderCallID, callNum+"@"+hostOnly(w.OwnAddr))
	msg.SetHeader(sipmsg.HeaderCSeq, "1 MESSAGE")
	msg.AddHeader(sipmsg.HeaderVia, viaFor(w.OwnAddr))
	msg.SetHeader(sipmsg.HeaderContentType, "text/plain")
	msg.Body = []byte(text)
	msg.SetHeader(sipmsg.HeaderContentLength, fmt.Sprintf("%d", len(msg.Body)))
	msg.QTag, msg.QTagHash = sipparse.ComputeQTag(msg)
	return msg
}
