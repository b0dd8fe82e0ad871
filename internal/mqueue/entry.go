package mqueue

import (
	"fmt"
	"net"
	"time"

	"github.com/zurustar/smqueued/internal/sipmsg"
	"github.com/zurustar/smqueued/internal/sipparse"
)

// Entry is one queued message. Per the data model's dual-representation
// invariant, exactly one of the raw bytes or the parsed message is
// authoritative at any moment; Text and Parsed reconcile on demand rather
// than keeping both in lockstep on every mutation.
type Entry struct {
	rawText     []byte
	parsed      *sipmsg.Message
	parsedValid bool
	textValid   bool

	State          State
	NextActionTime time.Time
	// CreatedAt is when the entry first entered the queue, bounding its
	// total time in flight (SIP.Timeout.MessageBounce). Set by the first
	// insert; not persisted, so a restart restarts the clock.
	CreatedAt time.Time

	QTag     string
	QTagHash uint32
	LinkTag  string

	SourceAddr  net.Addr
	SourceAddrS string

	Retries     int
	Direction   Direction
	NeedRepack  bool
	ContentType string
	FromRelay   bool

	// RegisterCallID/RegisterCSeq are the registration chain's own saved
	// Call-ID and CSeq counter: shared across every REGISTER this entry
	// (re)sends rather than minted fresh per resend.
	RegisterCallID string
	RegisterCSeq   int

	// index is the entry's position in the heap; maintained by container/heap.
	index int
}

// Direction records whether an entry arrived from the BTS side or is
// being sent toward it, persisted as the save file's ms_to_sc flag.
type Direction int

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

// NewFromParsed builds an entry whose parsed form is authoritative; Text()
// will serialize lazily the first time it's needed.
func NewFromParsed(msg *sipmsg.Message) *Entry {
	return &Entry{
		parsed:      msg,
		parsedValid: true,
		ContentType: msg.GetHeader(sipmsg.HeaderContentType),
		index:       -1,
	}
}

// NewFromText builds an entry whose raw bytes are authoritative; Parsed()
// will parse lazily the first time it's needed.
func NewFromText(raw []byte) *Entry {
	return &Entry{
		rawText:   append([]byte(nil), raw...),
		textValid: true,
		index:     -1,
	}
}

// Text returns the canonical wire form, reserializing from the parsed
// message if that's the side that's currently authoritative.
func (e *Entry) Text(p *sipparse.Parser) ([]byte, error) {
	if e.textValid {
		return e.rawText, nil
	}
	if !e.parsedValid || e.parsed == nil {
		return nil, fmt.Errorf("mqueue: entry has neither valid text nor parsed form")
	}
	data, err := p.Serialize(e.parsed)
	if err != nil {
		return nil, fmt.Errorf("mqueue: serialize entry: %w", err)
	}
	e.rawText = data
	e.textValid = true
	return e.rawText, nil
}

// Parsed returns the structured view, parsing the raw bytes if that's the
// side that's currently authoritative.
func (e *Entry) Parsed(p *sipparse.Parser) (*sipmsg.Message, error) {
	if e.parsedValid {
		return e.parsed, nil
	}
	if !e.textValid {
		return nil, fmt.Errorf("mqueue: entry has neither valid text nor parsed form")
	}
	msg, err := p.Parse(e.rawText)
	if err != nil {
		return nil, fmt.Errorf("mqueue: parse entry: %w", err)
	}
	e.parsed = msg
	e.parsedValid = true
	return e.parsed, nil
}

// SetParsed installs a new parsed message as authoritative, invalidating
// the raw text until it's regenerated.
func (e *Entry) SetParsed(msg *sipmsg.Message) {
	e.parsed = msg
	e.parsedValid = true
	e.textValid = false
}

// SetText installs new raw bytes as authoritative, invalidating the parsed
// form until it's regenerated.
func (e *Entry) SetText(raw []byte) {
	e.rawText = append([]byte(nil), raw...)
	e.textValid = true
	e.parsedValid = false
}
