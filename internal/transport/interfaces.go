package transport

import (
	"context"
	"net"
)

// Transport is the wire adapter contract: a blocking receive and a
// best-effort send, plus an address formatter persistence uses to record
// where a queued entry came from.
type Transport interface {
	// GetNextDatagram blocks until a datagram arrives, ctx is canceled, or
	// Stop is called. Returns the raw bytes and the address it came from.
	GetNextDatagram(ctx context.Context) (data []byte, from net.Addr, err error)
	// SendDatagram sends data to dest. No retransmission semantics; that's
	// the state machine's job.
	SendDatagram(data []byte, dest net.Addr) error
	// FormatAddr renders an address as "host:port" for logging and
	// persistence.
	FormatAddr(addr net.Addr) string
	Stop() error
}
