package mqueue

import "time"

// State is one step of a queued entry's lifecycle. The order here is
// load-bearing: it is the column/row order of the timeouts matrix below,
// and the integer values appear in the save file.
type State int

const (
	NoState State = iota
	Initial
	RequestFromLookup
	AskedForFromLookup
	AwaitingTryDestIMSI
	RequestDestIMSI
	AskedForDestIMSI
	AwaitingTryDestSIPURL
	RequestDestSIPURL
	AskedForDestSIPURL
	AwaitingTryDelivery
	RequestDelivery
	AskedForDelivery
	Delete
	AwaitingRegister
	Register
	AskedToRegister

	stateCount
)

func (s State) String() string {
	switch s {
	case NoState:
		return "NO_STATE"
	case Initial:
		return "INITIAL"
	case RequestFromLookup:
		return "REQUEST_FROM_LOOKUP"
	case AskedForFromLookup:
		return "ASKED_FOR_FROM_LOOKUP"
	case AwaitingTryDestIMSI:
		return "AWAITING_TRY_DEST_IMSI"
	case RequestDestIMSI:
		return "REQUEST_DEST_IMSI"
	case AskedForDestIMSI:
		return "ASKED_FOR_DEST_IMSI"
	case AwaitingTryDestSIPURL:
		return "AWAITING_TRY_DEST_SIPURL"
	case RequestDestSIPURL:
		return "REQUEST_DEST_SIPURL"
	case AskedForDestSIPURL:
		return "ASKED_FOR_DEST_SIPURL"
	case AwaitingTryDelivery:
		return "AWAITING_TRY_DELIVERY"
	case RequestDelivery:
		return "REQUEST_DELIVERY"
	case AskedForDelivery:
		return "ASKED_FOR_DELIVERY"
	case Delete:
		return "DELETE"
	case AwaitingRegister:
		return "AWAITING_REGISTER"
	case Register:
		return "REGISTER"
	case AskedToRegister:
		return "ASKED_TO_REGISTER"
	default:
		return "UNKNOWN_STATE"
	}
}

// ParseState maps a state's String() form back to a State. Persistence
// does not use it: the save file stores the state's integer value.
func ParseState(s string) (State, bool) {
	for st := State(0); st < stateCount; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return NoState, false
}

// Timeouts: how long an entry should sit in its new state before the
// worker revisits it, indexed [oldState][newState]. NT ("no timeout",
// ~50 minutes) means only an external event should move the entry on,
// RT ("retry", 5 minutes) means start over from scratch after an error,
// and the remaining values are explicit per-pair overrides.
const (
	nt = 3000 * time.Second
	rt = 300 * time.Second
	tt = 60 * time.Second
)

var timeoutMatrix = [stateCount][stateCount]time.Duration{
	NoState: {
		nt, 0, 0, nt, nt, 0, nt, nt, 0, nt, nt, 0, nt, 0, nt, nt, nt,
	},
	Initial: {
		0, 0, 0, nt, nt, nt, nt, nt, nt, nt, nt, 0, nt, 0, nt, nt, nt,
	},
	RequestFromLookup: {
		0, nt, 10 * time.Millisecond, 10 * time.Millisecond, nt, 0, nt, nt, nt, nt, nt, nt, nt, 0, time.Millisecond, 0, nt,
	},
	AskedForFromLookup: {
		0, nt, 60 * time.Millisecond, nt, nt, nt, nt, nt, nt, nt, nt, nt, nt, 0, nt, nt, nt,
	},
	AwaitingTryDestIMSI: {
		0, nt, rt, nt, rt, nt, nt, nt, nt, nt, nt, nt, nt, 0, nt, nt, nt,
	},
	RequestDestIMSI: {
		0, nt, rt, nt, rt, nt, nt, nt, 0, nt, nt, nt, nt, 0, nt, nt, nt,
	},
	AskedForDestIMSI: {
		0, nt, rt, nt, rt, nt, nt, nt, nt, nt, nt, nt, nt, 0, nt, nt, nt,
	},
	AwaitingTryDestSIPURL: {
		0, nt, rt, nt, rt, nt, nt, nt, nt, nt, nt, nt, nt, 0, nt, nt, nt,
	},
	RequestDestSIPURL: {
		0, nt, rt, nt, rt, nt, nt, nt, nt, nt, nt, 0, nt, 0, nt, nt, nt,
	},
	AskedForDestSIPURL: {
		0, nt, rt, nt, rt, nt, nt, nt, nt, nt, nt, nt, nt, 0, nt, nt, nt,
	},
	AwaitingTryDelivery: {
		0, nt, rt, nt, rt, nt, nt, nt, nt, nt, 75 * time.Second, 0, nt, 0, nt, nt, nt,
	},
	RequestDelivery: {
		0, nt, rt, nt, rt, nt, nt, nt, 15 * time.Second, nt, 75 * time.Second, 75 * time.Second, 15 * time.Second, 0, nt, nt, nt,
	},
	AskedForDelivery: {
		0, nt, rt, nt, nt, nt, nt, nt, nt, nt, 60 * time.Second, 10 * time.Second, tt, 0, nt, nt, nt,
	},
	Delete: {
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	},
	AwaitingRegister: {
		0, nt, 0, nt, rt, nt, nt, nt, nt, nt, nt, nt, nt, 0, time.Second, 0, nt,
	},
	Register: {
		0, nt, 0, nt, rt, nt, nt, nt, nt, nt, nt, nt, nt, 0, time.Second, time.Second, 2 * time.Second,
	},
	AskedToRegister: {
		0, nt, 0, nt, rt, nt, nt, nt, nt, nt, nt, nt, nt, 0, time.Second, time.Second, 10 * time.Second,
	},
}

// TimeoutFor returns how far in the future an entry moving from old to
// next should be scheduled.
func TimeoutFor(old, next State) time.Duration {
	return timeoutMatrix[old][next]
}
