// Package shortcode dispatches a MESSAGE whose destination username is a
// registered short code to an in-process handler, instead of routing it
// on toward a handset. Handlers are opaque to the engine: they see only
// a Context bundling the collaborators they're allowed to touch, never
// package-level globals.
package shortcode

import (
	"context"

	"github.com/zurustar/smqueued/internal/config"
	"github.com/zurustar/smqueued/internal/directory"
	"github.com/zurustar/smqueued/internal/logging"
)

// Directive is the handler's verdict, driving the engine's next state
// transition for the entry that triggered the short code.
type Directive int

const (
	DirectiveReply Directive = iota
	DirectiveDone
	DirectiveInternalError
	DirectiveRetryAfterDelay
	DirectiveAwaitRegister
	DirectiveRegister
	DirectiveTreatAsOrdinary
	DirectiveRestartProcessing
	DirectiveExec
	DirectiveQuit
)

func (d Directive) String() string {
	switch d {
	case DirectiveReply:
		return "REPLY"
	case DirectiveDone:
		return "DONE"
	case DirectiveInternalError:
		return "INTERNAL_ERROR"
	case DirectiveRetryAfterDelay:
		return "RETRY_AFTER_DELAY"
	case DirectiveAwaitRegister:
		return "AWAIT_REGISTER"
	case DirectiveRegister:
		return "REGISTER"
	case DirectiveTreatAsOrdinary:
		return "TREAT_AS_ORDINARY"
	case DirectiveRestartProcessing:
		return "RESTART_PROCESSING"
	case DirectiveExec:
		return "EXEC"
	case DirectiveQuit:
		return "QUIT"
	default:
		return "UNKNOWN_DIRECTIVE"
	}
}

// Result is what a handler returns: a directive plus, for REPLY, the text
// to send back, and, for a 101-style registration chain, the phone number
// extracted from the body.
type Result struct {
	Directive Directive
	ReplyText string
	Phone     string // set by AWAIT_REGISTER/REGISTER to name the number being registered
}

// Context bundles a handler's collaborators. No short-code handler may
// reach for a package-level global; everything it needs arrives here.
type Context struct {
	Directory directory.Client
	Config    *config.Config
	Logger    logging.Logger
}

// Handler processes a MESSAGE addressed to a short code.
type Handler func(ctx context.Context, sc Context, fromIMSI, body string, params map[string]string) Result

// Table maps a short-code destination username to its handler, and is
// constant after init.
type Table struct {
	handlers map[string]Handler
}

// NewTable creates an empty dispatch table.
func NewTable() *Table {
	return &Table{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for code.
func (t *Table) Register(code string, h Handler) {
	t.handlers[code] = h
}

// Lookup reports whether code is a registered short code, and its handler.
func (t *Table) Lookup(code string) (Handler, bool) {
	h, ok := t.handlers[code]
	return h, ok
}

// Dispatch invokes the handler registered for code. The engine does not
// use it; it calls Lookup and invokes the handler itself.
func (t *Table) Dispatch(ctx context.Context, sc Context, code, fromIMSI, body string, params map[string]string) (Result, bool) {
	h, ok := t.handlers[code]
	if !ok {
		return Result{}, false
	}
	return h(ctx, sc, fromIMSI, body, params), true
}

// NewDefaultTable builds the table with the built-in handlers: a
// directory-assistance short code and a registration short code.
func NewDefaultTable(cfg *config.Config) *Table {
	t := NewTable()
	t.Register(cfg.ShortCode.DirectoryCode, DirectoryAssistanceHandler)
	t.Register(cfg.ShortCode.RegisterCode, RegisterHandler)
	return t
}
