package shortcode

import (
	"context"
	"fmt"
	"strings"
)

// DirectoryAssistanceHandler answers a MESSAGE to the directory short
// code with the caller's own registered phone number, or the configured
// canned reply if the directory doesn't know the caller yet.
func DirectoryAssistanceHandler(ctx context.Context, sc Context, fromIMSI, body string, params map[string]string) Result {
	reply := sc.Config.ShortCode.DirectoryReply
	if sc.Directory != nil {
		if phone, found, err := sc.Directory.IMSIToPhone(ctx, fromIMSI); err == nil && found {
			reply = fmt.Sprintf("Your registered number is %s.", phone)
		}
	}
	return Result{Directive: DirectiveReply, ReplyText: reply}
}

// RegisterHandler implements the registration short code: the body
// carries the phone number the sending handset wants associated with its
// IMSI. Once the digit-count bounds are satisfied, it records the
// pending mapping and asks the engine to wait for the directory to
// confirm it before completing the REGISTER chain. When the chain's
// REGISTER is acknowledged the entry is re-dispatched here, the IMSI now
// resolves, and the handset gets the welcome reply.
func RegisterHandler(ctx context.Context, sc Context, fromIMSI, body string, params map[string]string) Result {
	if sc.Directory != nil {
		if _, found, err := sc.Directory.IMSIToPhone(ctx, fromIMSI); err == nil && found {
			return Result{Directive: DirectiveReply, ReplyText: sc.Config.ShortCode.WelcomeReply}
		}
	}

	phone := strings.TrimSpace(body)
	digits := strings.TrimPrefix(phone, "+")
	min, max := sc.Config.ShortCode.RegisterMinDigits, sc.Config.ShortCode.RegisterMaxDigits
	if len(digits) < min || len(digits) > max || !isAllDigits(digits) {
		return Result{Directive: DirectiveInternalError}
	}
	if sc.Directory == nil {
		return Result{Directive: DirectiveInternalError}
	}
	if err := sc.Directory.Register(ctx, fromIMSI, phone, ""); err != nil {
		return Result{Directive: DirectiveInternalError}
	}
	return Result{Directive: DirectiveAwaitRegister, Phone: phone}
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
