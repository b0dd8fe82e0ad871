package shortcode

import (
	"context"
	"testing"

	"github.com/zurustar/smqueued/internal/config"
)

type fakeDirectory struct {
	phones map[string]string
	regErr error
}

func (f *fakeDirectory) IMSIToPhone(ctx context.Context, imsi string) (string, bool, error) {
	p, ok := f.phones[imsi]
	return p, ok, nil
}
func (f *fakeDirectory) PhoneToIMSI(ctx context.Context, phone string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeDirectory) IMSIToLocation(ctx context.Context, imsi string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeDirectory) Register(ctx context.Context, imsi, phone, hostport string) error {
	if f.regErr != nil {
		return f.regErr
	}
	if f.phones == nil {
		f.phones = make(map[string]string)
	}
	f.phones[imsi] = phone
	return nil
}

func testConfig() *config.Config {
	c := config.GetDefaultConfig()
	return c
}

func TestDirectoryAssistanceHandler_Known(t *testing.T) {
	dir := &fakeDirectory{phones: map[string]string{"IMSI777100223456161": "+17074700741"}}
	res := DirectoryAssistanceHandler(context.Background(), Context{Directory: dir, Config: testConfig()}, "IMSI777100223456161", "", nil)
	if res.Directive != DirectiveReply {
		t.Fatalf("expected REPLY, got %s", res.Directive)
	}
	if res.ReplyText == "" {
		t.Fatalf("expected non-empty reply text")
	}
}

func TestDirectoryAssistanceHandler_Unknown(t *testing.T) {
	dir := &fakeDirectory{}
	cfg := testConfig()
	res := DirectoryAssistanceHandler(context.Background(), Context{Directory: dir, Config: cfg}, "IMSI000000000000000", "", nil)
	if res.Directive != DirectiveReply {
		t.Fatalf("expected REPLY, got %s", res.Directive)
	}
	if res.ReplyText != cfg.ShortCode.DirectoryReply {
		t.Errorf("expected canned reply, got %q", res.ReplyText)
	}
}

func TestRegisterHandler_Valid(t *testing.T) {
	dir := &fakeDirectory{}
	cfg := testConfig()
	res := RegisterHandler(context.Background(), Context{Directory: dir, Config: cfg}, "IMSI777100223456161", "+15551234567", nil)
	if res.Directive != DirectiveAwaitRegister {
		t.Fatalf("expected AWAIT_REGISTER, got %s", res.Directive)
	}
	if res.Phone != "+15551234567" {
		t.Errorf("expected phone recorded, got %q", res.Phone)
	}
	if dir.phones["IMSI777100223456161"] != "+15551234567" {
		t.Errorf("expected pending registration recorded in directory")
	}
}

func TestRegisterHandler_AlreadyResolvedGetsWelcome(t *testing.T) {
	dir := &fakeDirectory{phones: map[string]string{"777100223456161": "+15551234567"}}
	cfg := testConfig()
	res := RegisterHandler(context.Background(), Context{Directory: dir, Config: cfg}, "777100223456161", "+15551234567", nil)
	if res.Directive != DirectiveReply {
		t.Fatalf("expected REPLY once the IMSI resolves, got %s", res.Directive)
	}
	if res.ReplyText != cfg.ShortCode.WelcomeReply {
		t.Errorf("expected welcome reply, got %q", res.ReplyText)
	}
}

func TestRegisterHandler_TooShort(t *testing.T) {
	dir := &fakeDirectory{}
	cfg := testConfig()
	res := RegisterHandler(context.Background(), Context{Directory: dir, Config: cfg}, "IMSI777100223456161", "123", nil)
	if res.Directive != DirectiveInternalError {
		t.Fatalf("expected INTERNAL_ERROR, got %s", res.Directive)
	}
}

func TestRegisterHandler_NonDigits(t *testing.T) {
	dir := &fakeDirectory{}
	cfg := testConfig()
	res := RegisterHandler(context.Background(), Context{Directory: dir, Config: cfg}, "IMSI777100223456161", "not-a-number", nil)
	if res.Directive != DirectiveInternalError {
		t.Fatalf("expected INTERNAL_ERROR, got %s", res.Directive)
	}
}

func TestTableDispatch(t *testing.T) {
	cfg := testConfig()
	table := NewDefaultTable(cfg)
	if _, ok := table.Lookup(cfg.ShortCode.DirectoryCode); !ok {
		t.Fatalf("expected directory code registered")
	}
	if _, ok := table.Lookup(cfg.ShortCode.RegisterCode); !ok {
		t.Fatalf("expected register code registered")
	}
	if _, ok := table.Lookup("999999"); ok {
		t.Fatalf("expected unregistered code to miss")
	}

	dir := &fakeDirectory{phones: map[string]string{"IMSI1": "+1"}}
	res, ok := table.Dispatch(context.Background(), Context{Directory: dir, Config: cfg}, cfg.ShortCode.DirectoryCode, "IMSI1", "", nil)
	if !ok || res.Directive != DirectiveReply {
		t.Fatalf("expected dispatch to directory handler, got ok=%v res=%v", ok, res)
	}
}
