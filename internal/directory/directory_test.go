package directory

import (
	"context"
	"testing"
)

func TestSQLiteClientRegisterAndLookup(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Register(ctx, "666410186585295", "+17074700746", "127.0.0.1:5062"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	phone, found, err := c.IMSIToPhone(ctx, "666410186585295")
	if err != nil {
		t.Fatalf("IMSIToPhone: %v", err)
	}
	if !found || phone != "+17074700746" {
		t.Fatalf("expected +17074700746, got %q found=%v", phone, found)
	}

	imsi, found, err := c.PhoneToIMSI(ctx, "+17074700746")
	if err != nil {
		t.Fatalf("PhoneToIMSI: %v", err)
	}
	if !found || imsi != "666410186585295" {
		t.Fatalf("expected 666410186585295, got %q found=%v", imsi, found)
	}

	loc, found, err := c.IMSIToLocation(ctx, "666410186585295")
	if err != nil {
		t.Fatalf("IMSIToLocation: %v", err)
	}
	if !found || loc != "127.0.0.1:5062" {
		t.Fatalf("expected 127.0.0.1:5062, got %q found=%v", loc, found)
	}
}

func TestSQLiteClientNotFound(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if _, found, err := c.IMSIToPhone(ctx, "000000000000000"); err != nil || found {
		t.Fatalf("expected not found, got found=%v err=%v", found, err)
	}
}

func TestSQLiteClientRegisterUpdatesPartialFields(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Register(ctx, "666410186585295", "+17074700746", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := c.Register(ctx, "666410186585295", "", "127.0.0.1:5062"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	phone, found, _ := c.IMSIToPhone(ctx, "666410186585295")
	if !found || phone != "+17074700746" {
		t.Fatalf("expected phone to survive second register with blank phone, got %q", phone)
	}
	loc, found, _ := c.IMSIToLocation(ctx, "666410186585295")
	if !found || loc != "127.0.0.1:5062" {
		t.Fatalf("expected location from second register, got %q", loc)
	}
}

func TestFallbackClientServesSeedPairs(t *testing.T) {
	inner, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer inner.Close()

	fb := NewFallbackClient(inner)
	ctx := context.Background()

	phone, found, err := fb.IMSIToPhone(ctx, "666410186585295")
	if err != nil {
		t.Fatalf("IMSIToPhone: %v", err)
	}
	if !found || phone != "+17074700746" {
		t.Fatalf("expected seed pair to resolve, got %q found=%v", phone, found)
	}

	imsi, found, err := fb.PhoneToIMSI(ctx, "+17074700741")
	if err != nil {
		t.Fatalf("PhoneToIMSI: %v", err)
	}
	if !found || imsi != "777100223456161" {
		t.Fatalf("expected seed pair to resolve, got %q found=%v", imsi, found)
	}
}

func TestFallbackClientPrefersInnerOverSeed(t *testing.T) {
	inner, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer inner.Close()
	ctx := context.Background()
	if err := inner.Register(ctx, "666410186585295", "+19995550000", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}

	fb := NewFallbackClient(inner)
	phone, found, err := fb.IMSIToPhone(ctx, "666410186585295")
	if err != nil {
		t.Fatalf("IMSIToPhone: %v", err)
	}
	if !found || phone != "+19995550000" {
		t.Fatalf("expected inner registration to win over seed, got %q", phone)
	}
}
