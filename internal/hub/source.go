package hub

import "context"

// LocalReading is one point-in-time reading from a lending market.
// Rates are basis points; amounts are in whole tokens.
type LocalReading struct {
	SupplyRateBps int64
	TotalSupplied int64
	TotalBorrowed int64
}

// LocalYieldSource reads current lending yield for a token from the
// local chain. To add a market, implement this and pass it to New.
type LocalYieldSource interface {
	// Name identifies the market (e.g., "benqi").
	Name() string

	// Read fetches the current reading for token. It returns
	// ErrNoSourceData when the market knows nothing about the token;
	// any other error is a transport or parse failure.
	Read(ctx context.Context, token string) (*LocalReading, error)
}
