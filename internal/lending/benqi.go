// Package lending implements local yield sources for the hub: read-only
// adapters that report a lending market's supply rate and pool sizes for
// a token.
package lending

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/web3-frozen/yield-hub/internal/hub"
)

const benqiAPI = "https://api.benqi.fi/v1/markets"

// BenqiMarket is one market entry from the Benqi markets API. Rates are
// decimal fractions per year; amounts are strings in the token's
// smallest unit, scaled down by the underlying decimals.
type BenqiMarket struct {
	UnderlyingAddress  string  `json:"underlyingAddress"`
	UnderlyingSymbol   string  `json:"underlyingSymbol"`
	UnderlyingDecimals int     `json:"underlyingDecimals"`
	SupplyRate         float64 `json:"supplyApy"`
	TotalSupply        string  `json:"totalSupply"`
	TotalBorrows       string  `json:"totalBorrows"`
	Paused             bool    `json:"paused"`
}

type benqiResponse struct {
	Markets []BenqiMarket `json:"markets"`
}

// Benqi reads lending yield from the Benqi markets API on the local
// chain.
type Benqi struct {
	baseURL string
	client  *http.Client
}

func NewBenqi() *Benqi {
	return &Benqi{
		baseURL: benqiAPI,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// NewBenqiWithURL overrides the API endpoint, for tests and staging.
func NewBenqiWithURL(baseURL string) *Benqi {
	b := NewBenqi()
	b.baseURL = baseURL
	return b
}

func (b *Benqi) Name() string { return "benqi" }

func (b *Benqi) Read(ctx context.Context, token string) (*hub.LocalReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("markets request failed: %d", resp.StatusCode)
	}

	var result benqiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("unmarshal markets: %w", err)
	}

	for _, m := range result.Markets {
		if m.UnderlyingAddress != token || m.Paused {
			continue
		}
		return marketReading(&m)
	}
	return nil, hub.ErrNoSourceData
}

func marketReading(m *BenqiMarket) (*hub.LocalReading, error) {
	supplied := parseAmount(m.TotalSupply, m.UnderlyingDecimals)
	if supplied <= 0 {
		return nil, hub.ErrNoSourceData
	}
	return &hub.LocalReading{
		SupplyRateBps: rateToBps(m.SupplyRate),
		TotalSupplied: supplied,
		TotalBorrowed: parseAmount(m.TotalBorrows, m.UnderlyingDecimals),
	}, nil
}

// rateToBps converts a decimal yearly rate (0.05 = 5%) to basis points.
func rateToBps(rate float64) int64 {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0
	}
	return int64(math.Round(rate * 10_000))
}

// parseAmount converts a smallest-unit amount string to whole tokens.
func parseAmount(s string, decimals int) int64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	return int64(math.Round(v / math.Pow10(decimals)))
}
