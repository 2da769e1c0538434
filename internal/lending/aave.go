package lending

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/web3-frozen/yield-hub/internal/hub"
)

const (
	aaveMarketsURL = "https://app.aave.com/markets/?marketName=proto_avalanche_v3"
	aaveScrapeTTL  = 5 * time.Minute
)

// AaveEntry is one market row scraped from the Aave dashboard.
type AaveEntry struct {
	Token         string `json:"token"`
	SupplyRateBps int64  `json:"supplyRateBps"`
	TotalSupplied int64  `json:"totalSupplied"`
	TotalBorrowed int64  `json:"totalBorrowed"`
}

// Aave reads lending yield by scraping the browser-rendered Aave market
// dashboard via headless Chrome. Rows are cached for a short TTL so one
// Chrome session can serve reads for every token.
type Aave struct {
	logger *slog.Logger

	mu        sync.RWMutex
	entries   map[string]AaveEntry // keyed by lower-case token address
	scrapedAt time.Time
}

func NewAave(logger *slog.Logger) *Aave {
	return &Aave{
		logger:  logger,
		entries: make(map[string]AaveEntry),
	}
}

func (a *Aave) Name() string { return "aave" }

func (a *Aave) Read(ctx context.Context, token string) (*hub.LocalReading, error) {
	key := strings.ToLower(token)

	a.mu.RLock()
	entry, ok := a.entries[key]
	fresh := time.Since(a.scrapedAt) < aaveScrapeTTL
	a.mu.RUnlock()

	if !ok || !fresh {
		if err := a.scrape(ctx); err != nil {
			return nil, err
		}
		a.mu.RLock()
		entry, ok = a.entries[key]
		a.mu.RUnlock()
	}
	if !ok || entry.TotalSupplied <= 0 {
		return nil, hub.ErrNoSourceData
	}
	return &hub.LocalReading{
		SupplyRateBps: entry.SupplyRateBps,
		TotalSupplied: entry.TotalSupplied,
		TotalBorrowed: entry.TotalBorrowed,
	}, nil
}

// scrape loads the dashboard and pulls every market row out of the
// rendered app state in one Chrome session.
func (a *Aave) scrape(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-crash-reporter", true),
		chromedp.Flag("crash-dumps-dir", "/tmp"),
		chromedp.UserDataDir("/tmp/chromedp-profile"),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	cctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	cctx, cancel = context.WithTimeout(cctx, 60*time.Second)
	defer cancel()

	var raw string
	err := chromedp.Run(cctx,
		chromedp.Navigate(aaveMarketsURL),
		chromedp.WaitVisible(`[data-cy="markets-list"]`, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(`JSON.stringify(
			Array.from(document.querySelectorAll('[data-cy="markets-list"] [role="row"]')).map(row => ({
				token: row.getAttribute('data-address') || '',
				supplyRateBps: Math.round(parseFloat(row.querySelector('[data-cy="supply-apy"]')?.textContent || '0') * 100),
				totalSupplied: Math.round(parseFloat((row.querySelector('[data-cy="total-supplied-raw"]')?.textContent || '0'))),
				totalBorrowed: Math.round(parseFloat((row.querySelector('[data-cy="total-borrowed-raw"]')?.textContent || '0')))
			})).filter(e => e.token)
		)`, &raw),
	)
	if err != nil {
		return fmt.Errorf("chromedp scrape: %w", err)
	}

	var entries []AaveEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return fmt.Errorf("unmarshal scraped rows: %w", err)
	}

	a.mu.Lock()
	for _, e := range entries {
		a.entries[strings.ToLower(e.Token)] = e
	}
	a.scrapedAt = time.Now()
	a.mu.Unlock()

	a.logger.Info("aave dashboard scraped", "markets", len(entries))
	return nil
}
