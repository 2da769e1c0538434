package hub

import (
	"context"
	"testing"
	"time"
)

func TestUtilizationRiskMonotonic(t *testing.T) {
	// More borrowing against the same supply never scores safer.
	const supplied = 1_000_000
	prev := -1
	for _, borrowed := range []int64{0, 1, 100_000, 250_000, 500_000, 750_000, 900_000, 1_000_000, 2_000_000} {
		got := utilizationRisk(borrowed, supplied)
		if got < prev {
			t.Fatalf("utilizationRisk(%d, %d) = %d, less than previous %d", borrowed, supplied, got, prev)
		}
		prev = got
	}
}

func TestUtilizationRiskBounds(t *testing.T) {
	tests := []struct {
		name               string
		borrowed, supplied int64
		want               int
	}{
		{"empty market", 0, 0, 0},
		{"no borrows", 0, 1_000_000, 0},
		{"half utilized", 500_000, 1_000_000, 50},
		{"fully utilized", 1_000_000, 1_000_000, 100},
		{"over utilized caps", 3_000_000, 1_000_000, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := utilizationRisk(tt.borrowed, tt.supplied); got != tt.want {
				t.Errorf("utilizationRisk = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLiquidityRiskDecreasesWithDepth(t *testing.T) {
	prev := 101
	for _, tvl := range []int64{0, 1, 100, 10_000, 1_000_000, 10_000_000, 100_000_000} {
		got := liquidityRisk(tvl)
		if got > prev {
			t.Fatalf("liquidityRisk(%d) = %d, greater than previous %d", tvl, got, prev)
		}
		prev = got
	}
	if got := liquidityRisk(0); got != 100 {
		t.Errorf("empty market liquidity risk = %d, want 100", got)
	}
	if got := liquidityRisk(10_000_000); got != 0 {
		t.Errorf("deep market liquidity risk = %d, want 0", got)
	}
}

func TestStalenessRiskSteps(t *testing.T) {
	window := 2 * time.Minute
	tests := []struct {
		age  time.Duration
		want int
	}{
		{0, 0},
		{30 * time.Second, 0},
		{time.Minute, 0},
		{90 * time.Second, 25},
		{2 * time.Minute, 25},
		{3 * time.Minute, 50},
		{time.Hour, 50},
	}
	for _, tt := range tests {
		if got := stalenessRisk(tt.age, window); got != tt.want {
			t.Errorf("stalenessRisk(%v) = %d, want %d", tt.age, got, tt.want)
		}
	}
	// Staler never scores safer.
	prev := -1
	for age := time.Duration(0); age <= 4*time.Minute; age += 10 * time.Second {
		got := stalenessRisk(age, window)
		if got < prev {
			t.Fatalf("stalenessRisk(%v) dropped from %d to %d", age, prev, got)
		}
		prev = got
	}
}

func TestRiskMetricsComposite(t *testing.T) {
	h, src, _, clock := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 500_000) // 50% utilized

	m, err := h.RiskMetrics("0xT")
	if err != nil {
		t.Fatalf("RiskMetrics: %v", err)
	}
	if m.Utilization != 50 {
		t.Errorf("utilization = %d, want 50", m.Utilization)
	}
	// Remote never set: its side counts as maximally stale.
	if m.Staleness != 50 {
		t.Errorf("staleness = %d, want 50 (fresh local + never-set remote)", m.Staleness)
	}
	if m.Composite < 0 || m.Composite > 100 {
		t.Errorf("composite = %d, out of bounds", m.Composite)
	}

	// Aging the data can only raise the score.
	before := m.Composite
	clock.Advance(10 * time.Minute)
	m2, err := h.RiskMetrics("0xT")
	if err != nil {
		t.Fatalf("RiskMetrics after aging: %v", err)
	}
	if m2.Composite < before {
		t.Errorf("composite dropped from %d to %d as data aged", before, m2.Composite)
	}
}

func TestRiskMetricsUnknownToken(t *testing.T) {
	h, _, _, _ := newTestHub(t)
	if _, err := h.RiskMetrics("0xnope"); err == nil {
		t.Error("expected error for unknown token")
	}
}

func TestRiskMetricsUsesRemoteDepthWhenShallower(t *testing.T) {
	h, src, _, clock := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 500, 50_000_000, 0) // deep local market

	deepOnly, err := h.RiskMetrics("0xT")
	if err != nil {
		t.Fatalf("RiskMetrics: %v", err)
	}

	// A shallow remote market becomes the binding depth.
	reqID, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := h.OnMessage(scoutEndpoint, successResponse(t, reqID, 820, 50, clock.Now())); err != nil {
		t.Fatalf("response: %v", err)
	}

	withRemote, err := h.RiskMetrics("0xT")
	if err != nil {
		t.Fatalf("RiskMetrics: %v", err)
	}
	if withRemote.Liquidity <= deepOnly.Liquidity {
		t.Errorf("liquidity risk = %d, want above deep-market score %d", withRemote.Liquidity, deepOnly.Liquidity)
	}
}
