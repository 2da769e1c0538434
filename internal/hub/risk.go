package hub

import (
	"math"
	"time"
)

// Composite weights. Liquidity dominates because thin markets hurt the
// most; staleness is a floor, not the story.
const (
	liquidityWeight   = 0.40
	utilizationWeight = 0.35
	stalenessWeight   = 0.25
)

// RiskMetrics is a bounded 0-100 composite plus its sub-scores, so a
// caller can explain why a score is what it is. Higher is riskier.
type RiskMetrics struct {
	Token       string `json:"token"`
	Composite   int    `json:"composite"`
	Liquidity   int    `json:"liquidity"`
	Utilization int    `json:"utilization"`
	Staleness   int    `json:"staleness"`
}

// RiskMetrics scores token on liquidity depth, utilization, and data
// staleness. Each sub-score is monotonic in its input.
func (h *Hub) RiskMetrics(token string) (*RiskMetrics, error) {
	rec, ok := h.record(token)
	if !ok {
		return nil, ErrUnknownToken
	}

	rec.mu.Lock()
	localTVL := rec.localTVL
	remoteTVL := rec.remoteTVL
	remoteActive := rec.remoteActive
	supplied := rec.localTVL
	borrowed := rec.localBorrowed
	localAge := h.age(rec.localUpdatedAt)
	remoteAge := h.age(rec.remoteUpdatedAt)
	rec.mu.Unlock()

	depth := localTVL
	if remoteActive && remoteTVL < depth {
		depth = remoteTVL
	}

	window := h.freshnessWindow()
	m := &RiskMetrics{
		Token:       token,
		Liquidity:   liquidityRisk(depth),
		Utilization: utilizationRisk(borrowed, supplied),
		Staleness:   stalenessRisk(localAge, window) + stalenessRisk(remoteAge, window),
	}
	m.Composite = clampScore(int(math.Round(
		liquidityWeight*float64(m.Liquidity) +
			utilizationWeight*float64(m.Utilization) +
			stalenessWeight*float64(m.Staleness))))
	return m, nil
}

// age returns a very large duration for never-set timestamps so they
// score as maximally stale.
func (h *Hub) age(updatedAt time.Time) time.Duration {
	if updatedAt.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return h.now().Sub(updatedAt)
}

// liquidityRisk maps TVL depth (whole tokens) to 0-100, decreasing in
// depth on a log scale. A market under one token scores 100; around 10M
// tokens scores 0.
func liquidityRisk(tvl int64) int {
	if tvl < 1 {
		return 100
	}
	// log10(1)=0 -> 100, log10(1e7)=7 -> 0
	score := 100 - math.Log10(float64(tvl))*(100.0/7.0)
	return clampScore(int(math.Round(score)))
}

// utilizationRisk scales borrowed/supplied linearly onto 0-100. An empty
// market has no utilization signal and scores 0.
func utilizationRisk(borrowed, supplied int64) int {
	if supplied <= 0 || borrowed <= 0 {
		return 0
	}
	util := float64(borrowed) / float64(supplied)
	return clampScore(int(math.Round(util * 100)))
}

// stalenessRisk is a step function of one side's age against the
// freshness window: young readings score 0, readings past half the
// window 25, stale readings 50. Two sides sum to at most 100.
func stalenessRisk(age, window time.Duration) int {
	switch {
	case age <= window/2:
		return 0
	case age <= window:
		return 25
	default:
		return 50
	}
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
