package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/web3-frozen/yield-hub/internal/channel"
	"github.com/web3-frozen/yield-hub/internal/protocol"
)

var (
	hubEndpoint   = channel.Endpoint{Chain: "c-chain", Address: "0xhub"}
	scoutEndpoint = channel.Endpoint{Chain: "subnet-a", Address: "0xscout"}
	attacker      = channel.Endpoint{Chain: "subnet-a", Address: "0xattacker"}
)

type fakeSource struct {
	mu       sync.Mutex
	readings map[string]*LocalReading
	err      error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Read(_ context.Context, token string) (*LocalReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.readings[token]
	if !ok {
		return nil, ErrNoSourceData
	}
	cp := *r
	return &cp, nil
}

type sentMessage struct {
	Dest    channel.Endpoint
	Payload []byte
	Fee     int64
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(dest channel.Endpoint, payload []byte, fee int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMessage{Dest: dest, Payload: payload, Fee: fee})
	return "msg-1", nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestHub(t *testing.T) (*Hub, *fakeSource, *fakeSender, *testClock) {
	t.Helper()
	src := &fakeSource{readings: map[string]*LocalReading{}}
	snd := &fakeSender{}
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := New(Config{
		Chain:           hubEndpoint.Chain,
		FreshnessWindow: 2 * time.Minute,
		ResponseTimeout: 5 * time.Minute,
		RequestFee:      10,
	}, src, snd, nil, slog.Default())
	h.now = clock.Now
	h.SetRemoteEndpoint(scoutEndpoint)
	return h, src, snd, clock
}

func registerWithLocal(t *testing.T, h *Hub, src *fakeSource, token string, apyBps, tvl, borrowed int64) {
	t.Helper()
	if err := h.RegisterToken(context.Background(), token, 18); err != nil {
		t.Fatalf("RegisterToken: %v", err)
	}
	src.mu.Lock()
	src.readings[token] = &LocalReading{SupplyRateBps: apyBps, TotalSupplied: tvl, TotalBorrowed: borrowed}
	src.mu.Unlock()
	if err := h.RefreshLocal(context.Background(), token); err != nil {
		t.Fatalf("RefreshLocal: %v", err)
	}
}

func successResponse(t *testing.T, reqID string, apyBps, tvl int64, at time.Time) []byte {
	t.Helper()
	data, err := protocol.EncodeResponse(&protocol.YieldResponse{
		RequestID:   reqID,
		APYBps:      apyBps,
		TVL:         tvl,
		ProtocolTag: "subnet-lender",
		RespondedAt: at,
		Success:     true,
	})
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	return data
}

// --- Registry ---

func TestRegisterTokenIdempotent(t *testing.T) {
	h, _, _, _ := newTestHub(t)
	ctx := context.Background()

	if err := h.RegisterToken(ctx, "0xT", 18); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := h.RegisterToken(ctx, "0xT", 18); err != nil {
		t.Errorf("same-decimals re-register should no-op, got %v", err)
	}
	if err := h.RegisterToken(ctx, "0xT", 6); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("different-decimals re-register = %v, want ErrAlreadyRegistered", err)
	}
}

func TestRefreshLocalUnknownToken(t *testing.T) {
	h, _, _, _ := newTestHub(t)
	if err := h.RefreshLocal(context.Background(), "0xnope"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("err = %v, want ErrUnknownToken", err)
	}
}

func TestRefreshLocalNoDataPreservesCache(t *testing.T) {
	h, src, _, _ := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 400_000)

	src.mu.Lock()
	delete(src.readings, "0xT")
	src.mu.Unlock()

	if err := h.RefreshLocal(context.Background(), "0xT"); !errors.Is(err, ErrStaleSourceData) {
		t.Fatalf("err = %v, want ErrStaleSourceData", err)
	}

	snap, err := h.Snapshot("0xT")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.LocalAPYBps != 500 || snap.LocalTVL != 1_000_000 {
		t.Errorf("cache corrupted after no-data refresh: apy=%d tvl=%d", snap.LocalAPYBps, snap.LocalTVL)
	}
}

// --- Request lifecycle ---

// At most one pending request per token.
func TestRequestAlreadyInFlight(t *testing.T) {
	h, src, snd, _ := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 0)

	if _, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := h.RequestRemoteYield(context.Background(), "0xT", "0xbob"); !errors.Is(err, ErrRequestInFlight) {
		t.Errorf("second request = %v, want ErrRequestInFlight", err)
	}

	snd.mu.Lock()
	sends := len(snd.sent)
	snd.mu.Unlock()
	if sends != 1 {
		t.Errorf("sends = %d, want 1 (rejected request must not send)", sends)
	}
}

func TestRequestRequiresEndpoint(t *testing.T) {
	h, src, _, _ := newTestHub(t)
	h.SetRemoteEndpoint(channel.Endpoint{})
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 0)

	if _, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice"); !errors.Is(err, ErrEndpointNotConfigured) {
		t.Errorf("err = %v, want ErrEndpointNotConfigured", err)
	}
}

func TestRequestSendFailureRollsBack(t *testing.T) {
	h, src, snd, _ := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 0)

	snd.mu.Lock()
	snd.err = channel.ErrInsufficientFee
	snd.mu.Unlock()

	if _, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice"); !errors.Is(err, ErrChannelSend) {
		t.Fatalf("err = %v, want ErrChannelSend", err)
	}
	if _, pending := h.PendingFor("0xT"); pending {
		t.Error("failed send must not leave a pending request")
	}

	// After the channel recovers the token can be requested again.
	snd.mu.Lock()
	snd.err = nil
	snd.mu.Unlock()
	if _, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice"); err != nil {
		t.Errorf("request after recovery: %v", err)
	}
}

func TestRequestLazyExpiryAllowsRetry(t *testing.T) {
	h, src, _, clock := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 0)

	first, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}

	// Within the timeout the slot is still held.
	clock.Advance(4 * time.Minute)
	if _, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice"); !errors.Is(err, ErrRequestInFlight) {
		t.Fatalf("pre-timeout retry = %v, want ErrRequestInFlight", err)
	}

	// Past the timeout the stale request expires and a new one opens.
	clock.Advance(2 * time.Minute)
	second, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice")
	if err != nil {
		t.Fatalf("post-timeout retry: %v", err)
	}
	if second == first {
		t.Error("retry must mint a fresh request id")
	}

	// The expired request's id can no longer complete anything.
	if err := h.OnMessage(scoutEndpoint, successResponse(t, first, 820, 2_000_000, clock.Now())); !errors.Is(err, ErrUnknownOrStaleRequest) {
		t.Errorf("expired response = %v, want ErrUnknownOrStaleRequest", err)
	}
}

func TestRequestIDsUnique(t *testing.T) {
	h, src, _, clock := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 0)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		id, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("request id repeated: %s", id)
		}
		seen[id] = true
		// Resolve so the next request can open.
		if err := h.OnMessage(scoutEndpoint, successResponse(t, id, 800, 1_000_000, clock.Now())); err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
	}
}

// --- Authenticated receive ---

// Forged senders never change state.
func TestUntrustedSenderRejected(t *testing.T) {
	h, src, _, clock := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 0)

	reqID, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	forged := successResponse(t, reqID, 999_999, 1, clock.Now())
	if err := h.OnMessage(attacker, forged); !errors.Is(err, ErrUntrustedSender) {
		t.Fatalf("forged sender = %v, want ErrUntrustedSender", err)
	}
	if err := h.OnMessage(channel.Endpoint{Chain: "other-chain", Address: scoutEndpoint.Address}, forged); !errors.Is(err, ErrUntrustedSender) {
		t.Fatalf("wrong chain = %v, want ErrUntrustedSender", err)
	}

	snap, _ := h.Snapshot("0xT")
	if snap.RemoteActive || snap.RemoteAPYBps != 0 {
		t.Error("forged message must not poison remote cache")
	}
	if req, ok := h.PendingFor("0xT"); !ok || req.Status != StatusPending {
		t.Error("forged message must not resolve the pending request")
	}

	// Scenario D: the optimizer is unaffected.
	opt, err := h.OptimizedAPY("0xT")
	if err != nil {
		t.Fatalf("OptimizedAPY: %v", err)
	}
	if opt.APYBps != 500 || opt.Mode != ModeSingleSource {
		t.Errorf("optimized = %+v, want 500 single-source", opt)
	}
}

func TestMalformedMessageRejected(t *testing.T) {
	h, src, _, _ := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 0)
	if _, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice"); err != nil {
		t.Fatalf("request: %v", err)
	}

	tests := []struct {
		name    string
		payload []byte
	}{
		{"not json", []byte("%%%")},
		{"wrong kind", []byte(`{"kind":"yield_request","request_id":"r"}`)},
		{"missing request id", []byte(`{"kind":"yield_response","success":true}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.OnMessage(scoutEndpoint, tt.payload); !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("err = %v, want ErrMalformedMessage", err)
			}
		})
	}

	if req, ok := h.PendingFor("0xT"); !ok || req.Status != StatusPending {
		t.Error("malformed messages must not touch the pending request")
	}
}

// Replaying a valid response is a safe no-op.
func TestReplaySafety(t *testing.T) {
	h, src, _, clock := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 0)

	reqID, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	payload := successResponse(t, reqID, 820, 2_000_000, clock.Now())
	if err := h.OnMessage(scoutEndpoint, payload); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := h.OnMessage(scoutEndpoint, payload); !errors.Is(err, ErrUnknownOrStaleRequest) {
		t.Errorf("second delivery = %v, want ErrUnknownOrStaleRequest", err)
	}

	snap, _ := h.Snapshot("0xT")
	if snap.RemoteAPYBps != 820 || snap.RemoteTVL != 2_000_000 {
		t.Errorf("cache after replay = %d/%d, want first delivery's values", snap.RemoteAPYBps, snap.RemoteTVL)
	}
}

// An error response never erases known-good cached data.
func TestErrorResponsePreservesCache(t *testing.T) {
	h, src, _, clock := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 0)

	reqID, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := h.OnMessage(scoutEndpoint, successResponse(t, reqID, 820, 2_000_000, clock.Now())); err != nil {
		t.Fatalf("success response: %v", err)
	}

	reqID2, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	failure, err := protocol.EncodeResponse(&protocol.YieldResponse{
		RequestID:    reqID2,
		RespondedAt:  clock.Now(),
		Success:      false,
		ErrorMessage: "subnet protocol paused",
	})
	if err != nil {
		t.Fatalf("encode failure: %v", err)
	}
	if err := h.OnMessage(scoutEndpoint, failure); err != nil {
		t.Fatalf("failure response: %v", err)
	}

	snap, _ := h.Snapshot("0xT")
	if snap.RemoteAPYBps != 820 || snap.RemoteTVL != 2_000_000 || !snap.RemoteActive {
		t.Errorf("error response erased cache: %+v", snap)
	}
	if _, pending := h.PendingFor("0xT"); pending {
		t.Error("failed request should have reached a terminal state")
	}
}

func TestRemoteTimestampNeverRegresses(t *testing.T) {
	h, src, _, clock := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 0)

	reqID, _ := h.RequestRemoteYield(context.Background(), "0xT", "0xalice")
	if err := h.OnMessage(scoutEndpoint, successResponse(t, reqID, 820, 2_000_000, clock.Now())); err != nil {
		t.Fatalf("first response: %v", err)
	}
	first, _ := h.Snapshot("0xT")

	// A second round trip answered with a skewed, older clock.
	reqID2, _ := h.RequestRemoteYield(context.Background(), "0xT", "0xalice")
	stale := clock.Now().Add(-time.Hour)
	if err := h.OnMessage(scoutEndpoint, successResponse(t, reqID2, 840, 2_100_000, stale)); err != nil {
		t.Fatalf("second response: %v", err)
	}

	snap, _ := h.Snapshot("0xT")
	if snap.RemoteUpdatedAt.Before(first.RemoteUpdatedAt) {
		t.Errorf("remoteUpdatedAt regressed: %v -> %v", first.RemoteUpdatedAt, snap.RemoteUpdatedAt)
	}
	if snap.RemoteAPYBps != 840 {
		t.Errorf("reading itself should still apply, got %d", snap.RemoteAPYBps)
	}
}

// --- Optimizer ---

// Walks the freshness fallback ladder: both sides fresh, local only, remote only.
func TestOptimizedAPYFallbacks(t *testing.T) {
	h, src, _, clock := newTestHub(t)

	// Scenario A: local only.
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 0)
	opt, err := h.OptimizedAPY("0xT")
	if err != nil {
		t.Fatalf("local-only: %v", err)
	}
	if opt.APYBps != 500 || opt.Mode != ModeSingleSource || opt.Winner != SideLocal {
		t.Errorf("local-only = %+v, want 500/single-source/local", opt)
	}

	// Scenario B: both fresh, remote wins the max.
	reqID, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := h.OnMessage(scoutEndpoint, successResponse(t, reqID, 820, 2_000_000, clock.Now())); err != nil {
		t.Fatalf("response: %v", err)
	}
	opt, err = h.OptimizedAPY("0xT")
	if err != nil {
		t.Fatalf("both-fresh: %v", err)
	}
	if opt.APYBps != 820 || opt.Mode != ModeCrossChain || opt.Winner != SideRemote {
		t.Errorf("both-fresh = %+v, want 820/cross-chain-optimized/remote", opt)
	}

	// Local ages out, remote stays fresh: remote single-source. A second
	// round trip restamps the remote side later than the local one.
	clock.Advance(90 * time.Second)
	reqID2, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if err := h.OnMessage(scoutEndpoint, successResponse(t, reqID2, 820, 2_000_000, clock.Now())); err != nil {
		t.Fatalf("second response: %v", err)
	}
	clock.Advance(45 * time.Second) // local now 2m15s old, remote 45s old
	opt, err = h.OptimizedAPY("0xT")
	if err != nil {
		t.Fatalf("remote-only: %v", err)
	}
	if opt.APYBps != 820 || opt.Mode != ModeSingleSource || opt.Winner != SideRemote {
		t.Errorf("remote-only = %+v, want 820/single-source/remote", opt)
	}

	// Scenario C: everything ages out.
	clock.Advance(10 * time.Minute)
	if _, err := h.OptimizedAPY("0xT"); !errors.Is(err, ErrNoFreshData) {
		t.Errorf("all-stale = %v, want ErrNoFreshData", err)
	}
}

func TestOptimizedAPYLocalWinsMax(t *testing.T) {
	h, src, _, clock := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 900, 1_000_000, 0)

	reqID, _ := h.RequestRemoteYield(context.Background(), "0xT", "0xalice")
	if err := h.OnMessage(scoutEndpoint, successResponse(t, reqID, 820, 2_000_000, clock.Now())); err != nil {
		t.Fatalf("response: %v", err)
	}

	opt, err := h.OptimizedAPY("0xT")
	if err != nil {
		t.Fatalf("OptimizedAPY: %v", err)
	}
	if opt.APYBps != 900 || opt.Winner != SideLocal || opt.Mode != ModeCrossChain {
		t.Errorf("opt = %+v, want 900/local/cross-chain-optimized", opt)
	}
}

func TestOptimizedAPYUnknownToken(t *testing.T) {
	h, _, _, _ := newTestHub(t)
	if _, err := h.OptimizedAPY("0xnope"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("err = %v, want ErrUnknownToken", err)
	}
}

// --- Concurrency ---

func TestConcurrentRequestsSingleWinner(t *testing.T) {
	h, src, snd, _ := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 0)

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.RequestRemoteYield(context.Background(), "0xT", "0xalice")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, inFlight int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrRequestInFlight):
			inFlight++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || inFlight != callers-1 {
		t.Errorf("winners = %d, rejected = %d; want 1 and %d", ok, inFlight, callers-1)
	}

	snd.mu.Lock()
	defer snd.mu.Unlock()
	if len(snd.sent) != 1 {
		t.Errorf("sends = %d, want 1", len(snd.sent))
	}
}

func TestConcurrentRefreshAndRead(t *testing.T) {
	h, src, _, _ := newTestHub(t)
	registerWithLocal(t, h, src, "0xT", 500, 1_000_000, 400_000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = h.RefreshLocal(context.Background(), "0xT")
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap, err := h.Snapshot("0xT")
				if err != nil {
					t.Error(err)
					return
				}
				// A half-written record would show values without a stamp.
				if snap.LocalAPYBps != 0 && snap.LocalUpdatedAt.IsZero() {
					t.Error("observed reading without timestamp")
					return
				}
			}
		}()
	}
	wg.Wait()
}
