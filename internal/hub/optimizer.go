package hub

// YieldMode tags how an optimized yield was derived.
type YieldMode string

const (
	// ModeSingleSource means only one side had fresh data.
	ModeSingleSource YieldMode = "single-source"
	// ModeCrossChain means both sides were fresh and the max won.
	ModeCrossChain YieldMode = "cross-chain-optimized"
)

// YieldSide names which reading won the optimization.
type YieldSide string

const (
	SideLocal  YieldSide = "local"
	SideRemote YieldSide = "remote"
)

// OptimizedYield is the hub's answer to "what is the best yield right
// now". It is derived on every read, never stored.
type OptimizedYield struct {
	Token       string    `json:"token"`
	APYBps      int64     `json:"apy_bps"`
	Mode        YieldMode `json:"mode"`
	Winner      YieldSide `json:"winner"`
	LocalFresh  bool      `json:"local_fresh"`
	RemoteFresh bool      `json:"remote_fresh"`
}

// OptimizedAPY computes the best available yield for token. With both
// sides fresh it returns the max; with one side fresh it returns that
// side alone; with neither it fails with ErrNoFreshData so a caller can
// never mistake an empty cache for a real zero yield.
func (h *Hub) OptimizedAPY(token string) (*OptimizedYield, error) {
	rec, ok := h.record(token)
	if !ok {
		return nil, ErrUnknownToken
	}

	rec.mu.Lock()
	localOK := h.isFresh(rec.localUpdatedAt)
	remoteOK := rec.remoteActive && h.isFresh(rec.remoteUpdatedAt)
	localAPY := rec.localAPYBps
	remoteAPY := rec.remoteAPYBps
	rec.mu.Unlock()

	out := &OptimizedYield{
		Token:       token,
		LocalFresh:  localOK,
		RemoteFresh: remoteOK,
	}

	switch {
	case localOK && remoteOK:
		out.Mode = ModeCrossChain
		if remoteAPY > localAPY {
			out.APYBps = remoteAPY
			out.Winner = SideRemote
		} else {
			out.APYBps = localAPY
			out.Winner = SideLocal
		}
	case localOK:
		out.Mode = ModeSingleSource
		out.APYBps = localAPY
		out.Winner = SideLocal
	case remoteOK:
		out.Mode = ModeSingleSource
		out.APYBps = remoteAPY
		out.Winner = SideRemote
	default:
		return nil, ErrNoFreshData
	}
	return out, nil
}
