// Package scout implements the remote half of the cross-chain round
// trip: it answers authenticated yield requests by reading the lending
// protocol on its own chain and sending a signed response back to the
// requester.
package scout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/web3-frozen/yield-hub/internal/channel"
	"github.com/web3-frozen/yield-hub/internal/hub"
	"github.com/web3-frozen/yield-hub/internal/metrics"
	"github.com/web3-frozen/yield-hub/internal/protocol"
)

// ErrUntrustedRequester mirrors the hub's sender check: requests from
// anyone but the configured hub endpoint are dropped.
var ErrUntrustedRequester = errors.New("scout: request from untrusted requester")

const readTimeout = 20 * time.Second

// Scout answers yield requests from one trusted hub.
type Scout struct {
	source      hub.LocalYieldSource
	sender      channel.Sender
	responseFee int64
	protocolTag string
	logger      *slog.Logger

	mu        sync.RWMutex
	requester channel.Endpoint
}

// New builds a scout reading from source and responding through sender.
// protocolTag names the protocol the scout reads, reported back in every
// successful response.
func New(source hub.LocalYieldSource, sender channel.Sender, responseFee int64, protocolTag string, logger *slog.Logger) *Scout {
	return &Scout{
		source:      source,
		sender:      sender,
		responseFee: responseFee,
		protocolTag: protocolTag,
		logger:      logger,
	}
}

// SetTrustedRequester configures the only endpoint whose requests are
// answered.
func (s *Scout) SetTrustedRequester(ep channel.Endpoint) {
	s.mu.Lock()
	s.requester = ep
	s.mu.Unlock()
	s.logger.Info("trusted requester configured", "endpoint", ep.String())
}

func (s *Scout) trustedRequester() channel.Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requester
}

// OnMessage handles one inbound request. The channel has already
// authenticated the envelope; this validates the sender identity and
// answers with either a yield reading or an explicit error response.
func (s *Scout) OnMessage(src channel.Endpoint, payload []byte) error {
	trusted := s.trustedRequester()
	if trusted.IsZero() || src != trusted {
		metrics.ScoutRequestsTotal.WithLabelValues("untrusted").Inc()
		s.logger.Warn("request from untrusted requester dropped", "claimed_sender", src.String())
		return ErrUntrustedRequester
	}

	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		metrics.ScoutRequestsTotal.WithLabelValues("malformed").Inc()
		s.logger.Warn("malformed request dropped", "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	resp := &protocol.YieldResponse{
		RequestID:   req.RequestID,
		RespondedAt: time.Now().UTC(),
	}

	reading, err := s.source.Read(ctx, req.Token)
	switch {
	case errors.Is(err, hub.ErrNoSourceData):
		resp.Success = false
		resp.ErrorMessage = "no market data for token"
	case err != nil:
		resp.Success = false
		resp.ErrorMessage = "protocol read failed"
		s.logger.Error("local protocol read failed", "token", req.Token, "error", err)
	default:
		resp.Success = true
		resp.APYBps = reading.SupplyRateBps
		resp.TVL = reading.TotalSupplied
		resp.ProtocolTag = s.protocolTag
	}

	out, err := protocol.EncodeResponse(resp)
	if err != nil {
		return err
	}
	if _, err := s.sender.Send(src, out, s.responseFee); err != nil {
		metrics.ScoutRequestsTotal.WithLabelValues("send_failed").Inc()
		s.logger.Error("response send failed", "request_id", req.RequestID, "error", err)
		return err
	}

	outcome := "answered"
	if !resp.Success {
		outcome = "answered_error"
	}
	metrics.ScoutRequestsTotal.WithLabelValues(outcome).Inc()
	s.logger.Info("request answered",
		"request_id", req.RequestID, "token", req.Token,
		"success", resp.Success, "apy_bps", resp.APYBps)
	return nil
}
