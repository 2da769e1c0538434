// Package protocol defines the wire messages exchanged between the yield
// hub and a remote yield scout. Both halves of the round trip are plain
// JSON; the transport envelope (sender identity, authentication) is the
// channel package's concern.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind discriminates the two payload shapes on the wire.
type MessageKind string

const (
	KindYieldRequest  MessageKind = "yield_request"
	KindYieldResponse MessageKind = "yield_response"
)

// YieldRequest asks the remote scout for the current yield of one token.
type YieldRequest struct {
	Kind        MessageKind `json:"kind"`
	RequestID   string      `json:"request_id"`
	Token       string      `json:"token"`
	RequestedAt time.Time   `json:"requested_at"`
}

// YieldResponse carries the scout's answer. On Success=false only
// ErrorMessage is meaningful; the yield fields must be ignored.
type YieldResponse struct {
	Kind         MessageKind `json:"kind"`
	RequestID    string      `json:"request_id"`
	APYBps       int64       `json:"apy_bps"`
	TVL          int64       `json:"tvl"`
	ProtocolTag  string      `json:"protocol_tag"`
	RespondedAt  time.Time   `json:"responded_at"`
	Success      bool        `json:"success"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// EncodeRequest serializes a request payload.
func EncodeRequest(r *YieldRequest) ([]byte, error) {
	r.Kind = KindYieldRequest
	return json.Marshal(r)
}

// DecodeRequest parses and validates a request payload.
func DecodeRequest(data []byte) (*YieldRequest, error) {
	var r YieldRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if r.Kind != KindYieldRequest {
		return nil, fmt.Errorf("decode request: unexpected kind %q", r.Kind)
	}
	if r.RequestID == "" || r.Token == "" {
		return nil, fmt.Errorf("decode request: missing request_id or token")
	}
	return &r, nil
}

// EncodeResponse serializes a response payload.
func EncodeResponse(r *YieldResponse) ([]byte, error) {
	r.Kind = KindYieldResponse
	return json.Marshal(r)
}

// DecodeResponse parses and validates a response payload.
func DecodeResponse(data []byte) (*YieldResponse, error) {
	var r YieldResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if r.Kind != KindYieldResponse {
		return nil, fmt.Errorf("decode response: unexpected kind %q", r.Kind)
	}
	if r.RequestID == "" {
		return nil, fmt.Errorf("decode response: missing request_id")
	}
	return &r, nil
}
