package protocol

import (
	"testing"
	"time"
)

func TestRequestRoundTrip(t *testing.T) {
	req := &YieldRequest{
		RequestID:   "req-1",
		Token:       "0xusdc",
		RequestedAt: time.Now().UTC(),
	}
	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	got, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if got.Kind != KindYieldRequest {
		t.Errorf("Kind = %q, want %q", got.Kind, KindYieldRequest)
	}
	if got.RequestID != "req-1" || got.Token != "0xusdc" {
		t.Errorf("got %q/%q, want req-1/0xusdc", got.RequestID, got.Token)
	}
}

func TestDecodeRequestRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "not json at all"},
		{"wrong kind", `{"kind":"yield_response","request_id":"r","token":"t"}`},
		{"missing request id", `{"kind":"yield_request","token":"t"}`},
		{"missing token", `{"kind":"yield_request","request_id":"r"}`},
		{"empty object", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRequest([]byte(tt.data)); err == nil {
				t.Error("DecodeRequest() accepted invalid payload")
			}
		})
	}
}

func TestDecodeResponseRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{{"},
		{"wrong kind", `{"kind":"yield_request","request_id":"r"}`},
		{"missing request id", `{"kind":"yield_response","apy_bps":500}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeResponse([]byte(tt.data)); err == nil {
				t.Error("DecodeResponse() accepted invalid payload")
			}
		})
	}
}

func TestErrorResponseRoundTrip(t *testing.T) {
	resp := &YieldResponse{
		RequestID:    "req-2",
		Success:      false,
		ErrorMessage: "no market data for token",
	}
	data, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}

	got, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if got.Success {
		t.Error("Success = true, want false")
	}
	if got.ErrorMessage != "no market data for token" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}
}
