// Package channel implements the authenticated message transport between
// the yield hub and a remote scout. Each party is addressed by a
// (chain, address) endpoint and owns an inbox; envelopes are signed with
// an HMAC over a shared key so a receiver can verify who sent a message
// before handing it to application code.
package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientFee is returned by Send when the supplied fee is
	// below the channel's configured rate. Nothing is written.
	ErrInsufficientFee = errors.New("channel: insufficient fee")

	// ErrBadSignature is returned when an envelope's HMAC does not match
	// its content.
	ErrBadSignature = errors.New("channel: bad envelope signature")
)

// Endpoint identifies one party on the channel.
type Endpoint struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

func (e Endpoint) String() string { return e.Chain + ":" + e.Address }

// IsZero reports whether the endpoint is unconfigured.
func (e Endpoint) IsZero() bool { return e.Chain == "" && e.Address == "" }

// Envelope is the transport frame around an application payload. The
// signature covers sender, destination, payload and send time, so an
// envelope cannot be re-addressed or have its claimed sender swapped.
type Envelope struct {
	MessageID   string    `json:"message_id"`
	Sender      Endpoint  `json:"sender"`
	Destination Endpoint  `json:"destination"`
	Payload     []byte    `json:"payload"`
	SentAt      time.Time `json:"sent_at"`
	Signature   string    `json:"signature"`
}

// Sender is the outbound half of the channel.
type Sender interface {
	// Send delivers payload to dest, charging fee. It returns the
	// transport message ID. Send blocks until the message is accepted by
	// the transport or fails; it never waits for any reply.
	Send(dest Endpoint, payload []byte, fee int64) (string, error)
}

// Handler consumes inbound messages. The transport has already verified
// the envelope signature; src is the authenticated sender.
type Handler func(src Endpoint, payload []byte)

func signEnvelope(key []byte, env *Envelope) string {
	mac := hmac.New(sha256.New, key)
	writeSigned(mac, env)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyEnvelope(key []byte, env *Envelope) bool {
	mac := hmac.New(sha256.New, key)
	writeSigned(mac, env)
	want := mac.Sum(nil)
	got, err := hex.DecodeString(env.Signature)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

func writeSigned(mac interface{ Write(p []byte) (int, error) }, env *Envelope) {
	_, _ = mac.Write([]byte(env.MessageID))
	_, _ = mac.Write([]byte(env.Sender.String()))
	_, _ = mac.Write([]byte(env.Destination.String()))
	_, _ = mac.Write(env.Payload)
	_, _ = mac.Write([]byte(env.SentAt.UTC().Format(time.RFC3339Nano)))
}

func marshalEnvelope(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

func unmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, nil
}
