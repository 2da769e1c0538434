package channel

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	streamPrefix = "yieldhub:inbox:"
	readBlock    = 5 * time.Second
	maxStreamLen = 10_000
)

// RedisChannel is a Sender/receiver pair backed by Redis Streams. Every
// endpoint owns one stream; sending appends a signed envelope to the
// destination's stream, receiving tails the local endpoint's stream.
// Streams give at-least-once delivery with no ordering promise across
// producers, which matches the channel contract.
type RedisChannel struct {
	rdb        *redis.Client
	self       Endpoint
	signingKey []byte
	requiredFee int64
	logger     *slog.Logger
}

// NewRedis connects to Redis and returns a channel bound to self.
func NewRedis(redisURL, password string, self Endpoint, signingKey []byte, requiredFee int64, logger *slog.Logger) (*RedisChannel, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisChannel{
		rdb:         rdb,
		self:        self,
		signingKey:  signingKey,
		requiredFee: requiredFee,
		logger:      logger,
	}, nil
}

// Close shuts down the Redis connection.
func (c *RedisChannel) Close() error { return c.rdb.Close() }

// Self returns the endpoint this channel is bound to.
func (c *RedisChannel) Self() Endpoint { return c.self }

// Send signs an envelope and appends it to the destination's inbox
// stream. The fee is checked before anything is written.
func (c *RedisChannel) Send(dest Endpoint, payload []byte, fee int64) (string, error) {
	if fee < c.requiredFee {
		return "", ErrInsufficientFee
	}

	env := &Envelope{
		MessageID:   uuid.NewString(),
		Sender:      c.self,
		Destination: dest,
		Payload:     payload,
		SentAt:      time.Now().UTC(),
	}
	env.Signature = signEnvelope(c.signingKey, env)

	data, err := marshalEnvelope(env)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamPrefix + dest.String(),
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{"envelope": data},
	}).Err()
	if err != nil {
		return "", err
	}
	return env.MessageID, nil
}

// Run tails the local inbox stream and dispatches verified envelopes to
// handle until ctx is cancelled. Envelopes that fail signature
// verification or are addressed elsewhere are dropped here; everything
// else is the application's problem.
func (c *RedisChannel) Run(ctx context.Context, handle Handler) {
	stream := streamPrefix + c.self.String()
	lastID := "$"

	c.logger.Info("channel receiver started", "endpoint", c.self.String())
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := c.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Block:   readBlock,
			Count:   32,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			c.logger.Error("channel read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				lastID = msg.ID
				raw, ok := msg.Values["envelope"].(string)
				if !ok {
					c.logger.Warn("channel entry missing envelope", "id", msg.ID)
					continue
				}
				env, err := unmarshalEnvelope([]byte(raw))
				if err != nil {
					c.logger.Warn("channel entry undecodable", "id", msg.ID, "error", err)
					continue
				}
				if !verifyEnvelope(c.signingKey, env) {
					c.logger.Warn("channel envelope failed verification", "id", msg.ID, "claimed_sender", env.Sender.String())
					continue
				}
				if env.Destination != c.self {
					continue
				}
				handle(env.Sender, env.Payload)
			}
		}
	}
}
