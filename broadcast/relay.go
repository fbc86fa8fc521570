package broadcast

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	defaultRelayBuffer  = 1024
	defaultRelayTimeout = 2 * time.Second
	reconnectDelay      = time.Second
)

// RedisRelay publishes events on a redis channel so that every replica's hub
// receives them. Publish only hands the event to a background sender; the
// sender and the channel subscriber run inside Run.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *log.Logger
	timeout time.Duration

	outbox chan Event
}

// NewRedisRelay creates a relay for channel feeding hub.
func NewRedisRelay(client *redis.Client, channel string, hub *Hub, logger *log.Logger) *RedisRelay {
	if client == nil || hub == nil || logger == nil {
		panic("broadcast.NewRedisRelay: missing dependency")
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		logger:  logger,
		timeout: defaultRelayTimeout,
		outbox:  make(chan Event, defaultRelayBuffer),
	}
}

// Publish queues the event for the redis sender. When the queue is saturated
// the event is delivered to the local hub only.
func (r *RedisRelay) Publish(_ context.Context, name string, payload any) {
	ev, err := NewEvent(name, payload)
	if err != nil {
		r.logger.WithError(err).Warn("drop unencodable event")
		return
	}
	select {
	case r.outbox <- ev:
	default:
		r.logger.WithField("event", name).Warn("relay buffer saturated; delivering locally")
		r.hub.Deliver(ev)
	}
}

// Run sends queued events and relays channel messages to the hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.send(ctx)
	}()
	r.receive(ctx)
	<-done
}

func (r *RedisRelay) send(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.outbox:
			data, err := sonic.Marshal(ev)
			if err != nil {
				r.logger.WithError(err).Warn("marshal relay event")
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
			err = r.client.Publish(pubCtx, r.channel, data).Err()
			cancel()
			if err != nil {
				r.logger.WithError(err).WithField("event", ev.Name).Warn("redis publish failed; delivering locally")
				r.hub.Deliver(ev)
			}
		}
	}
}

func (r *RedisRelay) receive(ctx context.Context) {
	for {
		sub := r.client.Subscribe(ctx, r.channel)
		ch := sub.Channel()
	loop:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				var ev Event
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil || ev.Name == "" {
					r.logger.Errorf("unable to parse relayed event: %v", err)
					continue
				}
				r.hub.Deliver(ev)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}
