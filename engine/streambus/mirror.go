package streambus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Redis key prefixes for the per-execution event mirror. The stream
// holds a capped replay buffer; the channel carries live fanout.
const (
	StreamKeyPrefix  = "execution:stream:"
	ChannelKeyPrefix = "execution:events:"
)

// StreamKey returns the Redis stream name for an execution
func StreamKey(executionID string) string {
	return StreamKeyPrefix + executionID
}

// ChannelKey returns the Redis pubsub channel name for an execution
func ChannelKey(executionID string) string {
	return ChannelKeyPrefix + executionID
}

// StreamPublisher is the Redis surface the mirror needs. Satisfied by
// the shared redis client.
type StreamPublisher interface {
	AddToStream(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error)
	PublishEvent(ctx context.Context, channel string, message string) error
}

// MirrorLogger is the logging surface the mirror needs
type MirrorLogger interface {
	Warn(msg string, args ...any)
}

// Mirror forwards one execution's events to Redis so out-of-process
// consumers can follow along: a capped stream for replay and a pubsub
// channel for live fanout. Redis trouble is logged and swallowed; the
// execution never notices.
type Mirror struct {
	bus    *Bus
	pub    StreamPublisher
	maxLen int64
	log    MirrorLogger
}

// NewMirror creates a mirror over the bus
func NewMirror(bus *Bus, pub StreamPublisher, maxLen int64, log MirrorLogger) *Mirror {
	return &Mirror{
		bus:    bus,
		pub:    pub,
		maxLen: maxLen,
		log:    log,
	}
}

// Run subscribes to an execution and forwards every event until the
// stream closes or the context ends. Intended to run in its own
// goroutine, started before the execution begins.
func (m *Mirror) Run(ctx context.Context, executionID string) {
	m.Forward(ctx, m.bus.Subscribe(executionID))
}

// Forward drains an existing subscription into Redis. Callers that
// must not miss the first events subscribe synchronously and hand the
// subscription here from a goroutine.
func (m *Mirror) Forward(ctx context.Context, sub *Subscription) {
	defer sub.Close()

	stream := StreamKey(sub.ExecutionID())
	channel := ChannelKey(sub.ExecutionID())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			m.forward(ctx, stream, channel, ev)
		}
	}
}

func (m *Mirror) forward(ctx context.Context, stream, channel string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		m.warn("failed to marshal event", ev, err)
		return
	}

	values := map[string]interface{}{
		"type":  string(ev.Type),
		"event": string(data),
	}
	if _, err := m.pub.AddToStream(ctx, stream, m.maxLen, values); err != nil {
		m.warn("failed to append event to stream", ev, err)
	}
	if err := m.pub.PublishEvent(ctx, channel, string(data)); err != nil {
		m.warn("failed to publish event", ev, err)
	}
}

func (m *Mirror) warn(msg string, ev Event, err error) {
	if m.log == nil {
		return
	}
	m.log.Warn(msg,
		"execution_id", ev.ExecutionID,
		"event_type", string(ev.Type),
		"error", fmt.Sprintf("%v", err))
}
