package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Event types emitted by the core for external observers and indexers.
const (
	EventSignalPosted  = "signal_posted"
	EventExecuted      = "executed"       // coordinator-side
	EventTradeExecuted = "trade_executed" // vault-side
	EventDeposited     = "deposited"
	EventRedeemed      = "redeemed"
	EventFeeAccrued    = "fee_accrued"
	EventVaultPaused   = "vault_paused"
	EventVaultUnpaused = "vault_unpaused"
	EventAuthChanged   = "auth_changed"
)

// Event is a single observable occurrence. Data values are JSON-friendly:
// addresses and hashes as hex strings, amounts as decimal strings.
type Event struct {
	Type string         `json:"type"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data"`
}

// Payload returns the JSON encoding of the event for bus transport.
func (e Event) Payload() ([]byte, error) {
	return json.Marshal(e)
}

// EventSink receives events synchronously at the point of emission. Emit must
// not fail the emitting operation: implementations log and move on.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// FanoutSink forwards each event to every registered sink in order.
type FanoutSink []EventSink

func (fs FanoutSink) Emit(ctx context.Context, ev Event) {
	for _, s := range fs {
		s.Emit(ctx, ev)
	}
}

// EventStream is the durable stream every emitted event is appended to.
const EventStream = "st:vault:events"

// EventChannel returns the pub/sub channel name for an event type, e.g.
// "ch:vault:deposited". Live observers subscribe to "ch:vault:*".
func EventChannel(eventType string) string {
	return "ch:vault:" + eventType
}

// BusSink publishes each event to the bus: pub/sub for live observers and the
// durable stream for indexers. Publish failures are swallowed per the
// EventSink contract.
type BusSink struct {
	Bus EventBus
}

func (s BusSink) Emit(ctx context.Context, ev Event) {
	payload, err := ev.Payload()
	if err != nil {
		return
	}
	_ = s.Bus.Publish(ctx, EventChannel(ev.Type), payload)
	_ = s.Bus.StreamAppend(ctx, EventStream, payload)
}

// StreamMessage is a single durable bus message with its stream position.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus is the transport for events: ephemeral pub/sub for live observers
// plus an append-only stream for indexers that replay.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
