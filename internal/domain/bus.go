package domain

import (
	"context"
)

// EventBus carries decision and rule-change events between components
// and, with NATS, between nodes.
type EventBus interface {
	// Publish is fire-and-forget: delivery to slow or absent subscribers
	// is not awaited.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe calls handler for every message on topic until the
	// subscription is cancelled. Handlers receive ctx.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler handles one delivered message. A returned error is
// logged by the bus; the message is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope around an event payload. Metadata carries the
// publisher's trace id under "trace_id".
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is a live handler registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the event bus.
type EventBusConfig struct {
	Type string `json:"type"` // channel, nats

	// Per-subscriber queue length of the in-process bus
	ChannelBufferSize int `json:"channelBufferSize"`

	// NATS connection; the token is read from the environment only
	NATSUrl           string `json:"natsUrl"`
	NATSToken         string `json:"-"`
	NATSMaxReconnects int    `json:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait"` // seconds

	// ConsumeTransactions makes this node evaluate transactions
	// submitted on TopicTransactionSubmitted.
	ConsumeTransactions bool `json:"consumeTransactions"`
}

// Topic names published by the service.
const (
	TopicTransactionEvaluated = "fraudguard.transaction.evaluated"
	TopicTransactionDeclined  = "fraudguard.transaction.declined"
	TopicRulesChanged         = "fraudguard.rules.changed"

	// TopicTransactionSubmitted carries a TransactionRequest for
	// asynchronous evaluation by a worker.
	TopicTransactionSubmitted = "fraudguard.transaction.submitted"
)

// RulesChangedEvent is the payload of TopicRulesChanged.
type RulesChangedEvent struct {
	RuleID string `json:"ruleId"`
	Action string `json:"action"` // created, updated, disabled, reload
}
