// Package mq carries domain events between the API server and the worker over
// RabbitMQ or Google Cloud Pub/Sub.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/digiclo/apiserver/config"
	"github.com/digiclo/apiserver/types"
)

// ErrDiscard marks a message that can never be processed. Handlers wrap it to
// have the message dropped instead of redelivered.
var ErrDiscard = errors.New("discard message")

const (
	attrEventType = "event-type"

	// EventClothingCreated is published after a clothing item is persisted.
	EventClothingCreated = "clothing.created"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to nack for redelivery, or one
// wrapping ErrDiscard to drop it.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker operations the app needs.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ binds a backend to the channel clothing events travel on.
type MQ struct {
	backend        Backend
	taggingChannel string
}

// New constructs an MQ for the provided backend.
func New(backend Backend, taggingChannel string) *MQ {
	return &MQ{backend: backend, taggingChannel: taggingChannel}
}

// Open connects to the broker selected by cfg.Driver. It returns nil and no
// error when events are disabled.
func Open(ctx context.Context, cfg config.MQConfig) (*MQ, error) {
	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(cfg.Driver) {
	case "":
		return nil, nil
	case config.DriverRabbitMQ:
		backend, err = NewRabbitMQClient(cfg.RabbitMQ)
	case config.DriverPubSub:
		backend, err = NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unsupported mq driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return New(backend, cfg.TaggingChannel), nil
}

// PublishClothingCreated announces a new item so it can be auto-tagged.
func (m *MQ) PublishClothingCreated(ctx context.Context, event types.ClothingCreatedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = m.backend.Publish(ctx, m.taggingChannel, data, map[string]string{attrEventType: EventClothingCreated})
	return err
}

// SubscribeClothingCreated blocks delivering clothing events to handle until
// ctx is cancelled. Undecodable messages are discarded.
func (m *MQ) SubscribeClothingCreated(ctx context.Context, handle func(context.Context, types.ClothingCreatedEvent) error) error {
	return m.backend.Subscribe(ctx, m.taggingChannel, func(ctx context.Context, msg Message) error {
		if kind := msg.Attributes[attrEventType]; kind != "" && kind != EventClothingCreated {
			return fmt.Errorf("%w: unexpected event type %q", ErrDiscard, kind)
		}
		var event types.ClothingCreatedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return fmt.Errorf("%w: %w", ErrDiscard, err)
		}
		if event.ItemID == "" || event.UserID == "" {
			return fmt.Errorf("%w: event without item or owner", ErrDiscard)
		}
		return handle(ctx, event)
	})
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}
