package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/digiclo/apiserver/config"
	"github.com/digiclo/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback delivers published messages synchronously to the last subscriber.
type loopback struct {
	published []Message
	results   []error
}

func (l *loopback) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	l.published = append(l.published, Message{ID: channel, Data: data, Attributes: attrs})
	return channel, nil
}

func (l *loopback) Subscribe(ctx context.Context, _ string, handler Handler) error {
	for _, msg := range l.published {
		l.results = append(l.results, handler(ctx, msg))
	}
	return nil
}

func (l *loopback) Close() error { return nil }

func TestClothingCreatedRoundTrip(t *testing.T) {
	backend := &loopback{}
	q := New(backend, "clothing-created")

	event := types.ClothingCreatedEvent{ItemID: "item-1", UserID: "user-1", ImageURL: "https://cdn/x.png"}
	require.NoError(t, q.PublishClothingCreated(context.Background(), event))
	require.Len(t, backend.published, 1)
	assert.Equal(t, "clothing-created", backend.published[0].ID)
	assert.Equal(t, EventClothingCreated, backend.published[0].Attributes[attrEventType])

	var got []types.ClothingCreatedEvent
	err := q.SubscribeClothingCreated(context.Background(), func(_ context.Context, ev types.ClothingCreatedEvent) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []types.ClothingCreatedEvent{event}, got)
}

func TestSubscribeDiscardsMalformed(t *testing.T) {
	backend := &loopback{published: []Message{
		{Data: []byte("not json")},
		{Data: []byte(`{"itemId":"i"}`)},
		{Data: []byte(`{"itemId":"i","userId":"u"}`), Attributes: map[string]string{attrEventType: "outfit.deleted"}},
		{Data: []byte(`{"itemId":"i","userId":"u"}`)},
	}}
	q := New(backend, "c")

	handlerErr := errors.New("tagger down")
	calls := 0
	require.NoError(t, q.SubscribeClothingCreated(context.Background(), func(context.Context, types.ClothingCreatedEvent) error {
		calls++
		return handlerErr
	}))

	assert.Equal(t, 1, calls)
	require.Len(t, backend.results, 4)
	for _, err := range backend.results[:3] {
		assert.ErrorIs(t, err, ErrDiscard)
	}
	assert.ErrorIs(t, backend.results[3], handlerErr)
	assert.NotErrorIs(t, backend.results[3], ErrDiscard)
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	q, err := Open(context.Background(), config.MQConfig{})
	require.NoError(t, err)
	assert.Nil(t, q)

	_, err = Open(context.Background(), config.MQConfig{Driver: "kafka"})
	assert.Error(t, err)
}

func TestSubscriptionName(t *testing.T) {
	assert.Equal(t, "clothing-created-sub", subscriptionName("clothing-created", ""))
	assert.Equal(t, "clothing-created-workers", subscriptionName("clothing-created", "-workers"))
}
