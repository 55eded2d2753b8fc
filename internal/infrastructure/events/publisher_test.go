package events

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPublishFansOut(t *testing.T) {
	pub := NewPublisher(zap.NewNop())

	first := make(chan Event, 1)
	second := make(chan Event, 1)
	pub.Subscribe(SinkFunc(func(e Event) error { first <- e; return nil }))
	pub.Subscribe(SinkFunc(func(e Event) error { second <- e; return nil }))

	id := uuid.New()
	pub.Publish(Event{Type: TypeBidAccepted, AuctionID: id})

	for _, ch := range []chan Event{first, second} {
		select {
		case e := <-ch:
			assert.Equal(t, TypeBidAccepted, e.Type)
			assert.Equal(t, id, e.AuctionID)
		case <-time.After(time.Second):
			t.Fatal("sink never received the event")
		}
	}
}

func TestFailingSinkDoesNotBlockOthers(t *testing.T) {
	pub := NewPublisher(zap.NewNop())

	pub.Subscribe(SinkFunc(func(Event) error { return errors.New("broken sink") }))
	pub.Subscribe(SinkFunc(func(Event) error { panic("hostile sink") }))

	got := make(chan Event, 1)
	pub.Subscribe(SinkFunc(func(e Event) error { got <- e; return nil }))

	pub.Publish(Event{Type: TypeAuctionFinalized, AuctionID: uuid.New()})

	select {
	case e := <-got:
		assert.Equal(t, TypeAuctionFinalized, e.Type)
	case <-time.After(time.Second):
		t.Fatal("healthy sink starved by failing sinks")
	}
}

func TestPublishWithNoSinks(t *testing.T) {
	pub := NewPublisher(zap.NewNop())
	pub.Publish(Event{Type: TypePromo, AuctionID: uuid.New()})
}
