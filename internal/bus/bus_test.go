package bus

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	received := make(chan *domain.Message, 1)
	_, err := b.Subscribe(ctx, "tenant-1", domain.TopicOfferDecided, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := b.Publish(ctx, "tenant-1", domain.TopicOfferDecided, []byte(`{"decisionId":"dec-1"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.TenantID != "tenant-1" {
			t.Errorf("tenant = %q, want tenant-1", msg.TenantID)
		}
		if msg.Topic != domain.TopicOfferDecided {
			t.Errorf("topic = %q, want %q", msg.Topic, domain.TopicOfferDecided)
		}
		if string(msg.Payload) != `{"decisionId":"dec-1"}` {
			t.Errorf("payload = %q", msg.Payload)
		}
		if msg.ID == "" {
			t.Error("message id not set")
		}
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}
}

func TestChannelBusTenantIsolation(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	_, err := b.Subscribe(ctx, "tenant-1", domain.TopicRecordsIngested, func(ctx context.Context, msg *domain.Message) error {
		mu.Lock()
		got = append(got, msg.TenantID)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// A different tenant's publish must not reach this subscriber.
	if err := b.Publish(ctx, "tenant-2", domain.TopicRecordsIngested, []byte("x")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := b.Publish(ctx, "tenant-1", domain.TopicRecordsIngested, []byte("y")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("message never delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "tenant-1" {
		t.Errorf("received %v, want exactly one tenant-1 message", got)
	}
}

func TestChannelBusUnsubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	received := make(chan struct{}, 10)
	sub, err := b.Subscribe(ctx, "tenant-1", domain.TopicOfferRequested, func(ctx context.Context, msg *domain.Message) error {
		received <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if sub.Topic() != domain.TopicOfferRequested {
		t.Errorf("Topic() = %q", sub.Topic())
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	if err := b.Publish(ctx, "tenant-1", domain.TopicOfferRequested, []byte("x")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-received:
		t.Error("handler ran after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannelBusClosed(t *testing.T) {
	b := NewChannelBus(10)
	ctx := context.Background()

	if err := b.Ping(ctx); err != nil {
		t.Errorf("Ping on open bus failed: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := b.Publish(ctx, "tenant-1", "topic", nil); err == nil {
		t.Error("expected publish error on closed bus")
	}
	if _, err := b.Subscribe(ctx, "tenant-1", "topic", nil); err == nil {
		t.Error("expected subscribe error on closed bus")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("expected ping error on closed bus")
	}
	// Second close is a no-op.
	if err := b.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestChannelBusRequiresTenantID(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	if err := b.Publish(ctx, "", "topic", nil); err == nil {
		t.Error("expected error for empty tenantID")
	}
	if _, err := b.Subscribe(ctx, "", "topic", nil); err == nil {
		t.Error("expected error for empty tenantID")
	}
}

func TestNewBusFactory(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
	if err != nil {
		t.Fatalf("New(channel) failed: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("New(channel) = %T, want *ChannelBus", b)
	}

	if _, err := New(domain.EventBusConfig{Type: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}

func TestBrokerSubjectNamespacing(t *testing.T) {
	natsBus := &NATSBus{}
	amqpBus := &AMQPBus{}

	want := "kestrel.tenant-1.offer.decided"
	if got := natsBus.makeSubject("tenant-1", domain.TopicOfferDecided); got != want {
		t.Errorf("NATS subject = %q, want %q", got, want)
	}
	if got := amqpBus.makeRoutingKey("tenant-1", domain.TopicOfferDecided); got != want {
		t.Errorf("AMQP routing key = %q, want %q", got, want)
	}

	// Exactly one namespace segment, even though the buses prepend one.
	if strings.Count(natsBus.makeSubject("tenant-1", domain.TopicRecordsIngested), "kestrel.") != 1 {
		t.Error("NATS subject carries a duplicated namespace")
	}
	if strings.Count(amqpBus.makeRoutingKey("tenant-1", domain.TopicRecordsIngested), "kestrel.") != 1 {
		t.Error("AMQP routing key carries a duplicated namespace")
	}
}

func TestAMQPUnsubscribeRemovesBookkeeping(t *testing.T) {
	b := &AMQPBus{subscriptions: make(map[string]*amqpSubscription)}

	_, cancel := context.WithCancel(context.Background())
	sub := &amqpSubscription{
		id:     "sub-1",
		topic:  domain.TopicOfferDecided,
		cancel: cancel,
		bus:    b,
	}
	b.subscriptions[sub.id] = sub

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if len(b.subscriptions) != 0 {
		t.Errorf("subscription still tracked after Unsubscribe: %d left", len(b.subscriptions))
	}
}
