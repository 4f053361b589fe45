package memory

import (
	"context"
	"errors"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "topic-a", map[string]string{"k": "v"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	if got := len(pub.All()); got != 2 {
		t.Fatalf("expected 2 messages, got %d", got)
	}
	msgs := pub.Messages("topic-b")
	if len(msgs) != 1 || msgs[0] != "payload" {
		t.Fatalf("unexpected topic-b messages: %+v", msgs)
	}
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("unavailable"))
	if _, err := pub.Publish(context.Background(), "t", 1); err == nil {
		t.Fatal("expected injected error")
	}
	pub.FailWith(nil)
	if _, err := pub.Publish(context.Background(), "t", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(pub.Messages("t")); got != 1 {
		t.Fatalf("expected 1 message, got %d", got)
	}
}
