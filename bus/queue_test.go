package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCloseReleasesBlockedConsumers(t *testing.T) {
	b := NewMessageBus(1)

	errs := make(chan error, 2)
	go func() {
		_, err := b.ConsumeInbound(context.Background())
		errs <- err
	}()
	go func() {
		_, err := b.ConsumeOutbound(context.Background())
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = b.Close()
	_ = b.Close()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrBusClosed) {
				t.Fatalf("blocked consumer got %v, want ErrBusClosed", err)
			}
		case <-time.After(300 * time.Millisecond):
			t.Fatalf("blocked consumer not released by Close")
		}
	}
	if !b.IsClosed() {
		t.Fatalf("IsClosed() = false after Close")
	}
}

func TestPublishInboundStampsMessage(t *testing.T) {
	b := NewMessageBus(2)
	defer func() { _ = b.Close() }()

	at := time.Unix(1700000000, 0)
	kept := &InboundMessage{ID: "m1", Timestamp: at, Content: "/read_feed 10001"}
	fresh := &InboundMessage{Content: "/send_feed"}
	for _, msg := range []*InboundMessage{kept, fresh} {
		if err := b.PublishInbound(context.Background(), msg); err != nil {
			t.Fatalf("PublishInbound() failed: %v", err)
		}
	}
	if kept.ID != "m1" || !kept.Timestamp.Equal(at) {
		t.Fatalf("existing id/timestamp overwritten: %+v", kept)
	}
	if fresh.ID == "" || fresh.Timestamp.IsZero() {
		t.Fatalf("missing id/timestamp not filled: %+v", fresh)
	}
	if in, out := b.Pending(); in != 2 || out != 0 {
		t.Fatalf("Pending() = %d, %d; want 2, 0", in, out)
	}

	got, err := b.ConsumeInbound(context.Background())
	if err != nil || got != kept {
		t.Fatalf("ConsumeInbound() = %+v, %v; want first message", got, err)
	}
}

func TestPublishRejectsNilAndClosed(t *testing.T) {
	b := NewMessageBus(1)
	if err := b.PublishInbound(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil inbound message")
	}
	if err := b.PublishOutbound(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil outbound message")
	}

	_ = b.Close()
	if err := b.PublishOutbound(context.Background(), &OutboundMessage{}); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("PublishOutbound() after close = %v, want ErrBusClosed", err)
	}
	if _, err := b.ConsumeOutbound(context.Background()); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("ConsumeOutbound() after close = %v, want ErrBusClosed", err)
	}
}

func TestPublishWaitsForRoomUntilContextEnds(t *testing.T) {
	b := NewMessageBus(1)
	defer func() { _ = b.Close() }()

	if err := b.PublishOutbound(context.Background(), &OutboundMessage{Content: "1"}); err != nil {
		t.Fatalf("PublishOutbound() failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.PublishOutbound(ctx, &OutboundMessage{Content: "2"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("PublishOutbound() on full queue = %v, want deadline exceeded", err)
	}

	got, err := b.ConsumeOutbound(context.Background())
	if err != nil || got.Content != "1" {
		t.Fatalf("ConsumeOutbound() = %+v, %v", got, err)
	}
}
