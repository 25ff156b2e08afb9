package bus

import (
	"context"
	"testing"
)

func TestMessageBus_PublishInboundDropsWhenBufferFull(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	for i := 0; i < cap(mb.inbound); i++ {
		mb.PublishInbound(InboundMessage{Channel: "test", SenderID: "u", ChatID: "c", Content: "msg"})
	}

	mb.PublishInbound(InboundMessage{Channel: "test", SenderID: "u", ChatID: "c", Content: "overflow"})
	if mb.DroppedInbound() != 1 {
		t.Fatalf("expected dropped inbound count 1, got %d", mb.DroppedInbound())
	}
}

func TestMessageBus_PublishOutboundDropsWhenBufferFull(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	for i := 0; i < cap(mb.outbound); i++ {
		mb.PublishOutbound(OutboundMessage{Channel: "test", ChatID: "c", Content: "msg"})
	}

	mb.PublishOutbound(OutboundMessage{Channel: "test", ChatID: "c", Content: "overflow"})
	if mb.DroppedOutbound() != 1 {
		t.Fatalf("expected dropped outbound count 1, got %d", mb.DroppedOutbound())
	}
}

func TestMessageBus_InboundPreservesFIFOOrder(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	mb.PublishInbound(InboundMessage{Channel: "cli", ChatID: "c", Content: "first"})
	mb.PublishInbound(InboundMessage{Channel: "cli", ChatID: "c", Content: "second"})
	mb.PublishInbound(InboundMessage{Channel: "cli", ChatID: "c", Content: "third"})

	for _, want := range []string{"first", "second", "third"} {
		msg, ok := mb.ConsumeInbound(context.Background())
		if !ok {
			t.Fatalf("expected message %q, got closed bus", want)
		}
		if msg.Content != want {
			t.Fatalf("expected %q, got %q", want, msg.Content)
		}
	}
}

func TestMessageBus_ToolEventsDropWithoutObserver(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	for i := 0; i < cap(mb.toolEvents)+1; i++ {
		mb.PublishToolEvent(ToolEvent{SessionKey: "cli:c", ToolName: "echo", Status: "started"})
	}
	if mb.DroppedToolEvents() != 1 {
		t.Fatalf("expected dropped tool event count 1, got %d", mb.DroppedToolEvents())
	}

	ev, ok := mb.SubscribeToolEvents(context.Background())
	if !ok {
		t.Fatalf("expected buffered tool event")
	}
	if ev.ToolName != "echo" {
		t.Fatalf("expected tool name echo, got %q", ev.ToolName)
	}
}

func TestMessageBus_ClosedChannelsReturnFalse(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	if _, ok := mb.ConsumeInbound(context.Background()); ok {
		t.Fatalf("expected closed inbound consume to return ok=false")
	}
	if _, ok := mb.SubscribeOutbound(context.Background()); ok {
		t.Fatalf("expected closed outbound subscribe to return ok=false")
	}
	if _, ok := mb.SubscribeToolEvents(context.Background()); ok {
		t.Fatalf("expected closed tool event subscribe to return ok=false")
	}
}
