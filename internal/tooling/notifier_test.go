package tooling

import "testing"

func TestChannelNotifierPreservesOrder(t *testing.T) {
	notifier := NewChannelNotifier(4)
	notifier.Notify("first")
	notifier.Notify("second")

	if got := <-notifier.Messages(); got != "first" {
		t.Fatalf("expected first message, got %q", got)
	}
	if got := <-notifier.Messages(); got != "second" {
		t.Fatalf("expected second message, got %q", got)
	}
}

func TestChannelNotifierDropsWhenFull(t *testing.T) {
	notifier := NewChannelNotifier(1)
	notifier.Notify("kept")
	notifier.Notify("dropped")

	if got := <-notifier.Messages(); got != "kept" {
		t.Fatalf("expected buffered message, got %q", got)
	}
	select {
	case extra := <-notifier.Messages():
		t.Fatalf("expected overflow to be dropped, got %q", extra)
	default:
	}
}
