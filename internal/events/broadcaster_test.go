package events

import (
	"testing"
	"time"

	"github.com/codedesk/vfsd/pkg/models"
)

func sampleTree(name string) []*models.TreeNode {
	return []*models.TreeNode{{Key: name, Title: name}}
}

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(ch1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.Count())
	}

	b.Unsubscribe(ch2)
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Count())
	}
}

func TestBroadcasterPublish(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(sampleTree("a.txt"))

	select {
	case received := <-ch:
		if len(received.Tree) != 1 || received.Tree[0].Key != "a.txt" {
			t.Errorf("unexpected event tree: %+v", received.Tree)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcasterMultipleSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	defer b.Unsubscribe(ch1)
	defer b.Unsubscribe(ch2)

	b.Publish(sampleTree("shared.txt"))

	for i, ch := range []chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Tree[0].Key != "shared.txt" {
				t.Errorf("subscriber %d: expected shared.txt, got %s", i, received.Tree[0].Key)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestBroadcasterDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill the channel buffer (16)
	for i := 0; i < 50; i++ {
		b.Publish(sampleTree("overflow.txt"))
	}

	// Should not block or panic
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			goto done
		}
	}
done:
	if count != 16 {
		t.Errorf("expected 16 buffered events, got %d", count)
	}
}
