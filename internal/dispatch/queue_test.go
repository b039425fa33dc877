package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/protocol"
)

func TestQueuePushAndNext(t *testing.T) {
	q := NewQueue(4)
	if q.Push(protocol.Envelope{Type: protocol.TypePing}) {
		t.Fatalf("unexpected overload on empty queue")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, ok := q.Next(ctx)
	if !ok || e.Type != protocol.TypePing {
		t.Fatalf("got %+v, %v", e, ok)
	}
}

func TestQueueEvictsOldestNonMessageOnOverflow(t *testing.T) {
	q := NewQueue(2)
	q.Push(protocol.Envelope{Type: protocol.TypePing})
	q.Push(protocol.Envelope{Type: protocol.TypeMessage, Body: "one"})
	overloaded := q.Push(protocol.Envelope{Type: protocol.TypeMessage, Body: "two"})
	if overloaded {
		t.Fatalf("expected eviction of the ping frame, not overload")
	}
	ctx := context.Background()
	e1, _ := q.Next(ctx)
	e2, _ := q.Next(ctx)
	if e1.Body != "one" || e2.Body != "two" {
		t.Fatalf("expected ping evicted, got %+v then %+v", e1, e2)
	}
}

func TestQueueOverloadsWhenAllMessages(t *testing.T) {
	q := NewQueue(2)
	q.Push(protocol.Envelope{Type: protocol.TypeMessage, Body: "one"})
	q.Push(protocol.Envelope{Type: protocol.TypeMessage, Body: "two"})
	if !q.Push(protocol.Envelope{Type: protocol.TypeMessage, Body: "three"}) {
		t.Fatalf("expected overload when queue is full of Message frames")
	}
}

func TestQueueCloseUnblocksNext(t *testing.T) {
	q := NewQueue(4)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Next(context.Background())
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected Next to report closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("Next did not unblock after Close")
	}
}

func TestHubPublishRoomFansOutAndReportsOverload(t *testing.T) {
	h := NewHub()
	roomID := uuid.New()
	small := NewQueue(1)
	h.SubscribeRoom(roomID, 1, small)
	large := NewQueue(4)
	h.SubscribeRoom(roomID, 2, large)

	small.Push(protocol.Envelope{Type: protocol.TypeMessage, Body: "seed"})
	overloaded := h.PublishRoom(roomID, protocol.Envelope{Type: protocol.TypeMessage, Body: "fanout"})

	foundOverload := false
	for _, id := range overloaded {
		if id == 1 {
			foundOverload = true
		}
	}
	if !foundOverload {
		t.Fatalf("expected connection 1 to overload, got %v", overloaded)
	}

	e, ok := large.Next(context.Background())
	if !ok || e.Body != "fanout" {
		t.Fatalf("got %+v, %v", e, ok)
	}
}

func TestHubPublishUserExcludesAuthor(t *testing.T) {
	h := NewHub()
	userID := uuid.New()
	q1 := NewQueue(4)
	q2 := NewQueue(4)
	h.BindUser(userID, 10, q1)
	h.BindUser(userID, 11, q2)

	h.PublishUser(userID, protocol.Envelope{Type: protocol.TypeMessage, Body: "echo"}, map[ConnID]struct{}{10: {}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := q1.Next(ctx); ok {
		t.Fatalf("excluded connection should not have received the message")
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if e, ok := q2.Next(ctx2); !ok || e.Body != "echo" {
		t.Fatalf("got %+v, %v", e, ok)
	}
}
