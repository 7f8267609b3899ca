package feed_test

import (
	"context"
	"testing"
	"time"

	"libpresence/internal/feed"
)

func TestInMemory_PublishConsume(t *testing.T) {
	q := feed.NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	want := feed.Event{
		LogID:     "abc",
		RegNo:     "231405123",
		Name:      "Asha",
		Role:      "Student",
		Direction: "entered",
		At:        time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
	}
	if err := q.Publish(ctx, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-events:
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestInMemory_PublishRespectsCancel(t *testing.T) {
	q := feed.NewInMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := q.Publish(ctx, feed.Event{}); err == nil {
		t.Error("expected context error on cancelled publish")
	}
}
