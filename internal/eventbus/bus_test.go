package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestSubscribeFilters(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(8)
	defer unsubAll()
	jobs, unsubJobs := b.Subscribe(8, "jobs.")
	defer unsubJobs()
	added, unsubAdded := b.Subscribe(8, "job.added")
	defer unsubAdded()

	b.Publish(Event{Type: "job.added", Data: 1})
	b.Publish(Event{Type: "jobs.tick", Data: 2})

	require.Equal(t, "job.added", recv(t, all).Type)
	require.Equal(t, "jobs.tick", recv(t, all).Type)

	ev := recv(t, jobs)
	require.Equal(t, "jobs.tick", ev.Type)
	require.False(t, ev.Time.IsZero())

	require.Equal(t, 1, recv(t, added).Data)
	select {
	case ev := <-added:
		t.Fatalf("unexpected event %q", ev.Type)
	default:
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "x"})
	}
	require.Equal(t, uint64(4), Dropped(b))
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: "after"})
}

func TestNopBus(t *testing.T) {
	b := Nop()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "x"})
	unsub()
	_, ok := <-ch
	require.False(t, ok)
	require.Zero(t, Dropped(b))
}
