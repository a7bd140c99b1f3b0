package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitJoinsGoroutines(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go0("loop", func(ctx context.Context) { <-ctx.Done() })

	require.Equal(t, uint64(1), s.Counters().Started)
	require.NoError(t, s.Stop(context.Background()))
	require.Zero(t, s.Counters().Active)

	snap := s.Snapshot()
	require.Len(t, snap.Goroutines, 1)
	require.Equal(t, "loop", snap.Goroutines[0].Name)
	require.Zero(t, snap.Goroutines[0].Active)
}

func TestWaitTimesOut(t *testing.T) {
	release := make(chan struct{})
	s := NewSupervisor(context.Background())
	s.Go0("stuck", func(context.Context) { <-release })
	s.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, s.Wait(context.Background()))
}

func TestPanicRecoveredAndHooked(t *testing.T) {
	type report struct {
		name  string
		p     any
		stack string
	}
	got := make(chan report, 1)
	s := NewSupervisor(context.Background(), WithPanicHook(func(name string, p any, stack string) {
		got <- report{name, p, stack}
	}))
	s.Go0("boom", func(context.Context) { panic("kaboom") })

	r := <-got
	require.Equal(t, "boom", r.name)
	require.Equal(t, "kaboom", r.p)
	require.Contains(t, r.stack, "supervisor_test.go")

	err := s.Wait(context.Background())
	require.ErrorContains(t, err, "panic in boom")

	snap := s.Snapshot()
	require.Equal(t, uint64(1), snap.Goroutines[0].Panics)
	require.Equal(t, "kaboom", snap.Goroutines[0].LastPanic)
	require.NotEmpty(t, snap.FirstError)
}

func TestCancelOnError(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(context.Context) error { return errors.New("nope") })
	s.Go0("waits", func(ctx context.Context) { <-ctx.Done() })

	err := s.Wait(context.Background())
	require.ErrorContains(t, err, "fails: nope")
	require.Error(t, s.Context().Err())
}

func TestContextCanceledIsNotAnError(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go("quits", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, s.Stop(context.Background()))
}

func TestNilSupervisorSnapshot(t *testing.T) {
	var s *Supervisor
	require.Empty(t, s.Snapshot().Goroutines)
	require.Zero(t, s.Counters().Started)
}
