package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffIdleRampAndCeiling(t *testing.T) {
	t.Parallel()

	b := newBackoff(1, 15)
	var got []int
	for i := 0; i < 20; i++ {
		got = append(got, b.next(false))
	}
	want := []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 15, 15, 15, 15, 15, 15}
	require.Equal(t, want, got)
}

func TestBackoffWorkResetsToFloor(t *testing.T) {
	t.Parallel()

	b := newBackoff(1, 15)
	for i := 0; i < 7; i++ {
		b.next(false)
	}
	require.Equal(t, 8, b.cur)

	assert.Equal(t, 1, b.next(true))
	assert.Equal(t, 2, b.next(false))
	assert.Equal(t, 1, b.next(true))
	assert.Equal(t, 1, b.next(true))
}

func TestBackoffNeverLeavesBounds(t *testing.T) {
	t.Parallel()

	b := newBackoff(3, 5)
	pattern := []bool{false, false, false, false, true, false, true, true, false, false, false}
	for _, work := range pattern {
		v := b.next(work)
		require.GreaterOrEqual(t, v, 3)
		require.LessOrEqual(t, v, 5)
	}
}

func TestBackoffSetBoundsClamps(t *testing.T) {
	t.Parallel()

	b := newBackoff(1, 15)
	for i := 0; i < 10; i++ {
		b.next(false)
	}
	require.Equal(t, 11, b.cur)

	b.setBounds(2, 4)
	assert.Equal(t, 4, b.cur)
	assert.Equal(t, 4, b.next(false))
	assert.Equal(t, 2, b.next(true))

	b.setBounds(0, -1)
	assert.Equal(t, 1, b.min)
	assert.Equal(t, 1, b.max)
	assert.Equal(t, 1, b.next(false))
}
