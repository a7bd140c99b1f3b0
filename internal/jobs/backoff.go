package jobs

// backoff is the linear idle backoff between ticks, counted in units.
//
// Work resets the interval to min; each idle tick adds one unit until max.
type backoff struct {
	min, max int
	cur      int
}

func newBackoff(min, max int) *backoff {
	b := &backoff{}
	b.setBounds(min, max)
	b.cur = b.min
	return b
}

// setBounds applies new limits and clamps the current interval into them.
func (b *backoff) setBounds(min, max int) {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	b.min, b.max = min, max
	if b.cur < min {
		b.cur = min
	}
	if b.cur > max {
		b.cur = max
	}
}

func (b *backoff) next(hadWork bool) int {
	if hadWork {
		b.cur = b.min
	} else if b.cur < b.max {
		b.cur++
	}
	return b.cur
}
