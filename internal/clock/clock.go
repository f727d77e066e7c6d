package clock

import "time"

// Clock abstracts wall time so date-range checks and load timestamps can be
// pinned in tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
