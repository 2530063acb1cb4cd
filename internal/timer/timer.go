// Package timer provides the time source used by the sync engine: a
// microsecond clock that is strictly monotonic within the process, plus
// sleep and date conversion helpers.
package timer

import (
	"context"
	"sync"
	"time"
)

// Timer is the clock collaborator consumed by services. All timestamps are
// microseconds since the Unix epoch.
type Timer interface {
	// NowMicroseconds returns the current time. Successive calls always
	// return strictly increasing values.
	NowMicroseconds() int64

	// Sleep blocks for d or until ctx is cancelled, whichever comes first.
	Sleep(ctx context.Context, d time.Duration)

	// StringDateToMicroseconds parses a textual date (RFC3339, with or
	// without fractional seconds) into microseconds.
	StringDateToMicroseconds(date string) (int64, error)

	// MicrosecondsToDate converts a microsecond timestamp to UTC time.
	MicrosecondsToDate(ts int64) time.Time
}

// MonotonicTimer implements Timer over the wall clock with a latch: when two
// reads land in the same microsecond, the later one is bumped past the
// previously observed value.
type MonotonicTimer struct {
	mu   sync.Mutex
	last int64
}

func NewMonotonicTimer() *MonotonicTimer {
	return &MonotonicTimer{}
}

// now is a seam for tests.
var now = time.Now

func (t *MonotonicTimer) NowMicroseconds() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := now().UnixMicro()
	if ts <= t.last {
		ts = t.last + 1
	}
	t.last = ts
	return ts
}

func (t *MonotonicTimer) Sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// dateLayouts lists the accepted textual date formats, most specific first.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (t *MonotonicTimer) StringDateToMicroseconds(date string) (int64, error) {
	var firstErr error
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, date)
		if err == nil {
			return parsed.UnixMicro(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return 0, firstErr
}

func (t *MonotonicTimer) MicrosecondsToDate(ts int64) time.Time {
	return time.UnixMicro(ts).UTC()
}
