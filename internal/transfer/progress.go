package transfer

import (
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/desertthunder/mvx/internal/events"
)

// progress throttles byte counter updates into progress events.
//
// Updates that would move the counter backwards are ignored, so a retried part never shows a regression.
type progress struct {
	mu        sync.Mutex
	phase     string
	total     int64
	last      int64
	sometimes rate.Sometimes
	report    events.Reporter
	store     func(int64)
}

func newProgress(phase string, total int64, interval time.Duration, report events.Reporter, store func(int64)) *progress {
	if report == nil {
		report = events.Discard
	}
	return &progress{
		phase:     phase,
		total:     total,
		sometimes: rate.Sometimes{Interval: interval},
		report:    report,
		store:     store,
	}
}

// set records n transferred bytes and emits an event if the interval allows.
func (p *progress) set(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n <= p.last {
		return
	}
	p.last = n
	if p.store != nil {
		p.store(n)
	}
	p.sometimes.Do(func() { p.emit(n) })
}

// finish emits the final 100% event regardless of throttling.
func (p *progress) finish(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n < p.last {
		n = p.last
	}
	p.last = n
	if p.store != nil {
		p.store(n)
	}
	if p.total <= 0 {
		p.total = n
	}
	p.report(events.Event{
		Type:        events.TypeProgress,
		Phase:       p.phase,
		Transferred: n,
		Total:       p.total,
		Percent:     100,
	})
}

func (p *progress) emit(n int64) {
	p.report(events.Event{
		Type:        events.TypeProgress,
		Phase:       p.phase,
		Transferred: n,
		Total:       p.total,
		Percent:     Percent(n, p.total),
	})
}

// countingReader reports the running byte count of everything read through it.
type countingReader struct {
	r      io.Reader
	base   int64
	n      int64
	onRead func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		c.onRead(c.base + c.n)
	}
	return n, err
}
