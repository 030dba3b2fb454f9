package timer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is a millisecond tick source. It drives every Countdown created from
// it and keeps the uptime used for ARP aging. Ticks come either from Start or
// from explicit calls to Tick, which is how tests step time.
type Clock struct {
	ms      int64
	started int32

	mu         sync.Mutex
	countdowns []*Countdown
	stop       chan struct{}
}

func NewClock() *Clock {
	return &Clock{}
}

// Start ticks the clock from a time.Ticker firing every resolution. It is a
// no-op if the clock is already running.
func (c *Clock) Start(resolution time.Duration) {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return
	}
	if resolution < time.Millisecond {
		resolution = time.Millisecond
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.stop = stop
	c.mu.Unlock()

	t := time.NewTicker(resolution)
	go func() {
		defer t.Stop()
		last := time.Now()
		for {
			select {
			case <-stop:
				return
			case now := <-t.C:
				elapsed := now.Sub(last).Truncate(time.Millisecond)
				c.Tick(elapsed.Milliseconds())
				last = last.Add(elapsed)
			}
		}
	}()
}

func (c *Clock) Stop() {
	if !atomic.CompareAndSwapInt32(&c.started, 1, 0) {
		return
	}
	c.mu.Lock()
	close(c.stop)
	c.stop = nil
	c.mu.Unlock()
}

// Tick advances the clock by ms milliseconds.
func (c *Clock) Tick(ms int64) {
	if ms <= 0 {
		return
	}
	atomic.AddInt64(&c.ms, ms)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.countdowns {
		d.tick(ms)
	}
}

func (c *Clock) Millis() int64 {
	return atomic.LoadInt64(&c.ms)
}

// Uptime in whole seconds.
func (c *Clock) Uptime() int64 {
	return c.Millis() / 1000
}

// NewCountdown returns an elapsed countdown driven by this clock.
func (c *Clock) NewCountdown() *Countdown {
	d := &Countdown{}
	c.mu.Lock()
	c.countdowns = append(c.countdowns, d)
	c.mu.Unlock()
	return d
}

// Countdown counts down to zero in clock milliseconds.
type Countdown struct {
	left int64
}

func (d *Countdown) Set(ms int64) {
	atomic.StoreInt64(&d.left, ms)
}

func (d *Countdown) Left() int64 {
	return atomic.LoadInt64(&d.left)
}

func (d *Countdown) Elapsed() bool {
	return atomic.LoadInt64(&d.left) <= 0
}

func (d *Countdown) tick(ms int64) {
	for {
		left := atomic.LoadInt64(&d.left)
		if left <= 0 {
			return
		}
		next := left - ms
		if next < 0 {
			next = 0
		}
		if atomic.CompareAndSwapInt64(&d.left, left, next) {
			return
		}
	}
}
