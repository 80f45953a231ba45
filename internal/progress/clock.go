package progress

import "time"

// Clock abstracts wall time and interval tickers so timers can be driven
// deterministically.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker used by the tracker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }

// stopwatch accrues wall time between samples while running. Elapsed time
// is always measured as now - last, so a delayed or throttled tick never
// undercounts.
//
// A stopwatch is not safe for concurrent use; the owning Tracker guards it.
type stopwatch struct {
	running bool
	last    time.Time
	gen     uint64
	ticker  Ticker
	quit    chan struct{}
}

// start begins a new run. Any ticker from a previous run is released first,
// so a stopwatch never has two tickers alive.
func (s *stopwatch) start(c Clock, now time.Time, interval time.Duration, onTick func(gen uint64)) {
	s.release()
	s.gen++
	s.running = true
	s.last = now
	s.ticker = c.NewTicker(interval)
	s.quit = make(chan struct{})
	go tickLoop(s.ticker, s.quit, s.gen, onTick)
}

// sample returns the time accrued since the previous sample.
func (s *stopwatch) sample(now time.Time) time.Duration {
	if !s.running {
		return 0
	}
	d := now.Sub(s.last)
	if d < 0 {
		d = 0
	}
	s.last = now
	return d
}

// halt stops the run and returns the final accrued slice.
func (s *stopwatch) halt(now time.Time) time.Duration {
	d := s.sample(now)
	s.running = false
	s.release()
	return d
}

func (s *stopwatch) release() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.quit)
	s.ticker = nil
	s.quit = nil
}

// tickLoop forwards ticks until quit is closed. The generation lets the
// callback discard a tick that raced with a stop.
func tickLoop(tk Ticker, quit <-chan struct{}, gen uint64, onTick func(gen uint64)) {
	for {
		select {
		case <-quit:
			return
		case <-tk.C():
			onTick(gen)
		}
	}
}
