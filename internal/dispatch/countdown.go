package dispatch

import "time"

// countdown is the timer owned by the active alert. It is started when an
// alert is promoted and must be stopped before the next one starts.
type countdown struct {
	bookingID string
	ticker    Ticker
	remaining int
}

func startCountdown(clock Clock, bookingID string, window, interval time.Duration) *countdown {
	ticks := int(window / interval)
	if ticks < 1 {
		ticks = 1
	}
	return &countdown{
		bookingID: bookingID,
		ticker:    clock.NewTicker(interval),
		remaining: ticks,
	}
}

// C is nil once stopped, which parks the select case.
func (c *countdown) C() <-chan time.Time {
	if c == nil || c.ticker == nil {
		return nil
	}
	return c.ticker.C()
}

// tick decrements and reports whether the window is exhausted.
func (c *countdown) tick() bool {
	if c == nil || c.remaining <= 0 {
		return false
	}
	c.remaining--
	return c.remaining == 0
}

func (c *countdown) left() int {
	if c == nil {
		return 0
	}
	return c.remaining
}

func (c *countdown) stop() {
	if c == nil || c.ticker == nil {
		return
	}
	c.ticker.Stop()
	c.ticker = nil
}
