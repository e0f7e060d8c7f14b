package service

import "time"

// Clock supplies the current time in ticks when a request leaves it out.
type Clock interface {
	Now() int64
}

// TickClock counts ticks of a fixed length since the Unix epoch, so with a
// one hour tick a booking's duration is measured in whole hours.
type TickClock struct {
	tick time.Duration
	now  func() time.Time
}

func NewTickClock(tick time.Duration) *TickClock {
	if tick <= 0 {
		tick = time.Hour
	}
	return &TickClock{tick: tick, now: time.Now}
}

func (c *TickClock) Now() int64 {
	return c.now().UnixNano() / int64(c.tick)
}

// ClockFunc adapts a plain function to Clock.
type ClockFunc func() int64

func (f ClockFunc) Now() int64 {
	return f()
}
