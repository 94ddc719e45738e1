package clock

import "time"

// Clock measures the time between ticks. The source is injectable so tests
// drive time explicitly.
type Clock struct {
	now   func() time.Time
	last  time.Time
	dt    time.Duration
	ticks uint64
}

func New(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, last: now()}
}

// Tick advances the clock and returns the current time.
func (c *Clock) Tick() time.Time {
	t := c.now()
	c.dt = t.Sub(c.last)
	if c.dt < 0 {
		c.dt = 0
	}
	c.last = t
	c.ticks++
	return t
}

// DT is the time elapsed between the last two ticks.
func (c *Clock) DT() time.Duration { return c.dt }
func (c *Clock) Now() time.Time    { return c.last }
func (c *Clock) Ticks() uint64     { return c.ticks }

// Manual is a time source that only moves when told to.
type Manual struct {
	T time.Time
}

func (m *Manual) Now() time.Time          { return m.T }
func (m *Manual) Advance(d time.Duration) { m.T = m.T.Add(d) }
