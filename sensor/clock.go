package sensor

import "time"

// UptimeClock counts seconds since it was created, on the monotonic clock.
type UptimeClock struct {
	start time.Time
}

func NewUptimeClock() *UptimeClock {
	return &UptimeClock{start: time.Now()}
}

func (c *UptimeClock) UptimeSeconds() uint64 {
	return uint64(time.Since(c.start) / time.Second)
}

func (c *UptimeClock) Uptime() time.Duration {
	return time.Since(c.start)
}
