package session

import (
	"fmt"
	"time"

	"github.com/petems/externalcue/internal/audio"
)

func (c *Controller) startWatchdog(p *pipeline) {
	c.watchStop = make(chan struct{})
	c.watchDone = make(chan struct{})
	go c.watch(p, c.watchStop, c.watchDone)
}

func (c *Controller) stopWatchdog() {
	if c.watchStop == nil {
		return
	}
	close(c.watchStop)
	<-c.watchDone
	c.watchStop, c.watchDone = nil, nil
}

// watch moves a running session to Degraded when a stream records a fault
// or stops receiving callbacks. It exits after the first degradation; the
// session is not restarted.
func (c *Controller) watch(p *pipeline, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.WatchInterval)
	defer ticker.Stop()

	last := make([]uint64, len(p.handlers))
	moved := make([]time.Time, len(p.handlers))
	now := time.Now()
	for i, h := range p.handlers {
		last[i] = h.Stats().Callbacks
		moved[i] = now
	}

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if f, dev := p.fault(); f != audio.NoFault {
				c.degrade(fmt.Sprintf("%s: %s", dev, f))
				return
			}
			if c.cfg.StallTimeout < 0 {
				continue
			}
			for i, h := range p.handlers {
				n := h.Stats().Callbacks
				if n != last[i] {
					last[i], moved[i] = n, now
					continue
				}
				if now.Sub(moved[i]) >= c.cfg.StallTimeout {
					c.degrade(fmt.Sprintf("%s: no callbacks for %s", p.deviceName(i), c.cfg.StallTimeout))
					return
				}
			}
		}
	}
}

// degrade moves Running to Degraded. It does not take c.mu, which Stop
// holds while waiting for the watchdog.
func (c *Controller) degrade(reason string) {
	cur := c.status.Load()
	if cur.State != Running {
		return
	}
	next := &Status{State: Degraded, Reason: reason}
	if !c.status.CompareAndSwap(cur, next) {
		return
	}
	c.log.Warn().Str("reason", reason).Msg("Session degraded")
	c.publish(*next)
}
