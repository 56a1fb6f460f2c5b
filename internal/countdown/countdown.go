package countdown

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// warnAt is the remaining-seconds threshold at which the timer switches to
// its warning presentation.
const warnAt = 300

// Countdown ticks a server-supplied remaining-time value down once per
// second. The seed value is authoritative: nothing adjusts it except the
// tick itself. The owner is responsible for keeping a single instance
// alive — Stop the old one before starting a new one.
type Countdown struct {
	clock  clockwork.Clock
	log    *zap.Logger
	render func(display string, warning bool)
	expire func()

	stopOnce sync.Once
	stop     chan struct{}
}

// Start begins ticking immediately in its own goroutine. render is called
// once per second with the MM:SS display; expire fires exactly once when
// the counter crosses zero, after which the countdown stops itself.
func Start(clock clockwork.Clock, seconds int, render func(string, bool), expire func(), log *zap.Logger) *Countdown {
	c := &Countdown{
		clock:  clock,
		log:    log,
		render: render,
		expire: expire,
		stop:   make(chan struct{}),
	}
	go c.loop(seconds)
	return c
}

// Stop cancels the countdown. Safe to call more than once, and safe to
// call on a countdown that already expired.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Countdown) loop(remaining int) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			if remaining <= 0 {
				c.log.Info("countdown expired")
				c.expire()
				return
			}
			c.render(Format(remaining), remaining <= warnAt)
			remaining--
		}
	}
}

// Format renders remaining seconds as MM:SS.
func Format(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
