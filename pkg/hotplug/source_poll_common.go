package hotplug

import (
	"time"

	"github.com/rs/zerolog"
)

// pollSource stands in for the platform notification transport (IOKit
// notification ports on Darwin, WM_DEVICECHANGE on Windows) on the two
// platforms where this component doesn't wire the native mechanism, and
// as Linux's fallback if fsnotify can't watch /dev/input: it simply
// ticks, and handleChange's own Refresh+diff does the real work.
type pollSource struct {
	ticker *time.Ticker
	out    chan signal
	done   chan struct{}
}

func newPollSource(log zerolog.Logger) *pollSource {
	s := &pollSource{
		ticker: time.NewTicker(pollInterval),
		out:    make(chan signal, 1),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *pollSource) pump() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C:
			select {
			case s.out <- signal{}:
			default:
			}
		}
	}
}

func (s *pollSource) Events() <-chan signal {
	return s.out
}

func (s *pollSource) Close() error {
	close(s.done)
	s.ticker.Stop()
	return nil
}
