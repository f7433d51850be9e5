//go:build linux

package hotplug

import (
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// fsnotifySource watches /dev/input for node creation and removal, the
// same signal udev produces when a keyboard is plugged or unplugged.
type fsnotifySource struct {
	log zerolog.Logger
	fsw *fsnotify.Watcher
	out chan signal
	done chan struct{}
}

func newPlatformSource(log zerolog.Logger) source {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("hotplug: fsnotify unavailable, falling back to polling")
		return newPollSource(log)
	}
	if err := fsw.Add("/dev/input"); err != nil {
		log.Warn().Err(err).Msg("hotplug: could not watch /dev/input, falling back to polling")
		fsw.Close()
		return newPollSource(log)
	}

	s := &fsnotifySource{log: log, fsw: fsw, out: make(chan signal, 8), done: make(chan struct{})}
	go s.pump()
	return s
}

func (s *fsnotifySource) pump() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case s.out <- signal{}:
			default:
			}
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("hotplug: fsnotify error")
		}
	}
}

func (s *fsnotifySource) Events() <-chan signal {
	return s.out
}

func (s *fsnotifySource) Close() error {
	close(s.done)
	return s.fsw.Close()
}
