//go:build linux

package keystream

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/loopvm/kbtap/pkg/codemap"
	"github.com/loopvm/kbtap/pkg/hidkb"
)

// evdev event types (linux/input-event-codes.h).
const evKey = 1

// linuxSource joins the shared GrabbedNode for each selected device key
// and fans their raw input_event reads into a single channel, grounded on
// the teacher's own evdev read loop and struct layout. It does not open
// the device nodes itself: EVIOCGRAB delivers events only to the fd that
// grabbed the node, so the grab and the single underlying read live in
// hidkb.GrabbedNode, shared with the Host Stream Tap's own subscription to
// the same node.
type linuxSource struct {
	log     zerolog.Logger
	values  chan RawValue
	nodes   []*hidkb.GrabbedNode
	unsubs  []func()
	mu      sync.Mutex
	closing chan struct{}
	wg      sync.WaitGroup
}

func NewPlatformSource(log zerolog.Logger) Source {
	return &linuxSource{log: log, closing: make(chan struct{})}
}

func (l *linuxSource) Open(deviceKeys []string) (<-chan RawValue, error) {
	l.values = make(chan RawValue, 256)
	wanted := make(map[string]struct{}, len(deviceKeys))
	for _, k := range deviceKeys {
		wanted[k] = struct{}{}
	}

	handlers, err := hidkb.ScanLinuxInputHandlers()
	if err != nil {
		return nil, err
	}

	opened := 0
	for _, h := range handlers {
		if _, ours := wanted[h.DeviceKey()]; !ours {
			continue
		}
		node, err := hidkb.AcquireGrabbedNode(h.EventPath)
		if err != nil {
			l.log.Warn().Err(err).Str("path", h.EventPath).Msg("keystream: failed to grab evdev node, skipping")
			continue
		}
		frames, unsub := node.Subscribe(256)

		l.mu.Lock()
		l.nodes = append(l.nodes, node)
		l.unsubs = append(l.unsubs, unsub)
		l.mu.Unlock()
		opened++

		l.wg.Add(1)
		go l.readLoop(frames, h.DeviceKey())
	}
	if opened == 0 {
		return nil, hidkb.ErrSubsystemUnavailable
	}
	return l.values, nil
}

func (l *linuxSource) readLoop(frames <-chan []byte, deviceKey string) {
	defer l.wg.Done()
	for {
		var buf []byte
		select {
		case buf = <-frames:
			if buf == nil {
				return // node's read loop exited: device unplugged
			}
		case <-l.closing:
			return
		}

		evType := binary.LittleEndian.Uint16(buf[16:18])
		if evType != evKey {
			continue
		}
		code := binary.LittleEndian.Uint16(buf[18:20])
		value := int32(binary.LittleEndian.Uint32(buf[20:24]))
		if value == 2 {
			continue // autorepeat, not a transition
		}

		usage, ok := codemap.EvdevUsage(code)
		if !ok {
			continue
		}

		v := RawValue{DeviceKey: deviceKey, Usage: usage, Value: value, At: time.Now()}
		select {
		case l.values <- v:
		case <-l.closing:
			return
		}
	}
}

func (l *linuxSource) Close() error {
	close(l.closing)
	l.mu.Lock()
	for _, unsub := range l.unsubs {
		unsub()
	}
	for _, node := range l.nodes {
		node.Release()
	}
	l.nodes = nil
	l.unsubs = nil
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}
