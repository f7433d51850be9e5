//go:build linux

package hosttap

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rs/zerolog"

	"github.com/loopvm/kbtap/pkg/codemap"
	"github.com/loopvm/kbtap/pkg/correlator"
	"github.com/loopvm/kbtap/pkg/hidkb"
)

const (
	uinputMaxNameSize = 80
	uiDevCreate       = 0x5501
	uiDevDestroy      = 0x5502
	uiSetEvbit        = 0x40045564
	uiSetKeybit       = 0x40045565
)

type inputID struct {
	busType, vendor, product, version uint16
}

type uinputUserDev struct {
	name       [uinputMaxNameSize]byte
	id         inputID
	ffEffectsMax uint32
	absmax     [64]int32
	absmin     [64]int32
	absfuzz    [64]int32
	absflat    [64]int32
}

// linuxTap joins the shared GrabbedNode for each selected keyboard's evdev
// nodes (so the kernel never delivers their raw events to anything else)
// and re-injects the events the Correlator passes through a uinput virtual
// keyboard, since a grabbed node's own events are consumed at the kernel
// and will not otherwise reach window systems, ttys or other evdev
// readers. It does not open or grab the nodes itself: the Device Stream
// may already hold a subscription to the same node, and EVIOCGRAB routes
// events only to the fd that grabbed it, so the grab and the single
// underlying read live in hidkb.GrabbedNode, shared between the two.
type linuxTap struct {
	base
	deviceKeys map[string]struct{}

	mu     sync.Mutex
	nodes  []*hidkb.GrabbedNode
	unsubs []func()
	uinput *os.File
	stop   chan struct{}
	wg     sync.WaitGroup
}

func newPlatformTap(log zerolog.Logger, table *codemap.Table, state *correlator.State, deviceKeys []string) Tap {
	keys := make(map[string]struct{}, len(deviceKeys))
	for _, k := range deviceKeys {
		keys[k] = struct{}{}
	}
	return &linuxTap{base: base{log: log, table: table, state: state}, deviceKeys: keys}
}

func (t *linuxTap) Start() error {
	handlers, err := hidkb.ScanLinuxInputHandlers()
	if err != nil {
		return err
	}

	uinputFile, err := createUinputKeyboard()
	if err != nil {
		return fmt.Errorf("hosttap: creating uinput relay device: %w", err)
	}
	t.uinput = uinputFile
	t.stop = make(chan struct{})

	grabbedAny := false
	for _, h := range handlers {
		if _, ours := t.deviceKeys[h.DeviceKey()]; !ours {
			continue
		}
		node, err := hidkb.AcquireGrabbedNode(h.EventPath)
		if err != nil {
			t.log.Warn().Err(err).Str("path", h.EventPath).Msg("hosttap: EVIOCGRAB failed")
			continue
		}
		frames, unsub := node.Subscribe(256)

		t.mu.Lock()
		t.nodes = append(t.nodes, node)
		t.unsubs = append(t.unsubs, unsub)
		t.mu.Unlock()
		grabbedAny = true

		t.wg.Add(1)
		go t.readLoop(frames)
	}
	if !grabbedAny {
		t.uinput.Close()
		return fmt.Errorf("hosttap: no target keyboard could be grabbed")
	}
	return nil
}

func (t *linuxTap) readLoop(frames <-chan []byte) {
	defer t.wg.Done()
	for {
		var buf []byte
		select {
		case buf = <-frames:
			if buf == nil {
				return // node's read loop exited: device unplugged
			}
		case <-t.stop:
			return
		}

		evType := binary.LittleEndian.Uint16(buf[16:18])
		code := binary.LittleEndian.Uint16(buf[18:20])
		value := int32(binary.LittleEndian.Uint32(buf[20:24]))

		if evType != 1 { // EV_KEY
			t.injectRaw(buf) // SYN_REPORT and friends pass straight through
			continue
		}
		if value == 2 {
			continue // autorepeat never reaches the Correlator
		}

		usage, ok := codemap.EvdevUsage(code)
		if !ok {
			t.injectRaw(buf)
			continue
		}
		key := t.table.UsageToKey(usage)

		var dir correlator.Direction
		if value == 1 {
			dir = correlator.Down
		} else {
			dir = correlator.Up
		}

		blocked := t.decide(HostEvent{KeyCode: key, Direction: dir, At: time.Now()})
		if !blocked {
			t.injectRaw(buf)
		}
	}
}

// injectRaw re-emits a captured input_event byte-for-byte through the
// uinput relay device. It writes no SYN_REPORT of its own: the node's
// SYN_REPORT events reach it through readLoop like any other non-key event.
func (t *linuxTap) injectRaw(buf []byte) {
	t.mu.Lock()
	u := t.uinput
	t.mu.Unlock()
	if u == nil {
		return
	}
	u.Write(buf)
}

func (t *linuxTap) Stop() error {
	close(t.stop)
	t.mu.Lock()
	for _, unsub := range t.unsubs {
		unsub()
	}
	for _, node := range t.nodes {
		node.Release()
	}
	t.nodes = nil
	t.unsubs = nil
	if t.uinput != nil {
		destroyUinput(t.uinput)
		t.uinput.Close()
		t.uinput = nil
	}
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}

func ioctl(fd uintptr, req uintptr, arg int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(unsafe.Pointer(&arg)))
	if errno != 0 {
		return errno
	}
	return nil
}

// createUinputKeyboard opens /dev/uinput and registers a virtual keyboard
// capable of emitting every usage page 0x07 key this engine maps, so a
// grabbed device's pass-through events reach the rest of the system through
// a device the kernel treats as an ordinary keyboard.
func createUinputKeyboard() (*os.File, error) {
	f, err := os.OpenFile("/dev/uinput", os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if os.IsPermission(err) {
			return nil, hidkb.ErrPermissionDenied
		}
		return nil, err
	}

	if err := ioctl(f.Fd(), uiSetEvbit, 1); err != nil { // EV_KEY
		f.Close()
		return nil, err
	}
	for code := range codemap.EvdevKeyCodes() {
		if err := ioctl(f.Fd(), uiSetKeybit, int(code)); err != nil {
			f.Close()
			return nil, err
		}
	}

	var dev uinputUserDev
	copy(dev.name[:], "kbtap-relay")
	dev.id = inputID{busType: 0x06, vendor: 0x1209, product: 0x0001, version: 1} // BUS_VIRTUAL
	if err := binary.Write(f, binary.LittleEndian, &dev); err != nil {
		f.Close()
		return nil, err
	}
	if err := ioctl(f.Fd(), uiDevCreate, 0); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func destroyUinput(f *os.File) {
	ioctl(f.Fd(), uiDevDestroy, 0)
}
