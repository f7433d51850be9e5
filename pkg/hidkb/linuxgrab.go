//go:build linux

package hidkb

import (
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const eviocgrab = 0x40044590 // EVIOCGRAB, _IOW('E', 0x90, int)

// GrabbedNode is one exclusively-grabbed /dev/input/eventN node. Linux's
// EVIOCGRAB routes a grabbed node's events to the grabbing fd only, so the
// Device Stream and the Host Stream Tap cannot each open and grab the same
// node independently without starving whichever one grabbed second.
// AcquireGrabbedNode instead hands out one shared, reference-counted node
// per path; the first caller performs the real open and grab, later
// callers attach as subscribers to its single read loop.
type GrabbedNode struct {
	path string
	f    *os.File

	mu   sync.Mutex
	subs map[int]chan []byte
	next int
	refs int
	wg   sync.WaitGroup
}

var (
	grabMu    sync.Mutex
	grabNodes = map[string]*GrabbedNode{}
)

// AcquireGrabbedNode returns the shared GrabbedNode for path, opening and
// grabbing it if this is the first acquisition. Each call must be matched
// by exactly one Release.
func AcquireGrabbedNode(path string) (*GrabbedNode, error) {
	grabMu.Lock()
	defer grabMu.Unlock()

	if n, ok := grabNodes[path]; ok {
		n.mu.Lock()
		n.refs++
		n.mu.Unlock()
		return n, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsPermission(err) {
			return nil, ErrPermissionDenied
		}
		return nil, err
	}
	if err := grabIoctl(f, 1); err != nil {
		f.Close()
		return nil, err
	}

	n := &GrabbedNode{path: path, f: f, subs: make(map[int]chan []byte), refs: 1}
	grabNodes[path] = n
	n.wg.Add(1)
	go n.readLoop()
	return n, nil
}

// Subscribe registers a new listener for every raw input_event frame read
// from this node. The returned channel is closed either by the returned
// unsubscribe function or when the node's read loop exits (device
// unplugged). buf sizes the channel; a slow subscriber drops frames rather
// than stalling the other subscribers sharing this node.
func (n *GrabbedNode) Subscribe(buf int) (<-chan []byte, func()) {
	n.mu.Lock()
	id := n.next
	n.next++
	ch := make(chan []byte, buf)
	n.subs[id] = ch
	n.mu.Unlock()

	return ch, func() {
		n.mu.Lock()
		if _, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(ch)
		}
		n.mu.Unlock()
	}
}

func (n *GrabbedNode) readLoop() {
	defer n.wg.Done()
	buf := make([]byte, 24) // sizeof(struct input_event) on amd64/arm64
	for {
		nRead, err := n.f.Read(buf)
		if err != nil {
			n.mu.Lock()
			for id, ch := range n.subs {
				delete(n.subs, id)
				close(ch)
			}
			n.mu.Unlock()
			return
		}
		if nRead != 24 {
			continue
		}
		frame := make([]byte, 24)
		copy(frame, buf)

		n.mu.Lock()
		for _, ch := range n.subs {
			select {
			case ch <- frame:
			default:
			}
		}
		n.mu.Unlock()
	}
}

// Release drops one reference acquired by AcquireGrabbedNode. The node is
// ungrabbed and closed once the last reference is released.
func (n *GrabbedNode) Release() {
	grabMu.Lock()
	defer grabMu.Unlock()

	n.mu.Lock()
	n.refs--
	refs := n.refs
	n.mu.Unlock()
	if refs > 0 {
		return
	}

	delete(grabNodes, n.path)
	grabIoctl(n.f, 0)
	n.f.Close()
	n.wg.Wait()
}

func grabIoctl(f *os.File, arg int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), eviocgrab, uintptr(unsafe.Pointer(&arg)))
	if errno != 0 {
		return errno
	}
	return nil
}
