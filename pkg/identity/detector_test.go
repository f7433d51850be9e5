package identity

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/loopvm/kbtap/pkg/codemap"
	"github.com/loopvm/kbtap/pkg/hidkb"
	"github.com/loopvm/kbtap/pkg/keystream"
)

type fakeSource struct {
	values chan keystream.RawValue
}

func newFakeSource(values ...keystream.RawValue) *fakeSource {
	ch := make(chan keystream.RawValue, len(values)+1)
	for _, v := range values {
		ch <- v
	}
	return &fakeSource{values: ch}
}

func (f *fakeSource) Open(deviceKeys []string) (<-chan keystream.RawValue, error) {
	return f.values, nil
}

func (f *fakeSource) Close() error {
	return nil
}

func wiredUSB() hidkb.Device {
	return hidkb.Device{DeviceKey: "046d:c31c:00000001", PhysicalID: "046d-c31c-0000", Transport: hidkb.TransportUSB}
}

func wirelessBT() hidkb.Device {
	return hidkb.Device{DeviceKey: "046d:c31c:00000002", PhysicalID: "046d-c31c-0000", Transport: hidkb.TransportBluetooth}
}

func unrelated() hidkb.Device {
	return hidkb.Device{DeviceKey: "413c:2113:00000003", PhysicalID: "413c-2113-0000", Transport: hidkb.TransportUSB}
}

func TestDetectExactKeyMatchReturnsOnlyThatInterface(t *testing.T) {
	src := newFakeSource(keystream.RawValue{DeviceKey: wiredUSB().DeviceKey, Usage: 0x04, Value: 1, At: time.Now()})
	d := NewWithSource(zerolog.Nop(), codemap.NewTable(zerolog.Nop()), src)

	sel, err := d.Detect(context.Background(), []hidkb.Device{wiredUSB(), unrelated()}, StopAfterDistinctKeys(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sel.Devices) != 1 || sel.Devices[0].DeviceKey != wiredUSB().DeviceKey {
		t.Fatalf("expected only the wired interface, got %+v", sel.Devices)
	}
}

func TestDetectRecoversAllInterfacesByPhysicalID(t *testing.T) {
	src := newFakeSource(keystream.RawValue{DeviceKey: wiredUSB().DeviceKey, Usage: 0x04, Value: 1, At: time.Now()})
	d := NewWithSource(zerolog.Nop(), codemap.NewTable(zerolog.Nop()), src)

	sel, err := d.Detect(context.Background(), []hidkb.Device{wiredUSB(), wirelessBT(), unrelated()}, StopAfterDistinctKeys(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sel.Devices) != 2 {
		t.Fatalf("expected both interfaces of the physical keyboard, got %+v", sel.Devices)
	}
}

func TestDetectIgnoresReleasesAndRollover(t *testing.T) {
	src := newFakeSource(
		keystream.RawValue{DeviceKey: wiredUSB().DeviceKey, Usage: 0x04, Value: 0, At: time.Now()},
		keystream.RawValue{DeviceKey: wiredUSB().DeviceKey, Usage: codemap.RolloverSentinel, Value: 1, At: time.Now()},
		keystream.RawValue{DeviceKey: wiredUSB().DeviceKey, Usage: 0x05, Value: 1, At: time.Now()},
	)
	d := NewWithSource(zerolog.Nop(), codemap.NewTable(zerolog.Nop()), src)

	sel, err := d.Detect(context.Background(), []hidkb.Device{wiredUSB()}, StopAfterDistinctKeys(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sel.Devices) != 1 {
		t.Fatalf("expected one device matched by the real press, got %+v", sel.Devices)
	}
}

func TestDetectNoMatchWhenObservedKeyIsNotEnumerated(t *testing.T) {
	src := newFakeSource(keystream.RawValue{DeviceKey: "ffff:ffff:00000000", Usage: 0x04, Value: 1, At: time.Now()})
	d := NewWithSource(zerolog.Nop(), codemap.NewTable(zerolog.Nop()), src)

	_, err := d.Detect(context.Background(), []hidkb.Device{wiredUSB()}, StopAfterDistinctKeys(1))
	if err != ErrNoMatch {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}

func TestDetectDeduplicatesSamePhysicalIDAndTransport(t *testing.T) {
	dup := wiredUSB()
	dup.DeviceKey = "046d:c31c:00000099"
	src := newFakeSource(keystream.RawValue{DeviceKey: wiredUSB().DeviceKey, Usage: 0x04, Value: 1, At: time.Now()})
	d := NewWithSource(zerolog.Nop(), codemap.NewTable(zerolog.Nop()), src)

	sel, err := d.Detect(context.Background(), []hidkb.Device{wiredUSB(), dup}, StopAfterDistinctKeys(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sel.Devices) != 1 {
		t.Fatalf("expected same physical_id+transport pair deduplicated, got %+v", sel.Devices)
	}
}

func TestDetectStopsOnContextCancellation(t *testing.T) {
	src := &fakeSource{values: make(chan keystream.RawValue)} // never produces
	d := NewWithSource(zerolog.Nop(), codemap.NewTable(zerolog.Nop()), src)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := d.Detect(ctx, []hidkb.Device{wiredUSB()}, StopAfterDistinctKeys(1))
	if err != ErrNoMatch {
		t.Fatalf("expected ErrNoMatch on empty observation set, got %v", err)
	}
}
