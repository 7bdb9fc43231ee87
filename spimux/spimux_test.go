// Copyright (c) 2023 cavelab, see LICENSE file for details

package spimux

import (
	"testing"
	"time"

	"github.com/cavelab/devices"
)

type fakeSPI struct{ txs int }

func (s *fakeSPI) Tx(w, r []byte) error { s.txs++; return nil }
func (s *fakeSPI) Speed(hz int64) error { return nil }
func (s *fakeSPI) Configure(mode, bits int) error { return nil }
func (s *fakeSPI) Close() error { return nil }

type fakePin struct{ levels []int }

func (p *fakePin) In(edge int) error { return nil }
func (p *fakePin) Read() int { return 0 }
func (p *fakePin) WaitForEdge(timeout time.Duration) bool { return false }
func (p *fakePin) Out(level int) { p.levels = append(p.levels, level) }
func (p *fakePin) Number() int { return 0 }
func (p *fakePin) Close() error { return nil }

func TestSelectPinFollowsDevice(t *testing.T) {
	spi := &fakeSPI{}
	pin := &fakePin{}
	lo, hi := New(spi, pin)

	var buf [2]byte
	if err := lo.Tx(buf[:], buf[:]); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if err := hi.Tx(buf[:], buf[:]); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if err := lo.Tx(buf[:], buf[:]); err != nil {
		t.Fatalf("Tx: %v", err)
	}

	want := []int{devices.GpioLow, devices.GpioHigh, devices.GpioLow}
	if len(pin.levels) != len(want) {
		t.Fatalf("select levels got %v expected %v", pin.levels, want)
	}
	for i := range want {
		if pin.levels[i] != want[i] {
			t.Fatalf("select levels got %v expected %v", pin.levels, want)
		}
	}
	if spi.txs != 3 {
		t.Fatalf("bus transactions got %d expected 3", spi.txs)
	}
}

// Close on one demuxed connection must not close the shared bus.
func TestCloseLeavesBusOpen(t *testing.T) {
	spi := &fakeSPI{}
	pin := &fakePin{}
	lo, hi := New(spi, pin)
	if err := lo.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var buf [1]byte
	if err := hi.Tx(buf[:], buf[:]); err != nil {
		t.Fatalf("Tx after sibling Close: %v", err)
	}
}
