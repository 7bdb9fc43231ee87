// Copyright (c) 2023 cavelab, see LICENSE file for details

package rm3100

import (
	"errors"
	"testing"
)

// fakeSPI records the write buffers and plays back canned read bytes.
type fakeSPI struct {
	txs  [][]byte
	read []byte // bytes returned after the address byte
	fail error
}

func (s *fakeSPI) Tx(w, r []byte) error {
	if s.fail != nil {
		return s.fail
	}
	s.txs = append(s.txs, append([]byte{}, w...))
	copy(r[1:], s.read)
	return nil
}

func (s *fakeSPI) Speed(hz int64) error { return nil }
func (s *fakeSPI) Configure(mode, bits int) error { return nil }
func (s *fakeSPI) Close() error { return nil }

// csRecorder records the chip select levels around transactions.
type csRecorder struct {
	fakePin
	levels []int
}

func (p *csRecorder) Out(level int) { p.levels = append(p.levels, level) }

func TestSPIReadSetsReadBit(t *testing.T) {
	spi := &fakeSPI{read: []byte{0x12, 0x34}}
	tr := &spiTransport{spi: spi}
	buf := make([]byte, 2)
	if err := tr.readReg(REG_MX, buf); err != nil {
		t.Fatalf("readReg: %v", err)
	}
	if got := spi.txs[0][0]; got != REG_MX|SPI_READ {
		t.Fatalf("read address byte got %#02x expected %#02x", got, REG_MX|SPI_READ)
	}
	if buf[0] != 0x12 || buf[1] != 0x34 {
		t.Fatalf("read data got %#v", buf)
	}
}

func TestSPIWriteClearsReadBit(t *testing.T) {
	spi := &fakeSPI{}
	tr := &spiTransport{spi: spi}
	if err := tr.writeReg(REG_CMM, 0x79); err != nil {
		t.Fatalf("writeReg: %v", err)
	}
	want := []byte{REG_CMM, 0x79}
	got := spi.txs[0]
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("write buffer got %#v expected %#v", got, want)
	}
}

func TestSPIChipSelectBracketsTransaction(t *testing.T) {
	spi := &fakeSPI{}
	cs := &csRecorder{}
	tr := &spiTransport{spi: spi, cs: cs}
	if err := tr.writeReg(REG_POLL, AXES_XYZ); err != nil {
		t.Fatalf("writeReg: %v", err)
	}
	if len(cs.levels) != 2 || cs.levels[0] != 0 || cs.levels[1] != 1 {
		t.Fatalf("chip select sequence got %v expected [0 1]", cs.levels)
	}
}

func TestSPIChipSelectReleasedOnError(t *testing.T) {
	spi := &fakeSPI{fail: errors.New("framing")}
	cs := &csRecorder{}
	tr := &spiTransport{spi: spi, cs: cs}
	if err := tr.writeReg(REG_POLL, AXES_XYZ); !errors.Is(err, ErrTransport) {
		t.Fatalf("writeReg got %v expected ErrTransport", err)
	}
	if len(cs.levels) != 2 || cs.levels[1] != 1 {
		t.Fatalf("chip select not released after error: %v", cs.levels)
	}
}

// fakeI2C is a register file behind the I2C interface.
type fakeI2C struct {
	addr byte
	regs [0x40]byte
	fail error
}

func (b *fakeI2C) ReadFromReg(addr, reg byte, buf []byte) error {
	if b.fail != nil {
		return b.fail
	}
	b.addr = addr
	copy(buf, b.regs[reg:])
	return nil
}

func (b *fakeI2C) WriteToReg(addr, reg byte, data []byte) error {
	if b.fail != nil {
		return b.fail
	}
	b.addr = addr
	copy(b.regs[reg:], data)
	return nil
}

func (b *fakeI2C) Close() error { return nil }

func TestI2CTransportAddressing(t *testing.T) {
	bus := &fakeI2C{}
	bus.regs[REG_REVID] = REVID
	tr := &i2cTransport{bus: bus, addr: 0x23}
	var rev [1]byte
	if err := tr.readReg(REG_REVID, rev[:]); err != nil {
		t.Fatalf("readReg: %v", err)
	}
	if rev[0] != REVID {
		t.Fatalf("revision got %#02x expected %#02x", rev[0], REVID)
	}
	if bus.addr != 0x23 {
		t.Fatalf("device address got %#02x expected 0x23", bus.addr)
	}
}

func TestI2CTransportErrors(t *testing.T) {
	bus := &fakeI2C{fail: errors.New("no ack")}
	tr := &i2cTransport{bus: bus, addr: DefaultI2CAddr}
	var buf [1]byte
	if err := tr.readReg(REG_STATUS, buf[:]); !errors.Is(err, ErrTransport) {
		t.Fatalf("readReg got %v expected ErrTransport", err)
	}
	if err := tr.writeReg(REG_POLL, AXES_XYZ); !errors.Is(err, ErrTransport) {
		t.Fatalf("writeReg got %v expected ErrTransport", err)
	}
}

// The full driver over the SPI transport: New must probe REVID through the bus.
func TestNewSPIProbesRevision(t *testing.T) {
	spi := &fakeSPI{read: []byte{REVID}}
	if _, err := NewSPI(spi, nil, nil); err != nil {
		t.Fatalf("NewSPI: %v", err)
	}
	if spi.txs[0][0] != REG_REVID|SPI_READ {
		t.Fatalf("first transaction %#v is not a REVID read", spi.txs[0])
	}
}
