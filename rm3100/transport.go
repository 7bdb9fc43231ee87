// Copyright (c) 2023 cavelab, see LICENSE file for details

package rm3100

import (
	"fmt"

	"github.com/cavelab/devices"
)

// transport abstracts register access so the driver logic is identical for the
// I2C and the SPI attachment. Both methods return ErrTransport-wrapped errors
// on bus failures.
type transport interface {
	readReg(reg byte, buf []byte) error
	writeReg(reg byte, data ...byte) error
}

//===== I2C

type i2cTransport struct {
	bus  devices.I2C
	addr byte
}

func (t *i2cTransport) readReg(reg byte, buf []byte) error {
	if err := t.bus.ReadFromReg(t.addr, reg, buf); err != nil {
		return fmt.Errorf("%w: read reg %#02x: %v", ErrTransport, reg, err)
	}
	return nil
}

func (t *i2cTransport) writeReg(reg byte, data ...byte) error {
	if err := t.bus.WriteToReg(t.addr, reg, data); err != nil {
		return fmt.Errorf("%w: write reg %#02x: %v", ErrTransport, reg, err)
	}
	return nil
}

//===== SPI

// spiTransport drives the chip select itself so several devices can hang off
// the same bus. The select pin is asserted low for the duration of each
// transaction, which is all the RM3100 requires; the pin's direction must
// already be set to output by the caller.
type spiTransport struct {
	spi devices.SPI
	cs  devices.GPIO
}

func (t *spiTransport) tx(w, r []byte) error {
	if t.cs != nil {
		t.cs.Out(devices.GpioLow)
		defer t.cs.Out(devices.GpioHigh)
	}
	return t.spi.Tx(w, r)
}

func (t *spiTransport) readReg(reg byte, buf []byte) error {
	wBuf := make([]byte, len(buf)+1)
	rBuf := make([]byte, len(buf)+1)
	wBuf[0] = reg | SPI_READ
	if err := t.tx(wBuf, rBuf); err != nil {
		return fmt.Errorf("%w: read reg %#02x: %v", ErrTransport, reg, err)
	}
	copy(buf, rBuf[1:])
	return nil
}

func (t *spiTransport) writeReg(reg byte, data ...byte) error {
	wBuf := make([]byte, len(data)+1)
	rBuf := make([]byte, len(data)+1)
	wBuf[0] = reg &^ SPI_READ
	copy(wBuf[1:], data)
	if err := t.tx(wBuf, rBuf); err != nil {
		return fmt.Errorf("%w: write reg %#02x: %v", ErrTransport, reg, err)
	}
	return nil
}
