// Copyright (c) 2023 cavelab, see LICENSE file for details

package spimux

import (
	"sync"

	"github.com/cavelab/devices"
)

// Conn represents a device on an SPI bus whose chip select goes through a demux.
//
// The gradiometer builds put two RM3100 sensors on one SPI bus that only has a
// single chip select line. A demux on the CS line plus one extra gpio pin route
// the select to either sensor: Tx sets the demux select for its device and then
// runs a normal transaction.
//
// A sample circuit is a 74LVC1G19 demux with the SPI CS connected to E, the
// select pin connected to A, and the CS inputs of the two sensors attached to Y0
// and Y1. A pull-down resistor on A keeps both CS inactive while the SPI CS is
// not driven.
//
// The speed and mode settings are shared between the two devices; with two
// identical sensors that limitation doesn't bite.
type Conn struct {
	mu     *sync.Mutex // prevent concurrent access to the shared bus
	devices.SPI        // the underlying SPI bus with shared chip select
	selPin devices.GPIO
	sel    int // select level for this device
}

// New returns two connections for the provided SPI bus, the first one using low
// for the select pin, the second using high.
func New(spi devices.SPI, selPin devices.GPIO) (*Conn, *Conn) {
	mu := &sync.Mutex{}
	return &Conn{mu, spi, selPin, devices.GpioLow},
		&Conn{mu, spi, selPin, devices.GpioHigh}
}

// Tx routes the chip select to this device and calls the underlying Tx.
func (c *Conn) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selPin.Out(c.sel)
	return c.SPI.Tx(w, r)
}

// Close is a no-op, the shared bus stays open for the other device.
func (c *Conn) Close() error { return nil }
