// Copyright (c) 2023 cavelab, see LICENSE file for details

package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"

	"github.com/cavelab/devices"
	"github.com/cavelab/devices/rm3100"
)

func mainImpl() error {
	useSPI := flag.Bool("spi", false, "use SPI instead of I2C")
	csPin := flag.String("cspin", "", "chip select pin name for SPI")
	addr := flag.String("addr", "0x20", "I2C address")
	cc := flag.Int("cc", 200, "cycle count")
	flag.Parse()

	var dev *rm3100.Dev
	opts := &rm3100.Opts{CycleCount: *cc}
	if *useSPI {
		if err := embd.InitSPI(); err != nil {
			return err
		}
		defer embd.CloseSPI()
		var cs devices.GPIO
		if *csPin != "" {
			if err := embd.InitGPIO(); err != nil {
				return err
			}
			defer embd.CloseGPIO()
			if cs = devices.NewGPIO(*csPin); cs == nil {
				return fmt.Errorf("cannot open pin %s", *csPin)
			}
			cs.Out(devices.GpioHigh)
		}
		var err error
		if dev, err = rm3100.NewSPI(devices.NewSPI(), cs, opts); err != nil {
			return err
		}
	} else {
		if err := embd.InitI2C(); err != nil {
			return err
		}
		defer embd.CloseI2C()
		a, err := strconv.ParseUint(*addr, 0, 8)
		if err != nil {
			return fmt.Errorf("cannot parse address %s: %s", *addr, err)
		}
		if dev, err = rm3100.NewI2C(devices.NewI2C(0), byte(a), opts); err != nil {
			return err
		}
	}
	defer dev.Close()

	if err := dev.SelfTest(); err != nil {
		return err
	}
	fmt.Printf("Self test passed, measurement time %v\n", dev.MeasurementTime())

	// Collect a few samples and report the median per axis: single readings are
	// noisy enough that one alone says little about whether the wiring is good.
	var xs, ys, zs [3]float64
	for i := 0; i < 3; i++ {
		x, y, z, err := dev.Magnetic()
		if err != nil {
			return err
		}
		xs[i], ys[i], zs[i] = x, y, z
		time.Sleep(100 * time.Millisecond)
	}
	sort.Float64s(xs[:])
	sort.Float64s(ys[:])
	sort.Float64s(zs[:])

	fmt.Printf("Field: x %.2fuT  y %.2fuT  z %.2fuT\n", xs[1], ys[1], zs[1])
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "rm3100: %s.\n", err)
		os.Exit(1)
	}
}
