// Copyright (c) 2023 cavelab, see LICENSE file for details

// The rm3100 package interfaces with a PNI RM3100 magnetometer connected to an I2C
// or an SPI bus.
//
// The RM3100 is a magneto-inductive 3-axis sensor. Its sensitivity and measurement
// time are both governed by a per-axis cycle count: a higher count oscillates the
// coils more often per measurement, which increases the counts-per-microtesla gain
// linearly and lengthens the measurement proportionally. The driver applies the
// same cycle count to all three axes.
//
// Measurements can be requested one at a time with StartSingle or periodically with
// StartContinuous. Either way NextReading blocks until the chip signals data ready
// and returns the field strength in microtesla. Data ready is detected through the
// DRDY pin when one is supplied in Opts, otherwise by polling the status register.
// Polling the bus at a high rate injects electrical noise right next to the sense
// coils and degrades the readings, so continuous mode at more than a few Hz should
// really use the DRDY pin. The driver only ever reads the pin's level; direction
// and pull configuration are left to the caller, as is wiring it to the right line.
//
// The driver is synchronous and keeps no goroutines: NextReading is the only call
// that blocks, bounded by Opts.Timeout. Methods on Dev are not concurrency safe;
// the device handle assumes it owns the bus transaction for the duration of each
// register access. Errors are reported through the four sentinel errors
// ErrTransport, ErrConfiguration, ErrState and ErrTimeout, which callers can test
// with errors.Is. Transport errors are never retried internally.
//
// Datasheet: https://www.pnicorp.com/rm3100/
package rm3100

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cavelab/devices"
)

// Sentinel errors, one per failure class. Returned errors wrap these, so use
// errors.Is to classify.
var (
	ErrTransport     = errors.New("rm3100: bus transaction failed")
	ErrConfiguration = errors.New("rm3100: invalid configuration")
	ErrState         = errors.New("rm3100: invalid in current state")
	ErrTimeout       = errors.New("rm3100: data ready timeout")
)

// Acquisition states. Single-shot mode falls back to idle by itself once the
// result is read, continuous mode runs until Stop.
const (
	stateIdle = iota
	stateSingle
	stateContinuous
)

// LogPrintf is a function used by the driver to print logging info.
type LogPrintf func(format string, v ...interface{})

// Opts contains options used when initializing a Dev.
type Opts struct {
	CycleCount   int           // per-axis cycle count, 1..65535, default 200
	DrdyPin      devices.GPIO  // pin wired to DRDY, nil to poll the status register
	Timeout      time.Duration // bound on the data-ready wait, default 1s
	PollInterval time.Duration // data-ready poll spacing, default 10ms
	Logger       LogPrintf     // function to use for logging, nil disables
}

// Dev represents an RM3100 magnetometer on either bus.
type Dev struct {
	t     transport
	drdy  devices.GPIO
	cc    int     // cycle count currently in the CCX..CCZ registers
	gain  float64 // counts per microtesla at the current cycle count
	state int
	tmout time.Duration
	poll  time.Duration
	log   LogPrintf
	// injectable for tests
	sleep func(time.Duration)
	now   func() time.Time
}

// NewI2C initializes an RM3100 at the given I2C address. Pass DefaultI2CAddr
// unless the address pins are strapped differently.
func NewI2C(bus devices.I2C, addr byte, opts *Opts) (*Dev, error) {
	return newDev(&i2cTransport{bus: bus, addr: addr}, opts)
}

// NewSPI initializes an RM3100 on an SPI bus. The chip select pin is managed by
// the driver and may be nil if the bus has a dedicated CS line. The bus must be
// configured for mode 0.
func NewSPI(spi devices.SPI, cs devices.GPIO, opts *Opts) (*Dev, error) {
	return newDev(&spiTransport{spi: spi, cs: cs}, opts)
}

func newDev(t transport, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &Opts{}
	}
	d := &Dev{
		t:     t,
		drdy:  opts.DrdyPin,
		tmout: opts.Timeout,
		poll:  opts.PollInterval,
		log:   func(format string, v ...interface{}) {},
		sleep: time.Sleep,
		now:   time.Now,
	}
	if opts.Logger != nil {
		d.log = func(format string, v ...interface{}) {
			opts.Logger("rm3100: "+format, v...)
		}
	}
	if d.tmout == 0 {
		d.tmout = time.Second
	}
	if d.poll == 0 {
		d.poll = 10 * time.Millisecond
	}

	// Make sure there's actually an RM3100 at the other end before writing any
	// configuration.
	var rev [1]byte
	if err := t.readReg(REG_REVID, rev[:]); err != nil {
		return nil, err
	}
	if rev[0] != REVID {
		return nil, fmt.Errorf("rm3100: unexpected revision %#02x, want %#02x", rev[0], REVID)
	}
	d.log("found chip, revision %#02x", rev[0])

	cc := opts.CycleCount
	if cc == 0 {
		cc = 200
	}
	if err := d.SetCycleCount(cc); err != nil {
		return nil, err
	}
	// Known state: drop out of continuous mode in case of a warm restart.
	if err := d.t.writeReg(REG_CMM, AXES_XYZ); err != nil {
		return nil, err
	}
	return d, nil
}

// SetCycleCount writes the cycle count to all three axis registers and updates
// the gain used to convert raw counts to microtesla. On failure the previous
// cycle count and gain remain in effect.
func (d *Dev) SetCycleCount(cc int) error {
	if cc < 1 || cc > 0xFFFF {
		return fmt.Errorf("%w: cycle count %d out of range 1..65535", ErrConfiguration, cc)
	}
	v := uint16(cc)
	err := d.t.writeReg(REG_CCX,
		byte(v>>8), byte(v), byte(v>>8), byte(v), byte(v>>8), byte(v))
	if err != nil {
		return err
	}
	d.cc = cc
	d.gain = float64(cc) / utPerCycle
	d.log("cycle count %d, gain %.1f counts/uT, measurement time %v",
		cc, d.gain, d.MeasurementTime())
	return nil
}

// CycleCount returns the currently configured per-axis cycle count.
func (d *Dev) CycleCount() int { return d.cc }

// Gain returns the sensitivity in counts per microtesla at the current cycle
// count.
func (d *Dev) Gain() float64 { return d.gain }

// MeasurementTime returns how long one complete 3-axis measurement takes at the
// current cycle count. Callers using StartSingle without a DRDY pin can sleep
// this long before the first status poll.
func (d *Dev) MeasurementTime() time.Duration {
	return time.Duration(d.cc)*cycleDuration + startupOverhead
}

// StartSingle triggers one 3-axis measurement. The result is collected with
// NextReading, after which the device is idle again.
func (d *Dev) StartSingle() error {
	if d.state == stateContinuous {
		return fmt.Errorf("%w: single measurement while in continuous mode", ErrState)
	}
	if err := d.t.writeReg(REG_POLL, AXES_XYZ); err != nil {
		return err
	}
	d.state = stateSingle
	return nil
}

// StartContinuous puts the chip into continuous measurement mode at the given
// update rate. Valid rates are 600Hz halved down to about 0.073Hz; the nearest
// one is selected. Each reading is then collected with NextReading.
func (d *Dev) StartContinuous(hz float64) error {
	if d.state != stateIdle {
		return fmt.Errorf("%w: continuous mode while a measurement is active", ErrState)
	}
	exp := tmrcExponent(hz)
	if exp < 0 || exp > TMRC_MAX_EXP {
		return fmt.Errorf("%w: update rate %gHz out of range %gHz..600Hz",
			ErrConfiguration, hz, 600.0/float64(uint(1)<<TMRC_MAX_EXP))
	}
	actual := 600.0 / float64(uint(1)<<exp)
	if period := time.Duration(float64(time.Second) / actual); period < d.MeasurementTime() {
		d.log("rate %.4gHz faster than the %v measurement time, cycle count will throttle it",
			actual, d.MeasurementTime())
	}
	if err := d.t.writeReg(REG_TMRC, byte(TMRC_BASE+exp)); err != nil {
		return err
	}
	if err := d.t.writeReg(REG_CMM, AXES_XYZ|CMM_START); err != nil {
		return err
	}
	d.log("continuous mode at %.4gHz (requested %.4g)", actual, hz)
	d.state = stateContinuous
	return nil
}

// tmrcExponent maps an update rate to the halving exponent the TMRC register
// encodes. Out-of-range rates map to an out-of-range exponent.
func tmrcExponent(hz float64) int {
	if hz <= 0 {
		return -1
	}
	return int(math.Round(math.Log2(600 / hz)))
}

// Stop ends continuous mode and returns the device to idle. Calling it while
// already idle is a no-op.
func (d *Dev) Stop() error {
	if d.state == stateIdle {
		return nil
	}
	if err := d.t.writeReg(REG_CMM, AXES_XYZ); err != nil {
		return err
	}
	d.state = stateIdle
	return nil
}

// Close stops any ongoing continuous measurement. It does not close the bus,
// which the caller owns.
func (d *Dev) Close() error {
	return d.Stop()
}

// NextReading blocks until the current measurement completes and returns the
// magnetic field on the X, Y and Z axes in microtesla. In single-shot mode the
// device is idle afterwards; in continuous mode subsequent calls return
// subsequent readings. On ErrTimeout the measurement may simply not have
// finished yet and the call can be retried.
func (d *Dev) NextReading() (x, y, z float64, err error) {
	raw, err := d.NextRawReading()
	if err != nil {
		return 0, 0, 0, err
	}
	return float64(raw[0]) / d.gain, float64(raw[1]) / d.gain, float64(raw[2]) / d.gain, nil
}

// NextRawReading is NextReading without the unit conversion: it returns the
// 24-bit two's complement counts per axis.
func (d *Dev) NextRawReading() ([3]int32, error) {
	var raw [3]int32
	if d.state == stateIdle {
		return raw, fmt.Errorf("%w: no measurement was requested", ErrState)
	}
	if err := d.waitReady(); err != nil {
		return raw, err
	}
	var buf [9]byte
	if err := d.t.readReg(REG_MX, buf[:]); err != nil {
		return raw, err
	}
	for i := 0; i < 3; i++ {
		raw[i] = signExtend24(buf[3*i : 3*i+3])
	}
	if d.state == stateSingle {
		// The chip returns to idle on its own after a polled measurement.
		d.state = stateIdle
	}
	return raw, nil
}

// waitReady waits for the data-ready signal, via the DRDY pin level when one
// was supplied and via the status register otherwise. Both paths poll at
// PollInterval and give up after Timeout without touching the acquisition
// state, so the caller may retry.
func (d *Dev) waitReady() error {
	deadline := d.now().Add(d.tmout)
	for {
		ready, err := d.measurementComplete()
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		if d.now().After(deadline) {
			return fmt.Errorf("%w: after %v", ErrTimeout, d.tmout)
		}
		d.sleep(d.poll)
	}
}

func (d *Dev) measurementComplete() (bool, error) {
	if d.drdy != nil {
		return d.drdy.Read() == devices.GpioHigh, nil
	}
	var status [1]byte
	if err := d.t.readReg(REG_STATUS, status[:]); err != nil {
		return false, err
	}
	return status[0]&STATUS_DRDY != 0, nil
}

// Magnetic is a convenience for one-off use: when idle it triggers a single
// measurement, sleeps for the expected measurement time and returns the
// reading. In continuous mode it simply returns the next reading.
func (d *Dev) Magnetic() (x, y, z float64, err error) {
	if d.state == stateIdle {
		if err := d.StartSingle(); err != nil {
			return 0, 0, 0, err
		}
		d.sleep(d.MeasurementTime())
	}
	return d.NextReading()
}

// SelfTest runs the chip's built-in self test, which checks the LR oscillation
// circuit of each axis. It is only valid while idle and leaves the device idle.
func (d *Dev) SelfTest() error {
	if d.state != stateIdle {
		return fmt.Errorf("%w: self test while a measurement is active", ErrState)
	}
	if err := d.t.writeReg(REG_BIST, BIST_STE|BIST_BW1|BIST_BP1); err != nil {
		return err
	}
	// Disarm on every exit, or the next POLL would self-test instead of measure.
	defer d.t.writeReg(REG_BIST, 0)
	if err := d.t.writeReg(REG_POLL, AXES_XYZ); err != nil {
		return err
	}
	d.state = stateSingle
	if err := d.waitReady(); err != nil {
		d.state = stateIdle
		return err
	}
	d.state = stateIdle
	var bist [1]byte
	if err := d.t.readReg(REG_BIST, bist[:]); err != nil {
		return err
	}
	if ok := bist[0] & BIST_XYZ_OK; ok != BIST_XYZ_OK {
		return fmt.Errorf("rm3100: self test failed, axis status %#02x", ok)
	}
	return nil
}

// signExtend24 reconstructs a big-endian 24-bit two's complement value. The
// minimum -8388608 is a legal reading and comes through unchanged.
func signExtend24(b []byte) int32 {
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if v&0x800000 != 0 {
		v -= 0x1000000
	}
	return v
}
