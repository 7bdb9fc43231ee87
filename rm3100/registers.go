// Copyright (c) 2023 cavelab, see LICENSE file for details

package rm3100

import "time"

// Register map per the PNI RM3100 datasheet. On SPI a read sets the top bit of
// the register address, a write leaves it clear. On I2C the addresses are used
// as-is. All multi-byte registers are big-endian.
const (
	REG_POLL   = 0x00 // single measurement trigger
	REG_CMM    = 0x01 // continuous measurement mode
	REG_CCX    = 0x04 // cycle counts, 3x uint16 for X, Y, Z
	REG_TMRC   = 0x0B // continuous mode update rate
	REG_MX     = 0x24 // measurement results, 3 bytes per axis, X Y Z
	REG_BIST   = 0x33 // built-in self test control/result
	REG_STATUS = 0x34 // bit 7: data ready
	REG_REVID  = 0x36 // chip revision, 0x22 for current silicon

	SPI_READ = 0x80 // or'd into the register address for SPI reads

	// POLL/CMM request measurement of all three axes. CMM additionally needs
	// the START bit, POLL takes the axis mask alone.
	AXES_XYZ  = 0x70
	CMM_START = 0x09 // START plus DRDM "after all axes"

	// TMRC encodes the update rate as 600Hz >> n with n in 0..13, biased by 0x92.
	TMRC_BASE    = 0x92
	TMRC_MAX_EXP = 13

	STATUS_DRDY = 1 << 7

	// BIST bits: write STE plus the timeout/LR periods to arm the test, trigger
	// it via POLL, then read back the per-axis OK bits.
	BIST_STE    = 1 << 7
	BIST_XYZ_OK = 0x07
	BIST_BW1    = 0x30 // 4 LR periods
	BIST_BP1    = 0x04 // 1 sleep oscillation cycle

	REVID = 0x22
)

// Datasheet timing and sensitivity constants. Each cycle count adds about 36us
// of measurement time across the three axes, and one LSB corresponds to
// 2.5uT divided by the cycle count.
const (
	cycleDuration   = 36 * time.Microsecond
	startupOverhead = 100 * time.Microsecond // conversion start latency, empirical
	utPerCycle      = 2.5
)

// DefaultI2CAddr is the RM3100 address with both address pins low. The four
// combinations of A0/A1 select 0x20..0x23.
const DefaultI2CAddr = 0x20
