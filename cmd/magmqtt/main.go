// Copyright (c) 2023 cavelab, see LICENSE file for details

// Magmqtt reads one or two RM3100 magnetometers continuously and publishes the
// readings to an MQTT broker, one JSON message per reading on <prefix>/field.
// Two sensors (a gradiometer pair) can share a single SPI bus through a chip
// select demux, see the spimux package.
package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cavelab/devices"
	"github.com/cavelab/devices/rm3100"
	"github.com/cavelab/devices/spimux"
	"github.com/cavelab/devices/thread"
)

// reading is the payload published for each measurement.
type reading struct {
	X  float64   `json:"x"` // microtesla
	Y  float64   `json:"y"`
	Z  float64   `json:"z"`
	At time.Time `json:"at"`
}

// openPin looks up a GPIO by name, as a helper for the several optional pins.
func openPin(name string) (devices.GPIO, error) {
	p := devices.NewGPIO(name)
	if p == nil {
		return nil, fmt.Errorf("cannot open pin %s", name)
	}
	return p, nil
}

// openSensor builds the rm3100 device for one sensor config. spiConn is the
// (possibly demuxed) bus to use for SPI sensors.
func openSensor(conf SensorOpt, spiConn devices.SPI) (*rm3100.Dev, error) {
	opts := &rm3100.Opts{
		CycleCount: conf.CycleCount,
		Logger:     log.Debugf,
	}
	if conf.DrdyPin != "" {
		pin, err := openPin(conf.DrdyPin)
		if err != nil {
			return nil, err
		}
		if err := pin.In(devices.GpioNoEdge); err != nil {
			return nil, fmt.Errorf("cannot configure pin %s: %w", conf.DrdyPin, err)
		}
		opts.DrdyPin = pin
		// With DRDY wired there's no bus traffic while waiting, so poll tightly.
		opts.PollInterval = time.Millisecond
	}

	if conf.Bus == "i2c" {
		addr := uint64(rm3100.DefaultI2CAddr)
		if conf.Addr != "" {
			var err error
			if addr, err = strconv.ParseUint(conf.Addr, 0, 8); err != nil {
				return nil, fmt.Errorf("cannot parse address %s: %w", conf.Addr, err)
			}
		}
		return rm3100.NewI2C(devices.NewI2C(0), byte(addr), opts)
	}

	var cs devices.GPIO
	if conf.CsPin != "" {
		pin, err := openPin(conf.CsPin)
		if err != nil {
			return nil, err
		}
		pin.Out(devices.GpioHigh)
		cs = pin
	}
	return rm3100.NewSPI(spiConn, cs, opts)
}

// sample is the per-sensor loop: start continuous mode and push every reading
// to the broker until a persistent error ends the loop.
func sample(conf SensorOpt, dev *rm3100.Dev, mq *mq, realtime bool) error {
	if realtime {
		if err := thread.Realtime(10); err != nil {
			log.Warnf("%s: cannot set realtime priority: %s", conf.Prefix, err)
		}
	}
	if err := dev.StartContinuous(conf.Rate); err != nil {
		return err
	}
	defer dev.Stop()

	log.Infof("%s: sampling at %gHz, measurement time %v",
		conf.Prefix, conf.Rate, dev.MeasurementTime())
	topic := conf.Prefix + "/field"
	for {
		x, y, z, err := dev.NextReading()
		if errors.Is(err, rm3100.ErrTimeout) {
			log.Warnf("%s: %s", conf.Prefix, err)
			continue
		}
		if err != nil {
			return err
		}
		mq.Publish(topic, &reading{X: x, Y: y, Z: z, At: time.Now()})
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	conf, err := parseConfig(cmd)
	if err != nil {
		return err
	}
	if len(conf.Sensors) == 0 {
		return fmt.Errorf("no sensors configured")
	}
	if len(conf.Sensors) > 2 {
		return fmt.Errorf("at most two sensors are supported")
	}

	mq, err := newMQ(conf.Mqtt)
	if err != nil {
		return err
	}

	if err := embd.InitGPIO(); err != nil {
		return err
	}
	defer embd.CloseGPIO()

	needI2C, needSPI := false, false
	for _, s := range conf.Sensors {
		if s.Bus == "i2c" {
			needI2C = true
		} else {
			needSPI = true
		}
	}
	if needI2C {
		if err := embd.InitI2C(); err != nil {
			return err
		}
		defer embd.CloseI2C()
	}

	// One shared SPI bus; with a select pin it is demuxed into two connections.
	spiConns := make([]devices.SPI, len(conf.Sensors))
	if needSPI {
		if err := embd.InitSPI(); err != nil {
			return err
		}
		defer embd.CloseSPI()
		for i, s := range conf.Sensors {
			if s.Bus != "i2c" {
				spiConns[i] = devices.NewSPI()
			}
		}
		if conf.SelPin != "" && len(spiConns) == 2 && spiConns[0] != nil && spiConns[1] != nil {
			selPin, err := openPin(conf.SelPin)
			if err != nil {
				return err
			}
			spiConns[0], spiConns[1] = spimux.New(spiConns[0], selPin)
		}
	}

	errChan := make(chan error, len(conf.Sensors))
	for i, s := range conf.Sensors {
		dev, err := openSensor(s, spiConns[i])
		if err != nil {
			return fmt.Errorf("%s: %w", s.Prefix, err)
		}
		go func(s SensorOpt, dev *rm3100.Dev) {
			errChan <- fmt.Errorf("%s: %w", s.Prefix, sample(s, dev, mq, conf.Realtime))
		}(s, dev)
	}
	return <-errChan
}

var rootCmd = &cobra.Command{
	Use:   defaultAppName,
	Short: "publish RM3100 magnetometer readings over MQTT",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "read the configured sensors and publish to the broker",
	Long: `serve starts continuous measurement on the configured sensors and publishes
every reading. Configuration is read from, in ascending precedence: the config
file (--config flag, MAGMQTT_CONFIG environment variable, /etc/magmqtt/config.yaml
or ./config.yaml), MAGMQTT_* environment variables, command line flags.`,
	Example: `  magmqtt serve --config /path/to/config.yaml`,
	RunE:    serve,
}

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "write a configuration template",
	Example: `  magmqtt init --print`,
	RunE:    initConfig,
}

func main() {
	serveCmd.Flags().String("config", "", "configuration file path")
	serveCmd.Flags().String("mqtt-host", "localhost", "MQTT broker host")
	serveCmd.Flags().Int("mqtt-port", 1883, "MQTT broker port")
	serveCmd.Flags().Bool("debug", false, "enable debug logging")
	initCmd.Flags().Bool("print", false, "print the template to stdout")
	initCmd.Flags().StringP("output", "o", defaultConfig, "output path")
	rootCmd.AddCommand(serveCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalln(err)
	}
}
