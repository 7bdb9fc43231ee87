// Copyright (c) 2023 cavelab, see LICENSE file for details

package main

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const defaultAppName = "magmqtt"
const defaultConfig = "/etc/" + defaultAppName + "/config.yaml"

// MqttOpt describes the broker connection.
type MqttOpt struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// SensorOpt describes one RM3100 attachment.
type SensorOpt struct {
	Prefix     string  `yaml:"prefix"`     // MQTT topic prefix for this sensor
	Bus        string  `yaml:"bus"`        // "spi" or "i2c"
	Addr       string  `yaml:"addr"`       // I2C address, e.g. "0x20"
	CsPin      string  `yaml:"cspin"`      // SPI chip select pin name, empty for dedicated CS
	DrdyPin    string  `yaml:"drdypin"`    // data ready pin name, empty to poll the status register
	CycleCount int     `yaml:"cyclecount"` // per-axis cycle count
	Rate       float64 `yaml:"rate"`       // continuous update rate in Hz
}

// MagMqttOpt is the full configuration.
type MagMqttOpt struct {
	Mqtt     MqttOpt     `yaml:"mqtt"`
	SelPin   string      `yaml:"selpin"` // CS demux select pin, enables the two-sensor mode
	Sensors  []SensorOpt `yaml:"sensors"`
	Realtime bool        `yaml:"realtime"` // elevate sampling loops to realtime priority
	Debug    bool        `yaml:"debug"`
}

func newMagMqttOpt() MagMqttOpt {
	return MagMqttOpt{
		Mqtt: MqttOpt{Host: "localhost", Port: 1883},
		Sensors: []SensorOpt{
			{Prefix: "mag/0", Bus: "spi", CycleCount: 200, Rate: 9},
		},
	}
}

// parseConfig loads the configuration, in ascending precedence: defaults, the
// config file (--config flag, MAGMQTT_CONFIG env var, or the default search
// paths), MAGMQTT_* environment variables, command line flags.
func parseConfig(cmd *cobra.Command) (MagMqttOpt, error) {
	opt := newMagMqttOpt()
	v := viper.New()
	v.SetDefault("mqtt.host", opt.Mqtt.Host)
	v.SetDefault("mqtt.port", opt.Mqtt.Port)
	v.SetDefault("debug", false)

	if cfgFile, err := cmd.Flags().GetString("config"); err == nil && cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if cfgEnv := os.Getenv("MAGMQTT_CONFIG"); cfgEnv != "" {
		v.SetConfigFile(cfgEnv)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/" + defaultAppName)
		v.AddConfigPath("./")
	}

	v.SetEnvPrefix(strings.ToUpper(defaultAppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindPFlag("mqtt.host", cmd.Flags().Lookup("mqtt-host"))
	_ = v.BindPFlag("mqtt.port", cmd.Flags().Lookup("mqtt-port"))
	_ = v.BindPFlag("debug", cmd.Flags().Lookup("debug"))

	if err := v.ReadInConfig(); err == nil {
		log.Debugln("using config file:", v.ConfigFileUsed())
	} else {
		log.Warnln(err)
	}

	if err := v.Unmarshal(&opt); err != nil {
		return opt, fmt.Errorf("cannot unmarshal config: %w", err)
	}
	if opt.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	return opt, nil
}

// initConfig writes (or prints) a configuration template.
func initConfig(cmd *cobra.Command, _ []string) error {
	printFlag, _ := cmd.Flags().GetBool("print")
	outputPath, _ := cmd.Flags().GetString("output")

	buf, err := yaml.Marshal(newMagMqttOpt())
	if err != nil {
		return err
	}
	if printFlag {
		fmt.Println(string(buf))
		return nil
	}
	if err := os.WriteFile(outputPath, buf, 0644); err != nil {
		return err
	}
	log.Infoln("wrote config template to", outputPath)
	return nil
}
