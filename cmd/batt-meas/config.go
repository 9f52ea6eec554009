package main

import (
	"fmt"
	"os"
	"time"

	"github.com/TheCacophonyProject/batt-meas/battmeas"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "/etc/cacophony/batt-meas.yaml"

type Config struct {
	IntervalSeconds int    `yaml:"interval-seconds"`
	EnablePin       string `yaml:"enable-pin"`

	ADC struct {
		Address uint16 `yaml:"address"`
		Channel int    `yaml:"channel"`
	} `yaml:"adc"`

	Battery struct {
		Gain           string  `yaml:"gain"`
		ReferenceVolts float64 `yaml:"reference-volts"`
		ResolutionBits int     `yaml:"resolution-bits"`
		DividerR1Ohms  float64 `yaml:"divider-r1-ohms"`
		DividerR2Ohms  float64 `yaml:"divider-r2-ohms"`
		LowMv          uint16  `yaml:"low-mv"`
		FullMv         uint16  `yaml:"full-mv"`
		SocFirstMv     uint16  `yaml:"soc-first-mv"`
		SocDeltaMv     uint16  `yaml:"soc-delta-mv"`
		SocPercent     []uint8 `yaml:"soc-percent"`
	} `yaml:"battery"`
}

// DefaultConfig suits a single LiPo cell behind a 1.5M/1.5M divider read
// through the converter's +/-4.096V range.
func DefaultConfig() Config {
	c := Config{
		IntervalSeconds: 60,
	}
	c.ADC.Address = 0x48
	c.ADC.Channel = 0
	c.Battery.Gain = "1/2"
	c.Battery.ReferenceVolts = 2.048
	c.Battery.ResolutionBits = 15
	c.Battery.DividerR1Ohms = 1500000
	c.Battery.DividerR2Ohms = 1500000
	c.Battery.LowMv = 3200
	c.Battery.FullMv = 4150
	c.Battery.SocFirstMv = 3200
	c.Battery.SocDeltaMv = 100
	c.Battery.SocPercent = []uint8{0, 4, 10, 18, 28, 39, 51, 63, 76, 89, 100}
	return c
}

// ParseConfig reads the config file, falling back to defaults when no file is
// present.
func ParseConfig(file string) (*Config, error) {
	conf := DefaultConfig()
	data, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		log.Infof("no config file at %s, using defaults", file)
		return &conf, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", file, err)
	}
	return &conf, nil
}

// Interval is the sampling period.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// MonitorConfig maps the file form onto the measurement pipeline's config.
func (c *Config) MonitorConfig() (battmeas.Config, error) {
	gain, err := battmeas.ParseGain(c.Battery.Gain)
	if err != nil {
		return battmeas.Config{}, err
	}
	ratio, err := battmeas.DividerRatio(c.Battery.DividerR1Ohms, c.Battery.DividerR2Ohms)
	if err != nil {
		return battmeas.Config{}, err
	}
	return battmeas.Config{
		Converter: battmeas.ConverterConfig{
			ReferenceVolts: c.Battery.ReferenceVolts,
			ResolutionBits: c.Battery.ResolutionBits,
			Gain:           gain,
			DividerRatio:   ratio,
		},
		Thresholds: battmeas.Thresholds{
			LowMv:  c.Battery.LowMv,
			FullMv: c.Battery.FullMv,
		},
		Table: battmeas.SocTable{
			FirstMv: c.Battery.SocFirstMv,
			DeltaMv: c.Battery.SocDeltaMv,
			Percent: c.Battery.SocPercent,
		},
	}, nil
}
