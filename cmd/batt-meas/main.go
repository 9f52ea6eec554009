/*
batt-meas - Periodic battery voltage measurement
Copyright (C) 2025, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/TheCacophonyProject/batt-meas/ads1115"
	"github.com/TheCacophonyProject/batt-meas/battmeas"
	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	arg "github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	batteryCSVFile = "/var/log/battery.csv"
	maxCSVReadings = 2000
)

var (
	version = "<not set>"
	log     = logrus.New()
)

type argSpec struct {
	ConfigFile      string `arg:"-c,--config" help:"configuration file"`
	IntervalSeconds int    `arg:"--interval" help:"override the sampling interval in seconds"`
	LogLevel        string `arg:"-l,--log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

func (argSpec) Version() string {
	return version
}

func procArgs() argSpec {
	args := argSpec{
		ConfigFile: defaultConfigFile,
	}
	arg.MustParse(&args)
	return args
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warn("Unknown log level, defaulting to info")
	}
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), entry.Message)), nil
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err.Error())
	}
	// Keep the sampling goroutines running.
	runtime.Goexit()
}

func runMain() error {
	log.SetFormatter(new(customFormatter))
	args := procArgs()
	setLogLevel(args.LogLevel)
	battmeas.SetLogger(log)

	log.Info("Running version: ", version)

	conf, err := ParseConfig(args.ConfigFile)
	if err != nil {
		return err
	}
	interval := conf.Interval()
	if args.IntervalSeconds > 0 {
		interval = time.Duration(args.IntervalSeconds) * time.Second
	}

	monitorConf, err := conf.MonitorConfig()
	if err != nil {
		return err
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return err
	}

	adc, err := ads1115.New(bus, conf.ADC.Address, conf.ADC.Channel, monitorConf.Converter.Gain)
	if err != nil {
		return err
	}

	if err := keepLastLines(batteryCSVFile, maxCSVReadings); err != nil {
		return err
	}

	sink := &sampleSink{}
	log.Info("Calibrating converter.")
	monitor, err := battmeas.NewMonitor(monitorConf, adc, sink.handle)
	if err != nil {
		return err
	}

	if conf.EnablePin != "" {
		pin := gpioreg.ByName(conf.EnablePin)
		if pin == nil {
			return fmt.Errorf("no GPIO pin named %q", conf.EnablePin)
		}
		monitor.SetEnableLine(pinLine{pin})
	}

	log.Infof("Sampling battery every %s.", interval)
	if err := monitor.Enable(interval); err != nil {
		return err
	}

	if percent, ok := monitor.InitialPercent(); ok {
		log.Infof("Initial battery level %d%%.", percent)
	}

	svc, err := startService()
	if err != nil {
		return err
	}
	sink.setService(svc)
	monitor.SetNotifier(&notifier{conn: svc.conn})
	return nil
}

// pinLine adapts a GPIO pin to the monitor's enable line.
type pinLine struct {
	pin gpio.PinIO
}

func (l pinLine) Assert() error {
	return l.pin.Out(gpio.High)
}

func (l pinLine) Deassert() error {
	return l.pin.Out(gpio.Low)
}

// sampleSink consumes pipeline events: logs them, appends them to the CSV
// history, reports low/full transitions and feeds the dbus service.
type sampleSink struct {
	mu  sync.Mutex
	svc *service

	lastClass   battmeas.Classification
	haveClass   bool
	lastTrim    time.Time
	lastLogTime time.Time
}

func (s *sampleSink) setService(svc *service) {
	s.mu.Lock()
	s.svc = svc
	s.mu.Unlock()
}

func (s *sampleSink) handle(e battmeas.SampleEvent) {
	if time.Since(s.lastLogTime) > 5*time.Minute {
		log.Infof("Battery %dmV, %d%%, %s", e.VoltageMv, e.Percent, e.Classification)
		s.lastLogTime = time.Now()
	} else {
		log.Debugf("Battery %dmV, %d%%, %s", e.VoltageMv, e.Percent, e.Classification)
	}

	if err := s.appendCSV(e); err != nil {
		log.Errorf("writing battery log: %v", err)
	}
	s.reportTransition(e)

	s.mu.Lock()
	svc := s.svc
	s.mu.Unlock()
	if svc != nil {
		svc.update(e)
	}
}

func (s *sampleSink) appendCSV(e battmeas.SampleEvent) error {
	if time.Since(s.lastTrim) > 24*time.Hour {
		if err := keepLastLines(batteryCSVFile, maxCSVReadings); err != nil {
			return err
		}
		s.lastTrim = time.Now()
	}

	file, err := os.OpenFile(batteryCSVFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s, %d, %d, %s", time.Now().Format("2006-01-02 15:04:05"),
		e.VoltageMv, e.Percent, e.Classification)
	_, err = file.WriteString(line + "\n")
	if err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// reportTransition raises an event the first time a reading crosses into the
// low or full band, not on every cycle spent there.
func (s *sampleSink) reportTransition(e battmeas.SampleEvent) {
	if s.haveClass && s.lastClass == e.Classification {
		return
	}
	s.lastClass = e.Classification
	s.haveClass = true

	var reportType string
	switch e.Classification {
	case battmeas.Low:
		log.Info("Battery low!")
		reportType = "batteryLow"
	case battmeas.Full:
		reportType = "batteryFull"
	default:
		return
	}

	err := eventclient.AddEvent(eventclient.Event{
		Timestamp: time.Now(),
		Type:      reportType,
		Details: map[string]interface{}{
			"voltageMV": e.VoltageMv,
			"percent":   e.Percent,
		},
	})
	if err != nil {
		log.Errorf("reporting %s event: %v", reportType, err)
	}
}

// keepLastLines keeps the last `maxLines` lines of the specified file.
func keepLastLines(filePath string, maxLines int) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}
	tmpFile := filepath.Join(os.TempDir(), filepath.Base(filePath)+".tmp")
	err := os.Remove(tmpFile)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	commands := []string{"sh", "-c", fmt.Sprintf("tail -n %d %s > %s", maxLines, filePath, tmpFile)}
	cmd := exec.Command(commands[0], commands[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("err running '%s', %v, %v", strings.Join(commands, " "), string(out), err)
	}
	return os.Rename(tmpFile, filePath)
}
