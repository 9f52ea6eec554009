// Package ads1115 drives a TI ADS1115 analog converter over I2C and adapts
// it to the battmeas converter contract: single-shot conversions with an
// asynchronous completion callback, powered down between samples.
package ads1115

import (
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/batt-meas/battmeas"
	"periph.io/x/conn/v3/i2c"
)

const (
	DefaultAddress = 0x48

	regConversion = 0x00
	regConfig     = 0x01

	configOsSingle   uint16 = 0x8000
	configModeSingle uint16 = 0x0100

	// Data rate 128 SPS, so a conversion takes just under 8ms.
	configDataRate128 uint16 = 0x0080
	conversionWait           = 10 * time.Millisecond

	// Comparator disabled.
	configComparatorQueueNone uint16 = 0x0003
)

// PGA full-scale range settings.
const (
	gainTwoThirds uint16 = 0x0000 // +/- 6.144V
	gainOne       uint16 = 0x0200 // +/- 4.096V
	gainTwo       uint16 = 0x0400 // +/- 2.048V
	gainFour      uint16 = 0x0600 // +/- 1.024V
	gainEight     uint16 = 0x0800 // +/- 0.512V
	gainSixteen   uint16 = 0x0A00 // +/- 0.256V
)

// muxForChannel returns mux bits for single-ended AINx vs GND.
func muxForChannel(ch int) (uint16, error) {
	if ch < 0 || ch > 3 {
		return 0, fmt.Errorf("%w: ADS1115 channel %d", battmeas.ErrInvalidParam, ch)
	}
	return uint16(0x4000 + ch*0x1000), nil
}

// pgaForGain maps a converter gain setting onto the nearest PGA range. The
// ADS1115's PGA runs the other way around from the gain enumeration (a higher
// PGA gain means a smaller full-scale range), so the sub-unity settings all
// collapse onto the widest ranges.
func pgaForGain(g battmeas.Gain) (uint16, error) {
	switch g {
	case battmeas.Gain1_6, battmeas.Gain1_5, battmeas.Gain1_4, battmeas.Gain1_3:
		return gainTwoThirds, nil
	case battmeas.Gain1_2:
		return gainOne, nil
	case battmeas.Gain1:
		return gainTwo, nil
	case battmeas.Gain2:
		return gainFour, nil
	case battmeas.Gain4:
		return gainEight, nil
	}
	return 0, fmt.Errorf("%w: gain setting %d", battmeas.ErrInvalidParam, g)
}

// Dev is one ADS1115 channel exposed as a battmeas.Converter.
type Dev struct {
	dev    i2c.Dev
	config uint16

	mu          sync.Mutex
	handler     func(battmeas.Completion)
	initialized bool
}

// New prepares the converter on the given bus address, sampling the given
// single-ended channel with the given gain.
func New(bus i2c.Bus, addr uint16, channel int, gain battmeas.Gain) (*Dev, error) {
	mux, err := muxForChannel(channel)
	if err != nil {
		return nil, err
	}
	pga, err := pgaForGain(gain)
	if err != nil {
		return nil, err
	}
	return &Dev{
		dev:    i2c.Dev{Bus: bus, Addr: addr},
		config: configOsSingle | mux | pga | configModeSingle | configDataRate128 | configComparatorQueueNone,
	}, nil
}

// Init claims the converter for one cycle. The chip itself needs no powering
// up, it idles in shutdown between single-shot conversions, so Init only
// arms the completion handler and the busy flag.
func (d *Dev) Init(handler func(battmeas.Completion)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return battmeas.ErrConverterBusy
	}
	d.initialized = true
	d.handler = handler
	return nil
}

// Uninit releases the converter for the next cycle.
func (d *Dev) Uninit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialized = false
}

// StartConversion triggers a single-shot conversion and delivers the raw
// sample through the completion handler once the conversion time has passed.
func (d *Dev) StartConversion() error {
	d.mu.Lock()
	handler := d.handler
	d.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("%w: converter not initialized", battmeas.ErrInvalidParam)
	}
	if err := d.writeConfig(); err != nil {
		return fmt.Errorf("starting conversion: %w", err)
	}
	go func() {
		time.Sleep(conversionWait)
		raw, err := d.readConversion()
		if err != nil {
			// A failed read must not look like a real sample. The pipeline
			// escalates completion errors rather than classifying them.
			handler(battmeas.Completion{Err: fmt.Errorf("reading conversion: %w", err)})
			return
		}
		handler(battmeas.Completion{Raw: raw})
	}()
	return nil
}

// CalibrateOffset runs a throwaway conversion. The ADS1115 calibrates its own
// offset internally; the dummy conversion settles the mux and input filter
// before real sampling starts.
func (d *Dev) CalibrateOffset() error {
	d.mu.Lock()
	handler := d.handler
	d.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("%w: converter not initialized", battmeas.ErrInvalidParam)
	}
	if err := d.writeConfig(); err != nil {
		return fmt.Errorf("starting calibration conversion: %w", err)
	}
	go func() {
		time.Sleep(conversionWait)
		if _, err := d.readConversion(); err != nil {
			handler(battmeas.Completion{
				Calibration: true,
				Err:         fmt.Errorf("reading calibration conversion: %w", err),
			})
			return
		}
		handler(battmeas.Completion{Calibration: true})
	}()
	return nil
}

func (d *Dev) writeConfig() error {
	_, err := d.dev.Write([]byte{regConfig, byte(d.config >> 8), byte(d.config & 0xFF)})
	return err
}

func (d *Dev) readConversion() (int32, error) {
	data := make([]byte, 2)
	if err := d.dev.Tx([]byte{regConversion}, data); err != nil {
		return 0, err
	}
	return int32(int16(uint16(data[0])<<8 | uint16(data[1]))), nil
}
