package battmeas

import (
	"fmt"
	"math"
)

// ConverterConfig describes how raw converter samples map back to battery
// voltage: the converter's reference voltage and gain, its sample resolution,
// and the external divider between the battery and the input pin.
type ConverterConfig struct {
	ReferenceVolts float64
	ResolutionBits int
	Gain           Gain
	DividerRatio   float64
}

func (c ConverterConfig) Validate() error {
	if _, err := c.Gain.Multiplier(); err != nil {
		return err
	}
	if c.ReferenceVolts <= 0 {
		return fmt.Errorf("%w: reference voltage %gV", ErrInvalidParam, c.ReferenceVolts)
	}
	if c.ResolutionBits < 8 || c.ResolutionBits > 16 {
		return fmt.Errorf("%w: resolution %d bits", ErrInvalidParam, c.ResolutionBits)
	}
	if c.DividerRatio <= 0 || c.DividerRatio > 1 {
		return fmt.Errorf("%w: divider ratio %g", ErrInvalidParam, c.DividerRatio)
	}
	return nil
}

// DividerRatio returns the fraction of the battery voltage that a resistive
// divider presents to the converter's input pin. Both resistances zero means
// no divider is fitted; exactly one zero is a wiring mistake.
func DividerRatio(r1Ohm, r2Ohm float64) (float64, error) {
	if r1Ohm == 0 && r2Ohm == 0 {
		return 1, nil
	}
	if r1Ohm == 0 || r2Ohm == 0 {
		return 0, fmt.Errorf("%w: voltage divider needs both resistances, got %g and %g",
			ErrInvalidParam, r1Ohm, r2Ohm)
	}
	return r2Ohm / (r1Ohm + r2Ohm), nil
}

// RawToMillivolts reconstructs the battery voltage from one raw sample.
// The result is rounded to the nearest 10mV to damp LSB noise, since each
// reading is a single unaveraged sample.
func (c ConverterConfig) RawToMillivolts(raw int32) (uint16, error) {
	mult, err := c.Gain.Multiplier()
	if err != nil {
		return 0, err
	}
	if raw < 0 {
		raw = 0
	}
	pinVolts := float64(raw) / ((mult / c.ReferenceVolts) * math.Pow(2, float64(c.ResolutionBits)))
	mvf := pinVolts / c.DividerRatio * 1000
	if mvf >= maxMv {
		return maxMv, nil
	}
	return uint16((uint32(mvf) + 5) / 10 * 10), nil
}

// maxMv is the saturation point for reconstructed voltages, kept on the
// 10mV grid.
const maxMv = math.MaxUint16 / 10 * 10
