package battmeas

import "fmt"

// Gain is the converter's programmable gain setting.
type Gain uint8

const (
	Gain1_6 Gain = iota // 1/6
	Gain1_5             // 1/5
	Gain1_4             // 1/4
	Gain1_3             // 1/3
	Gain1_2             // 1/2
	Gain1               // 1
	Gain2               // 2
	Gain4               // 4
)

// Multiplier returns the real gain factor for the setting.
func (g Gain) Multiplier() (float64, error) {
	switch g {
	case Gain1_6:
		return 1.0 / 6, nil
	case Gain1_5:
		return 1.0 / 5, nil
	case Gain1_4:
		return 1.0 / 4, nil
	case Gain1_3:
		return 1.0 / 3, nil
	case Gain1_2:
		return 1.0 / 2, nil
	case Gain1:
		return 1, nil
	case Gain2:
		return 2, nil
	case Gain4:
		return 4, nil
	}
	return 0, fmt.Errorf("%w: gain setting %d", ErrInvalidParam, g)
}

func (g Gain) String() string {
	switch g {
	case Gain1_6:
		return "1/6"
	case Gain1_5:
		return "1/5"
	case Gain1_4:
		return "1/4"
	case Gain1_3:
		return "1/3"
	case Gain1_2:
		return "1/2"
	case Gain1:
		return "1"
	case Gain2:
		return "2"
	case Gain4:
		return "4"
	}
	return fmt.Sprintf("Gain(%d)", uint8(g))
}

// ParseGain converts the configuration file form ("1/6" .. "4") to a Gain.
func ParseGain(s string) (Gain, error) {
	for g := Gain1_6; g <= Gain4; g++ {
		if g.String() == s {
			return g, nil
		}
	}
	return 0, fmt.Errorf("%w: gain %q", ErrInvalidParam, s)
}
