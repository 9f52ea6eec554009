package battmeas

import "fmt"

// Classification of one voltage reading against the configured limits.
type Classification uint8

const (
	Low Classification = iota
	Full
	Data
)

func (c Classification) String() string {
	switch c {
	case Low:
		return "low"
	case Full:
		return "full"
	case Data:
		return "data"
	}
	return fmt.Sprintf("Classification(%d)", uint8(c))
}

// Thresholds are the low and full battery voltage limits.
type Thresholds struct {
	LowMv  uint16
	FullMv uint16
}

func (t Thresholds) Validate() error {
	if t.FullMv < t.LowMv {
		return fmt.Errorf("%w: full limit %dmV below low limit %dmV",
			ErrInvalidParam, t.FullMv, t.LowMv)
	}
	return nil
}

// Classify compares a reading against the limits. Low is checked before Full,
// so a misconfigured pair (low >= full) always resolves to Low; Validate
// rejects such a pair up front.
func (t Thresholds) Classify(mv uint16) Classification {
	switch {
	case mv <= t.LowMv:
		return Low
	case mv >= t.FullMv:
		return Full
	default:
		return Data
	}
}
