package battmeas

import "fmt"

// SocTable maps battery voltage to remaining charge percent. Percent entries
// are spaced DeltaMv apart, the first one at FirstMv.
type SocTable struct {
	FirstMv uint16
	DeltaMv uint16
	Percent []uint8
}

func (t SocTable) Validate() error {
	if t.DeltaMv == 0 {
		return fmt.Errorf("%w: state of charge table needs a voltage step", ErrInvalidParam)
	}
	if len(t.Percent) == 0 {
		return fmt.Errorf("%w: state of charge table is empty", ErrInvalidParam)
	}
	return nil
}

// PercentAt returns the state of charge for the given battery voltage.
// Voltages outside the table saturate to the first or last entry.
func (t SocTable) PercentAt(mv uint16) uint8 {
	i := (int(mv) - int(t.FirstMv)) / int(t.DeltaMv)
	if i < 0 {
		i = 0
	} else if i > len(t.Percent)-1 {
		i = len(t.Percent) - 1
	}
	return t.Percent[i]
}
