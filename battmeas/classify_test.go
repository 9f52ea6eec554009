package battmeas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	limits := Thresholds{LowMv: 3000, FullMv: 4200}
	assert.NoError(t, limits.Validate())

	assert.Equal(t, Low, limits.Classify(2950))
	assert.Equal(t, Low, limits.Classify(3000))
	assert.Equal(t, Data, limits.Classify(3001))
	assert.Equal(t, Data, limits.Classify(3700))
	assert.Equal(t, Data, limits.Classify(4199))
	assert.Equal(t, Full, limits.Classify(4200))
	assert.Equal(t, Full, limits.Classify(5000))
}

func TestClassifyDegenerateLimits(t *testing.T) {
	// Low is checked first, so low >= full always reads as Low. Validate
	// rejects the pair so this only matters if validation is skipped.
	limits := Thresholds{LowMv: 4200, FullMv: 3000}
	assert.ErrorIs(t, limits.Validate(), ErrInvalidParam)
	assert.Equal(t, Low, limits.Classify(3500))
}

func TestClassificationString(t *testing.T) {
	assert.Equal(t, "low", Low.String())
	assert.Equal(t, "full", Full.String())
	assert.Equal(t, "data", Data.String())
}
