package ads1115

import (
	"testing"
	"time"

	"github.com/TheCacophonyProject/batt-meas/battmeas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestSingleShotConversion(t *testing.T) {
	// AIN0, gain 1 (+/-2.048V range), 128 SPS, comparator off.
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: DefaultAddress, W: []byte{regConfig, 0xC5, 0x83}},
			{Addr: DefaultAddress, W: []byte{regConversion}, R: []byte{0x08, 0x00}},
		},
	}
	d, err := New(bus, DefaultAddress, 0, battmeas.Gain1)
	require.NoError(t, err)

	completions := make(chan battmeas.Completion, 1)
	require.NoError(t, d.Init(func(c battmeas.Completion) {
		completions <- c
	}))
	require.NoError(t, d.StartConversion())

	select {
	case c := <-completions:
		assert.False(t, c.Calibration)
		assert.Equal(t, int32(2048), c.Raw)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for conversion completion")
	}
	assert.NoError(t, bus.Close())
}

func TestReadFailureDeliveredAsError(t *testing.T) {
	// The bus accepts the conversion trigger but the readback fails. The
	// completion must carry the failure, never a made-up zero sample.
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: DefaultAddress, W: []byte{regConfig, 0xC5, 0x83}},
		},
		DontPanic: true,
	}
	d, err := New(bus, DefaultAddress, 0, battmeas.Gain1)
	require.NoError(t, err)

	completions := make(chan battmeas.Completion, 1)
	require.NoError(t, d.Init(func(c battmeas.Completion) {
		completions <- c
	}))
	require.NoError(t, d.StartConversion())

	select {
	case c := <-completions:
		assert.Error(t, c.Err)
		assert.False(t, c.Calibration)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestBusyUntilUninit(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}
	d, err := New(bus, DefaultAddress, 1, battmeas.Gain1_2)
	require.NoError(t, err)

	require.NoError(t, d.Init(func(battmeas.Completion) {}))
	assert.ErrorIs(t, d.Init(func(battmeas.Completion) {}), battmeas.ErrConverterBusy)

	d.Uninit()
	assert.NoError(t, d.Init(func(battmeas.Completion) {}))
}

func TestNewValidation(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}

	_, err := New(bus, DefaultAddress, 4, battmeas.Gain1)
	assert.ErrorIs(t, err, battmeas.ErrInvalidParam)

	_, err = New(bus, DefaultAddress, 0, battmeas.Gain(42))
	assert.ErrorIs(t, err, battmeas.ErrInvalidParam)
}

func TestStartConversionRequiresInit(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}
	d, err := New(bus, DefaultAddress, 0, battmeas.Gain1)
	require.NoError(t, err)

	assert.ErrorIs(t, d.StartConversion(), battmeas.ErrInvalidParam)
	assert.ErrorIs(t, d.CalibrateOffset(), battmeas.ErrInvalidParam)
}
