package translate

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGainRawToDB(t *testing.T) {
	tests := []struct {
		name string
		raw  int32
		want float64
	}{
		{"unity", 0, 0},
		{"ceiling", 100000, 10},
		{"linear positive", 25000, 2.5},
		{"log floor+1", GainMuteRaw + 1, -80 + 70.0/280617},
		{"log midpoint", -140308, -80 + (280617.0-140308)/280617*70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, GainRawToDB(tt.raw), 1e-9)
		})
	}

	assert.True(t, math.IsInf(GainRawToDB(-280617), -1))
	assert.True(t, math.IsInf(GainRawToDB(math.MinInt32), -1))
	assert.Equal(t, 0.0, GainRawToDB(0))
	assert.Equal(t, 10.0, GainRawToDB(100000))

	// Just below unity sits at the top of the log segment.
	assert.InDelta(t, -10, GainRawToDB(-1), 0.001)
}

func TestGainDBToRaw(t *testing.T) {
	assert.Equal(t, GainMuteRaw, GainDBToRaw(math.Inf(-1)))
	assert.Equal(t, GainMuteRaw, GainDBToRaw(-80))
	assert.Equal(t, GainMuteRaw, GainDBToRaw(-120))
	assert.Equal(t, GainMuteRaw, GainDBToRaw(math.NaN()))
	assert.Equal(t, int32(0), GainDBToRaw(0))
	assert.Equal(t, int32(100000), GainDBToRaw(10))
	assert.Equal(t, int32(100000), GainDBToRaw(25))
	assert.Equal(t, int32(100000), GainDBToRaw(math.Inf(1)))
	assert.Equal(t, int32(25000), GainDBToRaw(2.5))

	// No exact raw form between -10 and 0 dB.
	assert.Equal(t, int32(-1), GainDBToRaw(-9))
	assert.Equal(t, int32(0), GainDBToRaw(-1))

	// Log segment stays strictly inside (mute, 0).
	for _, db := range []float64{-79.9999, -60, -40, -10.0001} {
		raw := GainDBToRaw(db)
		assert.Greater(t, raw, GainMuteRaw, "db=%v", db)
		assert.Less(t, raw, int32(0), "db=%v", db)
	}
}

func TestGainRoundTrip(t *testing.T) {
	for _, raw := range []int32{GainMuteRaw, 0, GainMaxRaw, -1, GainMuteRaw + 1} {
		assert.Equal(t, raw, GainDBToRaw(GainRawToDB(raw)), "raw=%d", raw)
	}

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 5000; i++ {
		raw := GainMuteRaw + 1 + rng.Int31n(-GainMuteRaw+GainMaxRaw)
		got := GainDBToRaw(GainRawToDB(raw))
		assert.Equal(t, raw, got, "raw=%d", raw)
	}
}

func TestMeter(t *testing.T) {
	assert.Equal(t, 0.0, MeterRawToDB(0))
	assert.Equal(t, -12.5, MeterRawToDB(-125000))
	assert.Equal(t, -280617.0/10000, MeterRawToDB(GainMuteRaw))
	assert.Equal(t, int32(-125000), MeterDBToRaw(-12.5))
	assert.Equal(t, int32(math.MaxInt32), MeterDBToRaw(math.Inf(1)))
	assert.Equal(t, int32(math.MinInt32), MeterDBToRaw(math.Inf(-1)))
}

func TestFader(t *testing.T) {
	assert.True(t, math.IsInf(FaderToDB(0), -1))
	assert.True(t, math.IsInf(FaderToDB(0.01), -1))
	assert.False(t, math.IsInf(FaderToDB(0.0101), -1))
	assert.InDelta(t, 0, FaderToDB(0.73), 1e-12)
	assert.InDelta(t, 10, FaderToDB(1), 1e-12)
	assert.InDelta(t, -40, FaderToDB(0.365), 1e-9)
	assert.InDelta(t, 5, FaderToDB(0.865), 1e-9)

	assert.Equal(t, 0.0, DBToFader(math.Inf(-1)))
	assert.Equal(t, 1.0, DBToFader(10))
	assert.Equal(t, 1.0, DBToFader(40))
	assert.InDelta(t, 0.73, DBToFader(0), 1e-12)

	for _, pos := range []float64{0.02, 0.2, 0.5, 0.72, 0.73, 0.8, 0.99, 1} {
		assert.InDelta(t, pos, DBToFader(FaderToDB(pos)), 1e-9, "pos=%v", pos)
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, int32(65536), PercentToRaw(100))
	assert.Equal(t, int32(32768), PercentToRaw(50))
	assert.Equal(t, int32(0), PercentToRaw(0))
	assert.Equal(t, int32(-655), PercentToRaw(-1))
	assert.Equal(t, int32(0), PercentToRaw(math.NaN()))
	assert.Equal(t, 100.0, RawToPercent(65536))
	assert.Equal(t, 50.0, RawToPercent(32768))

	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 5000; i++ {
		raw := rng.Int31n(2*65536) - 65536
		got := PercentToRaw(RawToPercent(raw))
		require.InDelta(t, raw, got, 1, "raw=%d", raw)
	}
}

func TestLawFor(t *testing.T) {
	assert.Equal(t, "dB", LawFor(ClassGain).Unit())
	assert.Equal(t, 10.0, LawFor(ClassGain).ToUnit(100000))
	assert.Equal(t, int32(32768), LawFor(ClassPercent).ToRaw(50))
	assert.Equal(t, -1.5, LawFor(ClassMeter).ToUnit(-15000))
	assert.Equal(t, 42.0, LawFor(ClassRaw).ToUnit(42))
	assert.Equal(t, int32(1), LawFor(ClassBoolean).ToRaw(1))
	assert.Equal(t, 0.0, LawFor(ClassBoolean).ToUnit(0))

	c, err := ParseControlClass("Gain")
	require.NoError(t, err)
	assert.Equal(t, ClassGain, c)
	_, err = ParseControlClass("loudness")
	assert.Error(t, err)
}
