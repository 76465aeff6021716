// Package translate converts raw wire values to engineering units.
//
// All functions are pure and total: every input, including NaN and
// infinities, maps to a defined output.
//
// # Gain
//
//	raw ≤ -280617           → -∞ dB (mute)
//	-280617 < raw < 0       → -80 + ((raw+280617)/280617)·70 dB
//	raw = 0                 → 0 dB (unity)
//	raw > 0                 → raw/10000 dB
//
// The logarithmic segment is a linear approximation of the device law and is
// not authoritative below -10 dB.
//
// # Meter
//
// Pure linear raw/10000 dB.
//
// # Fader
//
// Normalized position 0..1 with a knee at 0.73 (0 dB) and +10 dB at 1.0.
// Positions at or below 0.01 are -∞ dB by convention.
//
// # Percent
//
// raw = round(percent/100·65536) for every percent-family message.
package translate

import (
	"math"
)

// Gain law constants.
const (
	// GainMuteRaw is the raw value at and below which gain is -∞ dB.
	GainMuteRaw int32 = -280617

	// GainMaxRaw is the raw value for the +10 dB ceiling.
	GainMaxRaw int32 = 100000

	// GainFloorDB is the lowest finite gain.
	GainFloorDB = -80.0

	// GainCeilingDB is the highest gain.
	GainCeilingDB = 10.0

	// gainLogSpanDB is the dB range covered by the logarithmic segment.
	gainLogSpanDB = 70.0

	// RawPerDB scales the linear segments.
	RawPerDB = 10000.0
)

// Fader law constants.
const (
	// FaderKnee is the normalized position of 0 dB.
	FaderKnee = 0.73

	// FaderMuteThreshold is the position at or below which the fader is -∞ dB.
	FaderMuteThreshold = 0.01
)

// PercentScale is the raw value of 100 percent.
const PercentScale = 65536.0

// GainRawToDB converts a raw gain value to decibels.
func GainRawToDB(raw int32) float64 {
	switch {
	case raw <= GainMuteRaw:
		return math.Inf(-1)
	case raw == 0:
		return 0
	case raw > 0:
		return float64(raw) / RawPerDB
	default:
		span := -float64(GainMuteRaw)
		return GainFloorDB + ((float64(raw)+span)/span)*gainLogSpanDB
	}
}

// GainDBToRaw converts decibels to a raw gain value. Input is clamped to
// [-80, +10] dB; -80 dB and below (and NaN) is the mute floor. Values between
// -10 and 0 dB have no exact raw form and snap to the nearer of raw -1 and 0.
func GainDBToRaw(db float64) int32 {
	switch {
	case math.IsNaN(db) || db <= GainFloorDB:
		return GainMuteRaw
	case db >= GainCeilingDB:
		return GainMaxRaw
	case db >= 0:
		return int32(math.Round(db * RawPerDB))
	}

	top := GainFloorDB + gainLogSpanDB
	if db >= top {
		// Between the top of the log segment and unity.
		if db-top < -db {
			return -1
		}
		return 0
	}

	span := -float64(GainMuteRaw)
	raw := int32(math.Round((db-GainFloorDB)/gainLogSpanDB*span)) + GainMuteRaw
	if raw <= GainMuteRaw {
		raw = GainMuteRaw + 1
	}
	if raw >= 0 {
		raw = -1
	}
	return raw
}

// MeterRawToDB converts a raw meter reading to decibels.
func MeterRawToDB(raw int32) float64 {
	return float64(raw) / RawPerDB
}

// MeterDBToRaw converts decibels to a raw meter value, saturating at the
// int32 range.
func MeterDBToRaw(db float64) int32 {
	return clampInt32(math.Round(db * RawPerDB))
}

// FaderToDB converts a normalized fader position to decibels.
func FaderToDB(pos float64) float64 {
	switch {
	case math.IsNaN(pos) || pos <= FaderMuteThreshold:
		return math.Inf(-1)
	case pos >= 1:
		return GainCeilingDB
	case pos < FaderKnee:
		return GainFloorDB + pos*(-GainFloorDB)/FaderKnee
	default:
		return (pos - FaderKnee) / (1 - FaderKnee) * GainCeilingDB
	}
}

// DBToFader converts decibels to a normalized fader position in [0, 1].
func DBToFader(db float64) float64 {
	switch {
	case math.IsNaN(db) || db <= GainFloorDB:
		return 0
	case db >= GainCeilingDB:
		return 1
	case db < 0:
		return (db - GainFloorDB) * FaderKnee / (-GainFloorDB)
	default:
		return FaderKnee + db/GainCeilingDB*(1-FaderKnee)
	}
}

// PercentToRaw converts a percentage to its raw wire value.
func PercentToRaw(percent float64) int32 {
	if math.IsNaN(percent) {
		return 0
	}
	return clampInt32(math.Round(percent / 100 * PercentScale))
}

// RawToPercent converts a raw percent-family value to a percentage.
func RawToPercent(raw int32) float64 {
	return float64(raw) / PercentScale * 100
}

func clampInt32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	default:
		return int32(v)
	}
}
