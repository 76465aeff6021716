package translate

import (
	"fmt"
	"strings"
)

// ControlClass selects the conversion law for a parameter.
type ControlClass uint8

const (
	// ClassRaw passes raw values through unchanged.
	ClassRaw ControlClass = iota

	// ClassGain uses the gain law (dB).
	ClassGain

	// ClassMeter uses the meter law (dB).
	ClassMeter

	// ClassPercent uses the percent law.
	ClassPercent

	// ClassBoolean maps 0 to false and anything else to true.
	ClassBoolean
)

// String returns the class name.
func (c ControlClass) String() string {
	switch c {
	case ClassRaw:
		return "raw"
	case ClassGain:
		return "gain"
	case ClassMeter:
		return "meter"
	case ClassPercent:
		return "percent"
	case ClassBoolean:
		return "boolean"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// ParseControlClass parses a class name as returned by String.
func ParseControlClass(s string) (ControlClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "raw":
		return ClassRaw, nil
	case "gain":
		return ClassGain, nil
	case "meter":
		return ClassMeter, nil
	case "percent", "pct":
		return ClassPercent, nil
	case "boolean", "bool", "switch":
		return ClassBoolean, nil
	default:
		return ClassRaw, fmt.Errorf("unknown control class %q", s)
	}
}

// Law maps raw wire values to an engineering unit and back.
type Law interface {
	// ToUnit converts a raw value.
	ToUnit(raw int32) float64

	// ToRaw converts an engineering value.
	ToRaw(v float64) int32

	// Unit names the engineering unit ("dB", "%", "").
	Unit() string
}

type rawLaw struct{}

func (rawLaw) ToUnit(raw int32) float64 { return float64(raw) }
func (rawLaw) ToRaw(v float64) int32    { return clampInt32(v) }
func (rawLaw) Unit() string             { return "" }

type gainLaw struct{}

func (gainLaw) ToUnit(raw int32) float64 { return GainRawToDB(raw) }
func (gainLaw) ToRaw(v float64) int32    { return GainDBToRaw(v) }
func (gainLaw) Unit() string             { return "dB" }

type meterLaw struct{}

func (meterLaw) ToUnit(raw int32) float64 { return MeterRawToDB(raw) }
func (meterLaw) ToRaw(v float64) int32    { return MeterDBToRaw(v) }
func (meterLaw) Unit() string             { return "dB" }

type percentLaw struct{}

func (percentLaw) ToUnit(raw int32) float64 { return RawToPercent(raw) }
func (percentLaw) ToRaw(v float64) int32    { return PercentToRaw(v) }
func (percentLaw) Unit() string             { return "%" }

type booleanLaw struct{}

func (booleanLaw) ToUnit(raw int32) float64 {
	if raw != 0 {
		return 1
	}
	return 0
}

func (booleanLaw) ToRaw(v float64) int32 {
	if v != 0 {
		return 1
	}
	return 0
}

func (booleanLaw) Unit() string { return "" }

// LawFor returns the conversion law for c. Unknown classes get the raw law.
func LawFor(c ControlClass) Law {
	switch c {
	case ClassGain:
		return gainLaw{}
	case ClassMeter:
		return meterLaw{}
	case ClassPercent:
		return percentLaw{}
	case ClassBoolean:
		return booleanLaw{}
	default:
		return rawLaw{}
	}
}
