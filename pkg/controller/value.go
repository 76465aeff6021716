package controller

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/buzzspeakerhire/bss-control-app/pkg/translate"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

// ValueKind tags a Value.
type ValueKind uint8

const (
	KindRaw ValueKind = iota
	KindPercent
	KindBoolean
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindPercent:
		return "percent"
	case KindBoolean:
		return "boolean"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a parameter value to set: a raw wire integer, a percentage or a
// boolean switch state.
type Value struct {
	kind    ValueKind
	raw     int32
	percent float64
	on      bool
}

// Raw returns a raw Value.
func Raw(v int32) Value { return Value{kind: KindRaw, raw: v} }

// Percent returns a percent Value, 0 to 100.
func Percent(p float64) Value { return Value{kind: KindPercent, percent: p} }

// Boolean returns a switch Value.
func Boolean(on bool) Value { return Value{kind: KindBoolean, on: on} }

// Kind returns the tag.
func (v Value) Kind() ValueKind { return v.kind }

// String formats the value the way ParseValue reads it.
func (v Value) String() string {
	switch v.kind {
	case KindPercent:
		return strconv.FormatFloat(v.percent, 'f', -1, 64) + "%"
	case KindBoolean:
		if v.on {
			return "on"
		}
		return "off"
	default:
		return strconv.FormatInt(int64(v.raw), 10)
	}
}

// Message resolves v to the wire message that sets addr.
//
//	Raw      → SET_RAW value
//	Percent  → SET_PERCENT round(p/100·65536)
//	Boolean  → SET_RAW 1 or 0
func (v Value) Message(addr wire.Address) wire.Message {
	switch v.kind {
	case KindPercent:
		return wire.SetPercent(addr, translate.PercentToRaw(v.percent))
	case KindBoolean:
		if v.on {
			return wire.SetRaw(addr, 1)
		}
		return wire.SetRaw(addr, 0)
	default:
		return wire.SetRaw(addr, v.raw)
	}
}

// ParseValue reads "on"/"off"/"true"/"false" as Boolean, "50%" as Percent
// and an integer as Raw.
func ParseValue(s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "on", "true":
		return Boolean(true), nil
	case "off", "false":
		return Boolean(false), nil
	}
	if p, ok := strings.CutSuffix(s, "%"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid percent %q", s)
		}
		return Percent(f), nil
	}
	n, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return Value{}, fmt.Errorf("invalid value %q: want integer, N%% or on/off", s)
	}
	return Raw(int32(n)), nil
}
