package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want Value
	}{
		{"0", Raw(0)},
		{"-280617", Raw(-280617)},
		{"0x10", Raw(16)},
		{"50%", Percent(50)},
		{" 12.5 % ", Percent(12.5)},
		{"on", Boolean(true)},
		{"OFF", Boolean(false)},
		{"true", Boolean(true)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "loud", "x%", "99999999999"} {
		_, err := ParseValue(bad)
		assert.Error(t, err, bad)
	}
}

func TestValueMessage(t *testing.T) {
	addr := wire.Address{Node: 1, VirtualDevice: 3, Object: 0x010203}

	assert.Equal(t, wire.SetRaw(addr, -5), Raw(-5).Message(addr))
	assert.Equal(t, wire.SetPercent(addr, 65536), Percent(100).Message(addr))
	assert.Equal(t, wire.SetPercent(addr, 0), Percent(0).Message(addr))
	assert.Equal(t, wire.SetRaw(addr, 1), Boolean(true).Message(addr))
	assert.Equal(t, wire.SetRaw(addr, 0), Boolean(false).Message(addr))
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "42", Raw(42).String())
	assert.Equal(t, "12.5%", Percent(12.5).String())
	assert.Equal(t, "on", Boolean(true).String())
	assert.Equal(t, KindPercent, Percent(1).Kind())
	assert.Equal(t, "boolean", KindBoolean.String())
}
