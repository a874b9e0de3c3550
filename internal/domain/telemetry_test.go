package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawPingAliases(t *testing.T) {
	var p RawPing
	require.NoError(t, json.Unmarshal([]byte(`{
		"deviceid": 864001,
		"lat": "52.1", "latitude": 10,
		"lon": 4.2,
		"direction": "90",
		"statusbits": 7,
		"accstatus": "ON",
		"updatetime": "2024-06-01 10:00:00",
		"fixtime": null,
		"speed": "garbage",
		"battery": {"nested": true}
	}`), &p))

	assert.Equal(t, "864001", p.Device())
	lat, ok := p.LatField().Float()
	require.True(t, ok)
	assert.Equal(t, 52.1, lat)
	lon, _ := p.LonField().Float()
	assert.Equal(t, 4.2, lon)
	hd, _ := p.HeadingField().Float()
	assert.Equal(t, 90.0, hd)
	bits, _ := p.StatusBitsField().Float()
	assert.Equal(t, 7.0, bits)
	txt, _ := p.StatusTextField().Text()
	assert.Equal(t, "ON", txt)
	assert.True(t, p.ServerTimeField().Present())
	assert.Nil(t, p.FixTimeField())

	_, ok = p.Speed.Float()
	assert.False(t, ok)
	assert.False(t, p.Battery.Present())
}

func TestFlexBool(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		present bool
	}{
		{`1`, true, true},
		{`0`, false, true},
		{`true`, true, true},
		{`"on"`, true, true},
		{`"OFF"`, false, true},
		{`"maybe"`, false, false},
	}
	for _, tc := range tests {
		var f Flex
		require.NoError(t, json.Unmarshal([]byte(tc.in), &f))
		got, ok := f.Bool()
		assert.Equal(t, tc.present, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
