package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/tracking/internal/domain"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return fixedNow }
	return opts
}

func decodePing(t *testing.T, payload string) *domain.RawPing {
	t.Helper()
	var raw domain.RawPing
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))
	return &raw
}

func TestSpeed(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name string
		raw  float64
		want float64
	}{
		{"zero", 0, 0},
		{"negative", -12, 0},
		{"drift below floor", 2.9, 0},
		{"at floor", 3, 3},
		{"plain kmh", 87.5, 87.5},
		{"cutoff stays kmh", 200, 200},
		{"meters per hour", 45000, 45},
		{"unambiguous meters per hour", 250000, 250},
		{"clamped", 2000000, 300},
		{"meters per hour drift", 1500, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Speed(tc.raw, th), 1e-9)
		})
	}
}

func TestSpeedIsStableOnNormalizedValues(t *testing.T) {
	th := DefaultThresholds()
	for v := 0.0; v <= 200; v += 0.5 {
		once := Speed(v, th)
		assert.Equal(t, once, Speed(once, th), "raw=%v", v)
	}
}

func TestSpeedLargeInputsAreClamped(t *testing.T) {
	th := DefaultThresholds()
	for _, v := range []float64{100000, 100001, 299999, 300001, 5e6, 1e12} {
		assert.LessOrEqual(t, Speed(v, th), 300.0, "raw=%v", v)
	}
}

func TestCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		valid    bool
	}{
		{"null island", 0, 0, false},
		{"lat too high", 90.0001, 10, false},
		{"lat too low", -91, 10, false},
		{"lon too high", 10, 180.5, false},
		{"lon too low", 10, -181, false},
		{"valid", 28.6139, 77.209, true},
		{"equator is fine off meridian", 0, 32.5, true},
		{"poles", 90, -180, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lat, lon := Coordinates(tc.lat, tc.lon, true, true)
			if !tc.valid {
				assert.Nil(t, lat)
				assert.Nil(t, lon)
				return
			}
			require.NotNil(t, lat)
			require.NotNil(t, lon)
			assert.Equal(t, tc.lat, *lat)
			assert.Equal(t, tc.lon, *lon)
		})
	}

	lat, lon := Coordinates(10, 0, true, false)
	assert.Nil(t, lat)
	assert.Nil(t, lon)
}

func TestSignalPercent(t *testing.T) {
	tests := []struct {
		raw  float64
		want float64
	}{
		{0, 0},
		{31, 100},
		{15.5, 50},
		{99, 100},
		{50, 51},
		{100, 100},
		{250, 100},
	}
	for _, tc := range tests {
		got := SignalPercent(tc.raw, true)
		require.NotNil(t, got, "raw=%v", tc.raw)
		assert.Equal(t, tc.want, *got, "raw=%v", tc.raw)
	}
	assert.Nil(t, SignalPercent(0, false))
	assert.Nil(t, SignalPercent(-3, true))
}

func TestHeading(t *testing.T) {
	h := Heading(-90, true)
	require.NotNil(t, h)
	assert.Equal(t, 270.0, *h)
	h = Heading(725, true)
	require.NotNil(t, h)
	assert.Equal(t, 5.0, *h)
	assert.Nil(t, Heading(0, false))
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 6, 1, 11, 30, 0, 0, time.UTC)
	tests := []struct {
		name  string
		field domain.Flex
		ok    bool
	}{
		{"seconds", domain.FlexNumber(float64(want.Unix())), true},
		{"milliseconds", domain.FlexNumber(float64(want.UnixMilli())), true},
		{"microseconds", domain.FlexNumber(float64(want.UnixMicro())), true},
		{"numeric string", domain.FlexString("1717241400"), true},
		{"rfc3339", domain.FlexString("2024-06-01T11:30:00Z"), true},
		{"offset", domain.FlexString("2024-06-01T13:30:00+02:00"), true},
		{"space separated", domain.FlexString("2024-06-01 11:30:00"), true},
		{"before 2000", domain.FlexString("1999-12-31 23:59:59"), false},
		{"far future", domain.FlexString("2024-06-01T12:06:00Z"), false},
		{"garbage", domain.FlexString("yesterday"), false},
		{"negative", domain.FlexNumber(-5), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := tc.field
			got, ok := ParseTimestamp(&f, fixedNow)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.True(t, want.Equal(got), "got %v", got)
			}
		})
	}

	_, ok := ParseTimestamp(nil, fixedNow)
	assert.False(t, ok)
}

func TestParseTimestampAllowsSmallSkew(t *testing.T) {
	f := domain.FlexString(fixedNow.Add(4 * time.Minute).Format(time.RFC3339))
	_, ok := ParseTimestamp(&f, fixedNow)
	assert.True(t, ok)
}

func TestNormalizeFullPing(t *testing.T) {
	raw := decodePing(t, `{
		"imei": "868120123456789",
		"callat": "28.6139", "callon": 77.2090,
		"speed": 45000,
		"course": 370,
		"altitude": 215,
		"status": 7,
		"externalvoltage": 12.8,
		"signal": 31,
		"datetime": 1717241400,
		"servertime": 1717241460,
		"gpstime": "2024-06-01 11:29:50"
	}`)

	st := Normalize(raw, testOptions())

	assert.Equal(t, "868120123456789", st.VehicleID)
	require.True(t, st.HasPosition())
	assert.Equal(t, 28.6139, *st.Latitude)
	assert.Equal(t, 77.209, *st.Longitude)
	assert.Equal(t, 45.0, st.SpeedKmh)
	assert.True(t, st.Ignition)
	assert.Equal(t, domain.IgnitionStatusBit, st.IgnitionMethod)
	assert.True(t, st.Moving)
	require.NotNil(t, st.BatteryPct)
	assert.Equal(t, 100.0, *st.BatteryPct)
	require.NotNil(t, st.SignalPct)
	assert.Equal(t, 100.0, *st.SignalPct)
	require.NotNil(t, st.Heading)
	assert.Equal(t, 10.0, *st.Heading)
	require.NotNil(t, st.Altitude)
	assert.Equal(t, 215.0, *st.Altitude)
	assert.Equal(t, domain.TimestampDevice, st.TimestampSource)
	assert.Equal(t, int64(1717241400), st.LastUpdated.Unix())
	require.NotNil(t, st.GPSFixTime)
	assert.Equal(t, time.Date(2024, 6, 1, 11, 29, 50, 0, time.UTC), *st.GPSFixTime)
	assert.True(t, st.Online)
	assert.Equal(t, domain.QualityHigh, st.Quality)
}

func TestNormalizeEmptyPing(t *testing.T) {
	st := Normalize(&domain.RawPing{}, testOptions())

	assert.Nil(t, st.Latitude)
	assert.Nil(t, st.Longitude)
	assert.Zero(t, st.SpeedKmh)
	assert.False(t, st.Ignition)
	assert.Zero(t, st.IgnitionConfidence)
	assert.Equal(t, domain.IgnitionUnknown, st.IgnitionMethod)
	assert.Nil(t, st.BatteryPct)
	assert.Nil(t, st.SignalPct)
	assert.Equal(t, fixedNow, st.LastUpdated)
	assert.Equal(t, domain.TimestampServer, st.TimestampSource)
	assert.False(t, st.Online)
	assert.Equal(t, domain.QualityLow, st.Quality)

	assert.NotNil(t, Normalize(nil, testOptions()))
}

func TestNormalizeMalformedFields(t *testing.T) {
	raw := decodePing(t, `{
		"deviceid": "abc",
		"lat": "north", "lng": null,
		"speed": "fast",
		"status": "ACC OFF",
		"battery": "n/a",
		"signal": {"nested": true},
		"datetime": "1970-01-01 00:00:00",
		"updatetime": "2024-06-01T11:58:00Z"
	}`)

	st := Normalize(raw, testOptions())

	assert.Equal(t, "abc", st.VehicleID)
	assert.False(t, st.HasPosition())
	assert.Zero(t, st.SpeedKmh)
	assert.False(t, st.Ignition)
	assert.Equal(t, domain.IgnitionStringParse, st.IgnitionMethod)
	assert.Nil(t, st.BatteryPct)
	assert.Nil(t, st.SignalPct)
	assert.Equal(t, domain.TimestampServer, st.TimestampSource)
	assert.Equal(t, time.Date(2024, 6, 1, 11, 58, 0, 0, time.UTC), st.LastUpdated)
	assert.True(t, st.Online)
}

func TestNormalizeOfflineThreshold(t *testing.T) {
	raw := decodePing(t, `{"imei": "1", "datetime": "2024-06-01T11:00:00Z"}`)

	opts := testOptions()
	opts.OfflineThreshold = 30 * time.Minute
	assert.False(t, Normalize(raw, opts).Online)

	opts.OfflineThreshold = 2 * time.Hour
	assert.True(t, Normalize(raw, opts).Online)
}

func TestQualityGrades(t *testing.T) {
	lat, lon := 1.0, 2.0
	pct := 50.0

	st := &domain.NormalizedState{Latitude: &lat, Longitude: &lon, IgnitionMethod: domain.IgnitionUnknown}
	assert.Equal(t, domain.QualityLow, Quality(st))

	st.SpeedKmh = 10
	assert.Equal(t, domain.QualityMedium, Quality(st))

	st.BatteryPct = &pct
	st.SignalPct = &pct
	assert.Equal(t, domain.QualityHigh, Quality(st))
}
