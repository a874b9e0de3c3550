package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fleet-monitor/tracking/internal/domain"
)

func bits(v uint32) *uint32 { return &v }

func TestDetectIgnition(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name    string
		signals IgnitionSignals
		on      bool
		minConf float64
		method  domain.IgnitionMethod
	}{
		{
			name:    "status 0x07 stationary",
			signals: IgnitionSignals{StatusBits: bits(0x07)},
			on:      true, minConf: 0.6, method: domain.IgnitionStatusBit,
		},
		{
			name:    "status 0x07 driving",
			signals: IgnitionSignals{StatusBits: bits(0x07), SpeedKmh: 80},
			on:      true, minConf: 0.65, method: domain.IgnitionStatusBit,
		},
		{
			name:    "base and extended bits",
			signals: IgnitionSignals{StatusBits: bits(0x00010001), SpeedKmh: 40},
			on:      true, minConf: 0.85, method: domain.IgnitionStatusBit,
		},
		{
			name:    "extended bit alone falls through to motion",
			signals: IgnitionSignals{StatusBits: bits(0x00010000), SpeedKmh: 40, Moving: true, MovingPresent: true},
			on:      true, minConf: 0.6, method: domain.IgnitionMultiSignal,
		},
		{
			name:    "status off while parked",
			signals: IgnitionSignals{StatusBits: bits(0x02)},
			on:      false, minConf: 0.55, method: domain.IgnitionStatusBit,
		},
		{
			name:    "status off contradicted by speed defers to string",
			signals: IgnitionSignals{StatusBits: bits(0x02), SpeedKmh: 50, StatusText: "ACC ON"},
			on:      true, minConf: 0.9, method: domain.IgnitionStringParse,
		},
		{
			name:    "string on",
			signals: IgnitionSignals{StatusText: "ACC ON"},
			on:      true, minConf: 0.9, method: domain.IgnitionStringParse,
		},
		{
			name:    "string off",
			signals: IgnitionSignals{StatusText: "acc:off", SpeedKmh: 60},
			on:      false, minConf: 0.9, method: domain.IgnitionStringParse,
		},
		{
			name:    "russian off",
			signals: IgnitionSignals{StatusText: "Зажигание выкл"},
			on:      false, minConf: 0.9, method: domain.IgnitionStringParse,
		},
		{
			name:    "transliterated on",
			signals: IgnitionSignals{StatusText: "ACC vkl, GPS ok"},
			on:      true, minConf: 0.9, method: domain.IgnitionStringParse,
		},
		{
			name:    "portuguese off is not read as on",
			signals: IgnitionSignals{StatusText: "ACC desligado"},
			on:      false, minConf: 0.9, method: domain.IgnitionStringParse,
		},
		{
			name:    "unrelated text falls through",
			signals: IgnitionSignals{StatusText: "GPS fixed", SpeedKmh: 30},
			on:      true, minConf: 0.3, method: domain.IgnitionSpeedInference,
		},
		{
			name:    "speed and moving flag",
			signals: IgnitionSignals{SpeedKmh: 30, Moving: true, MovingPresent: true},
			on:      true, minConf: 0.6, method: domain.IgnitionMultiSignal,
		},
		{
			name:    "moving flag with slow speed only",
			signals: IgnitionSignals{SpeedKmh: 4, Moving: true, MovingPresent: true},
			on:      true, minConf: 0.3, method: domain.IgnitionSpeedInference,
		},
		{
			name:    "nothing",
			signals: IgnitionSignals{},
			on:      false, minConf: 0, method: domain.IgnitionUnknown,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := DetectIgnition(tc.signals, th)
			assert.Equal(t, tc.on, got.On)
			assert.Equal(t, tc.method, got.Method)
			assert.GreaterOrEqual(t, got.Confidence, tc.minConf)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestBaseStatusBitAlwaysWins(t *testing.T) {
	th := DefaultThresholds()
	texts := []string{"", "ACC OFF", "ACC ON", "garbage"}
	speeds := []float64{0, 2, 4, 60, 300}
	for _, text := range texts {
		for _, speed := range speeds {
			for _, moving := range []bool{false, true} {
				got := DetectIgnition(IgnitionSignals{
					StatusBits:    bits(0xABCD0001),
					StatusText:    text,
					SpeedKmh:      speed,
					Moving:        moving,
					MovingPresent: true,
				}, th)
				assert.Equal(t, domain.IgnitionStatusBit, got.Method, "text=%q speed=%v", text, speed)
				assert.True(t, got.On)
				assert.GreaterOrEqual(t, got.Confidence, 0.5)
			}
		}
	}
}

func TestBatteryPercent(t *testing.T) {
	leadAcid := DefaultBatteryConfig()
	reported := func(v float64) *float64 { return &v }

	tests := []struct {
		name     string
		reported *float64
		voltages []float64
		cfg      BatteryConfig
		want     *float64
	}{
		{"full lead acid", nil, []float64{12.8}, leadAcid, reported(100)},
		{"empty lead acid", nil, []float64{11.0}, leadAcid, reported(0)},
		{"below empty", nil, []float64{9.5}, leadAcid, reported(0)},
		{"above full", nil, []float64{14.2}, leadAcid, reported(100)},
		{"midpoint is non-linear", nil, []float64{11.9}, leadAcid, reported(35.4)},
		{"millivolts", nil, []float64{12800}, leadAcid, reported(100)},
		{"vendor percentage wins", reported(64), []float64{11.0}, leadAcid, reported(64)},
		{"vendor zero falls back to voltage", reported(0), []float64{12.8}, leadAcid, reported(100)},
		{"vendor over 100 clamped", reported(140), nil, leadAcid, reported(100)},
		{"lithium linear", nil, []float64{11.8}, BatteryConfig{Chemistry: ChemistryLithium, NominalVoltage: 12}, reported(50)},
		{"24v lead acid", nil, []float64{25.6}, BatteryConfig{Chemistry: ChemistryLeadAcid, NominalVoltage: 24}, reported(100)},
		{"zero voltage skipped", nil, []float64{0, 12.8}, leadAcid, reported(100)},
		{"no signal", nil, nil, leadAcid, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := BatteryPercent(tc.reported, tc.voltages, tc.cfg)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			if assert.NotNil(t, got) {
				assert.InDelta(t, *tc.want, *got, 0.05)
			}
		})
	}
}

func TestParseChemistry(t *testing.T) {
	assert.Equal(t, ChemistryAGM, ParseChemistry("AGM"))
	assert.Equal(t, ChemistryLithium, ParseChemistry("LiFePO4"))
	assert.Equal(t, ChemistryLeadAcid, ParseChemistry(""))
}
