package normalize

import (
	"math"
	"strings"
)

type Chemistry string

const (
	ChemistryLeadAcid Chemistry = "lead_acid"
	ChemistryAGM      Chemistry = "agm"
	ChemistryLithium  Chemistry = "lithium"
)

// leadAcidExponent shapes the non-linear discharge of lead-acid cells.
const leadAcidExponent = 1.5

// BatteryConfig selects the voltage-to-percentage curve.
type BatteryConfig struct {
	Chemistry      Chemistry
	NominalVoltage float64
	// Empty and full voltages; zero selects the chemistry default.
	MinVoltage float64
	MaxVoltage float64
}

func DefaultBatteryConfig() BatteryConfig {
	return BatteryConfig{Chemistry: ChemistryLeadAcid, NominalVoltage: 12}
}

// ParseChemistry maps a config string to a Chemistry, defaulting to lead-acid.
func ParseChemistry(s string) Chemistry {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "agm":
		return ChemistryAGM
	case "lithium", "li", "lifepo4", "li-ion":
		return ChemistryLithium
	default:
		return ChemistryLeadAcid
	}
}

// Range returns the empty and full voltages for the configuration.
func (c BatteryConfig) Range() (float64, float64) {
	if c.MinVoltage > 0 && c.MaxVoltage > c.MinVoltage {
		return c.MinVoltage, c.MaxVoltage
	}

	scale := 1.0
	if c.NominalVoltage >= 20 {
		scale = 2
	}

	switch c.Chemistry {
	case ChemistryAGM:
		return 11.3 * scale, 12.9 * scale
	case ChemistryLithium:
		return 10.0 * scale, 13.6 * scale
	default:
		return 11.0 * scale, 12.8 * scale
	}
}

// VoltageToPercent maps a voltage onto 0-100 using the chemistry curve.
func (c BatteryConfig) VoltageToPercent(v float64) float64 {
	lo, hi := c.Range()
	ratio := (v - lo) / (hi - lo)
	if ratio <= 0 {
		return 0
	}
	if ratio >= 1 {
		return 100
	}

	var pct float64
	switch c.Chemistry {
	case ChemistryLithium:
		pct = ratio * 100
	default:
		pct = math.Pow(ratio, leadAcidExponent) * 100
	}
	return math.Round(clamp(pct, 0, 100)*10) / 10
}

// BatteryPercent prefers a vendor percentage and falls back to mapping a
// voltage. It returns nil when no battery signal is present.
func BatteryPercent(reportedPct *float64, voltages []float64, cfg BatteryConfig) *float64 {
	if reportedPct != nil && *reportedPct > 0 {
		pct := clamp(*reportedPct, 0, 100)
		return &pct
	}

	for _, v := range voltages {
		if v <= 0 || math.IsNaN(v) {
			continue
		}
		// Some firmwares report millivolts.
		if v > 100 {
			v = v / 1000
		}
		pct := cfg.VoltageToPercent(v)
		return &pct
	}

	if reportedPct != nil {
		pct := 0.0
		return &pct
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
