package normalize

import "time"

// Thresholds are the empirically tuned cut-offs used by the heuristics.
// They have no documented derivation and should be validated against real
// fleet data before being changed.
type Thresholds struct {
	// Raw speeds above this are read as meters/hour.
	SpeedUnitCutoff float64
	// Raw speeds above this are meters/hour regardless of the cutoff.
	SpeedMetersPerHourFloor float64
	// Speeds below this (km/h) are GPS drift.
	SpeedNoiseFloor float64
	SpeedMax        float64

	// Minimum confidence for a status bitmask verdict.
	IgnitionGate float64
	// Speed (km/h) above which a status bitmask ON verdict is corroborated.
	IgnitionCorroborateSpeed float64
	// Speed (km/h) above which the vehicle is assumed to be driving.
	IgnitionMotionSpeed float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		SpeedUnitCutoff:          200,
		SpeedMetersPerHourFloor:  100000,
		SpeedNoiseFloor:          3,
		SpeedMax:                 300,
		IgnitionGate:             0.5,
		IgnitionCorroborateSpeed: 3,
		IgnitionMotionSpeed:      5,
	}
}

// Options configures Normalize. Zero fields fall back to defaults.
type Options struct {
	Battery          BatteryConfig
	OfflineThreshold time.Duration
	Thresholds       Thresholds
	Now              func() time.Time
}

const DefaultOfflineThreshold = 10 * time.Minute

func DefaultOptions() Options {
	return Options{
		Battery:          DefaultBatteryConfig(),
		OfflineThreshold: DefaultOfflineThreshold,
		Thresholds:       DefaultThresholds(),
		Now:              time.Now,
	}
}

func (o Options) withDefaults() Options {
	if o.Battery.Chemistry == "" {
		o.Battery = DefaultBatteryConfig()
	}
	if o.OfflineThreshold <= 0 {
		o.OfflineThreshold = DefaultOfflineThreshold
	}
	if o.Thresholds == (Thresholds{}) {
		o.Thresholds = DefaultThresholds()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
