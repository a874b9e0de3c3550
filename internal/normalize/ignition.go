package normalize

import (
	"regexp"
	"strings"

	"fleet-monitor/tracking/internal/domain"
)

// IgnitionResult is a verdict with the confidence and the method behind it.
type IgnitionResult struct {
	On         bool
	Confidence float64
	Method     domain.IgnitionMethod
}

// IgnitionSignals are the inputs the detectors look at.
type IgnitionSignals struct {
	StatusBits    *uint32
	StatusText    string
	SpeedKmh      float64
	Moving        bool
	MovingPresent bool
}

// IgnitionDetector returns a verdict, or false when it has nothing
// confident to say.
type IgnitionDetector interface {
	Detect(s IgnitionSignals, t Thresholds) (IgnitionResult, bool)
}

// DefaultIgnitionDetectors are evaluated in order; the first confident hit
// wins. Vendor-asserted signals come before motion because a vehicle idling
// with the ignition on reports zero speed.
var DefaultIgnitionDetectors = []IgnitionDetector{
	StatusBitDetector{},
	StatusStringDetector{},
	MotionDetector{},
}

// DetectIgnition runs the default detector cascade.
func DetectIgnition(s IgnitionSignals, t Thresholds) IgnitionResult {
	for _, d := range DefaultIgnitionDetectors {
		if r, ok := d.Detect(s, t); ok {
			return r
		}
	}
	return IgnitionResult{On: false, Confidence: 0, Method: domain.IgnitionUnknown}
}

const (
	statusBaseWeight     = 0.6
	statusExtendedWeight = 0.2
	statusSpeedWeight    = 0.1
	statusOffBase        = 0.5
	statusOffContradict  = 0.2
	statusStringWeight   = 0.9
	motionWeight         = 0.3
	multiSignalThreshold = 0.6
)

// StatusBitDetector reads ACC from the vendor bitmask. The 32-bit value is
// a base 16-bit field and an extended 16-bit field; bit 0 of either is ACC.
type StatusBitDetector struct{}

func (StatusBitDetector) Detect(s IgnitionSignals, t Thresholds) (IgnitionResult, bool) {
	if s.StatusBits == nil {
		return IgnitionResult{}, false
	}
	bits := *s.StatusBits
	base := bits & 0xFFFF
	ext := (bits >> 16) & 0xFFFF
	baseOn := base&1 == 1
	extOn := ext&1 == 1
	driving := s.SpeedKmh > t.IgnitionCorroborateSpeed

	if baseOn || extOn {
		conf := 0.0
		if baseOn {
			conf += statusBaseWeight
		}
		if extOn {
			conf += statusExtendedWeight
		}
		if driving {
			conf += statusSpeedWeight
		}
		if conf < t.IgnitionGate {
			return IgnitionResult{}, false
		}
		return IgnitionResult{On: true, Confidence: clamp01(conf), Method: domain.IgnitionStatusBit}, true
	}

	conf := statusOffBase
	if driving {
		conf -= statusOffContradict
	} else {
		conf += statusSpeedWeight
	}
	if conf < t.IgnitionGate {
		return IgnitionResult{}, false
	}
	return IgnitionResult{On: false, Confidence: clamp01(conf), Method: domain.IgnitionStatusBit}, true
}

var (
	// OFF markers are checked first: "desligado" contains "ligado".
	accOffPattern = regexp.MustCompile(`(?i)(acc|ign(ition)?|зажигание|zazhiganie)\s*[:=_\-]?\s*(off|0|выкл\.?|vykl|desligad[oa]|apagad[oa]|关|關|aus)`)
	accOnPattern  = regexp.MustCompile(`(?i)(acc|ign(ition)?|зажигание|zazhiganie)\s*[:=_\-]?\s*(on|1|вкл\.?|vkl|ligad[oa]|encendid[oa]|开|開|an|ein)`)
)

// StatusStringDetector matches free-text status strings such as "ACC ON".
type StatusStringDetector struct{}

func (StatusStringDetector) Detect(s IgnitionSignals, _ Thresholds) (IgnitionResult, bool) {
	text := strings.TrimSpace(s.StatusText)
	if text == "" {
		return IgnitionResult{}, false
	}
	if accOffPattern.MatchString(text) {
		return IgnitionResult{On: false, Confidence: statusStringWeight, Method: domain.IgnitionStringParse}, true
	}
	if accOnPattern.MatchString(text) {
		return IgnitionResult{On: true, Confidence: statusStringWeight, Method: domain.IgnitionStringParse}, true
	}
	return IgnitionResult{}, false
}

// MotionDetector infers ignition from speed and the moving flag.
type MotionDetector struct{}

func (MotionDetector) Detect(s IgnitionSignals, t Thresholds) (IgnitionResult, bool) {
	score := 0.0
	if s.SpeedKmh > t.IgnitionMotionSpeed {
		score += motionWeight
	}
	if s.MovingPresent && s.Moving && s.SpeedKmh > t.IgnitionCorroborateSpeed {
		score += motionWeight
	}

	switch {
	case score >= multiSignalThreshold-1e-9:
		return IgnitionResult{On: true, Confidence: multiSignalThreshold, Method: domain.IgnitionMultiSignal}, true
	case score > 0:
		return IgnitionResult{On: true, Confidence: motionWeight, Method: domain.IgnitionSpeedInference}, true
	default:
		return IgnitionResult{}, false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
