package domain

import "time"

// RawPing is one upstream position report. The vendor renames fields per
// endpoint, so every known alias is kept and resolved by priority in the
// accessor methods below.
type RawPing struct {
	IMEI     *Flex `json:"imei,omitempty"`
	DeviceID *Flex `json:"deviceid,omitempty"`
	DevID    *Flex `json:"device_id,omitempty"`

	CalLat    *Flex `json:"callat,omitempty"`
	Lat       *Flex `json:"lat,omitempty"`
	Latitude  *Flex `json:"latitude,omitempty"`
	CalLon    *Flex `json:"callon,omitempty"`
	Lng       *Flex `json:"lng,omitempty"`
	Lon       *Flex `json:"lon,omitempty"`
	Longitude *Flex `json:"longitude,omitempty"`

	Speed     *Flex `json:"speed,omitempty"`
	Course    *Flex `json:"course,omitempty"`
	Heading   *Flex `json:"heading,omitempty"`
	Direction *Flex `json:"direction,omitempty"`
	Altitude  *Flex `json:"altitude,omitempty"`

	Status     *Flex `json:"status,omitempty"`
	StatusBits *Flex `json:"statusbits,omitempty"`
	StatusText *Flex `json:"statustext,omitempty"`
	State      *Flex `json:"state,omitempty"`
	AccStatus  *Flex `json:"accstatus,omitempty"`
	Moving     *Flex `json:"moving,omitempty"`

	Battery         *Flex `json:"battery,omitempty"`
	Voltage         *Flex `json:"voltage,omitempty"`
	ExternalVoltage *Flex `json:"externalvoltage,omitempty"`
	Signal          *Flex `json:"signal,omitempty"`

	DateTime   *Flex `json:"datetime,omitempty"`
	DeviceTime *Flex `json:"devicetime,omitempty"`
	ServerTime *Flex `json:"servertime,omitempty"`
	UpdateTime *Flex `json:"updatetime,omitempty"`
	HeartTime  *Flex `json:"hearttime,omitempty"`
	GPSTime    *Flex `json:"gpstime,omitempty"`
	FixTime    *Flex `json:"fixtime,omitempty"`
}

// Device returns the device identifier, or "" when none was reported.
func (r *RawPing) Device() string {
	f := FirstPresent(r.IMEI, r.DeviceID, r.DevID)
	s, _ := f.Text()
	return s
}

func (r *RawPing) LatField() *Flex { return FirstPresent(r.CalLat, r.Lat, r.Latitude) }

func (r *RawPing) LonField() *Flex { return FirstPresent(r.CalLon, r.Lng, r.Lon, r.Longitude) }

func (r *RawPing) HeadingField() *Flex { return FirstPresent(r.Course, r.Heading, r.Direction) }

// StatusBitsField returns the numeric vendor bitmask, if any. A textual
// "status" is not a bitmask and is reported by StatusTextField instead.
func (r *RawPing) StatusBitsField() *Flex {
	for _, f := range []*Flex{r.Status, r.StatusBits} {
		if _, ok := f.Float(); ok {
			return f
		}
	}
	return nil
}

func (r *RawPing) StatusTextField() *Flex {
	for _, f := range []*Flex{r.StatusText, r.State, r.AccStatus, r.Status} {
		if s, ok := f.Text(); ok && !f.HasNum && s != "" {
			return f
		}
	}
	return nil
}

func (r *RawPing) DeviceTimeField() *Flex { return FirstPresent(r.DateTime, r.DeviceTime) }

func (r *RawPing) ServerTimeField() *Flex {
	return FirstPresent(r.ServerTime, r.UpdateTime, r.HeartTime)
}

func (r *RawPing) FixTimeField() *Flex { return FirstPresent(r.GPSTime, r.FixTime) }

type IgnitionMethod string

const (
	IgnitionStatusBit      IgnitionMethod = "status_bit"
	IgnitionStringParse    IgnitionMethod = "string_parse"
	IgnitionMultiSignal    IgnitionMethod = "multi_signal"
	IgnitionSpeedInference IgnitionMethod = "speed_inference"
	IgnitionUnknown        IgnitionMethod = "unknown"
)

type TimestampSource string

const (
	TimestampDevice TimestampSource = "device"
	TimestampServer TimestampSource = "server"
)

type DataQuality string

const (
	QualityHigh   DataQuality = "high"
	QualityMedium DataQuality = "medium"
	QualityLow    DataQuality = "low"
)

// NormalizedState is the canonical reading of one ping. It is never mutated
// after creation; the next observation for the vehicle supersedes it.
type NormalizedState struct {
	VehicleID string `json:"vehicle_id"`

	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`

	SpeedKmh           float64        `json:"speed_kmh"`
	Ignition           bool           `json:"ignition"`
	IgnitionConfidence float64        `json:"ignition_confidence"`
	IgnitionMethod     IgnitionMethod `json:"ignition_method"`
	Moving             bool           `json:"moving"`

	BatteryPct *float64 `json:"battery_pct"`
	SignalPct  *float64 `json:"signal_pct"`
	Heading    *float64 `json:"heading"`
	Altitude   *float64 `json:"altitude"`

	Online          bool            `json:"online"`
	LastUpdated     time.Time       `json:"last_updated"`
	TimestampSource TimestampSource `json:"timestamp_source"`
	GPSFixTime      *time.Time      `json:"gps_fix_time,omitempty"`

	Quality DataQuality `json:"data_quality"`
}

// HasPosition reports whether both coordinates survived validation.
func (s *NormalizedState) HasPosition() bool {
	return s.Latitude != nil && s.Longitude != nil
}
