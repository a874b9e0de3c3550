package domain

import "time"

// MaxLookbackHours caps how far back a sync run may reach.
const MaxLookbackHours = 720

// SyncParams are the batch parameters accepted by the sync job.
type SyncParams struct {
	LookbackHours int      `json:"lookback_hours"`
	DeviceIDs     []string `json:"device_ids,omitempty"`
	FullResync    bool     `json:"full_resync"`
}

// Lookback returns the clamped lookback window.
func (p SyncParams) Lookback(fallbackHours int) time.Duration {
	h := p.LookbackHours
	if h <= 0 {
		h = fallbackHours
	}
	if h <= 0 {
		h = 24
	}
	if h > MaxLookbackHours {
		h = MaxLookbackHours
	}
	return time.Duration(h) * time.Hour
}

// DeviceResult is the outcome of one device in a sync run.
type DeviceResult struct {
	DeviceID        string `json:"device_id"`
	PingsProcessed  int    `json:"pings_processed"`
	TripsDetected   int    `json:"trips_detected"`
	TripsInserted   int    `json:"trips_inserted"`
	TripsDuplicate  int    `json:"trips_duplicate"`
	TripsSkipped    int    `json:"trips_skipped"`
	Error           string `json:"error,omitempty"`
	WindowStartUnix int64  `json:"window_start"`
	WindowEndUnix   int64  `json:"window_end"`
}

// SyncResult collects successes and per-device failures of one run.
type SyncResult struct {
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	StatesUpdated  int            `json:"states_updated"`
	PositionsError string         `json:"positions_error,omitempty"`
	Devices        []DeviceResult `json:"devices"`
}

// Failed returns the devices that reported an error.
func (r *SyncResult) Failed() []DeviceResult {
	var out []DeviceResult
	for _, d := range r.Devices {
		if d.Error != "" {
			out = append(out, d)
		}
	}
	return out
}

// RateLimitState is the record shared by every job instance to coordinate
// calls against the upstream budget. Timestamps are epoch milliseconds.
type RateLimitState struct {
	BackoffUntil int64     `json:"backoff_until"`
	LastCallTime int64     `json:"last_call_time"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Credentials authenticate calls against the upstream API.
type Credentials struct {
	Token     string    `json:"token"`
	ServerID  string    `json:"serverid"`
	ExpiresAt time.Time `json:"expires_at"`
}
