package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/normalize"
)

type positionParams struct {
	IMEIs     string `json:"imeis,omitempty"`
	BeginTime int64  `json:"begintime,omitempty"`
	EndTime   int64  `json:"endtime,omitempty"`
}

type tripParams struct {
	IMEI      string `json:"imei"`
	BeginTime int64  `json:"begintime"`
	EndTime   int64  `json:"endtime"`
}

// vendorTrip is one row of a trip-query record. Distance is in meters.
type vendorTrip struct {
	IMEI      *domain.Flex `json:"imei"`
	BeginTime *domain.Flex `json:"begintime"`
	EndTime   *domain.Flex `json:"endtime"`
	StartLat  *domain.Flex `json:"startlat"`
	StartLon  *domain.Flex `json:"startlon"`
	EndLat    *domain.Flex `json:"endlat"`
	EndLon    *domain.Flex `json:"endlon"`
	Distance  *domain.Flex `json:"distance"`
	MaxSpeed  *domain.Flex `json:"maxspeed"`
	AvgSpeed  *domain.Flex `json:"avgspeed"`
	Points    *domain.Flex `json:"points"`
}

// FetchPositions returns the latest ping of each device. An empty list asks
// for every device on the account.
func (c *Client) FetchPositions(ctx context.Context, creds domain.Credentials, deviceIDs []string) ([]domain.RawPing, error) {
	resp, err := c.Call(ctx, ActionPositionFetch, creds, positionParams{IMEIs: strings.Join(deviceIDs, ",")})
	if err != nil {
		return nil, err
	}
	var pings []domain.RawPing
	if err := decodeList(resp.Record, &pings); err != nil {
		return nil, &CallError{Action: ActionPositionFetch, Kind: ErrBadRequest, Attempts: 1, Err: err}
	}
	return pings, nil
}

// FetchHistory returns the pings of one device between from and to.
func (c *Client) FetchHistory(ctx context.Context, creds domain.Credentials, deviceID string, from, to time.Time) ([]domain.RawPing, error) {
	resp, err := c.Call(ctx, ActionPositionFetch, creds, positionParams{
		IMEIs:     deviceID,
		BeginTime: from.Unix(),
		EndTime:   to.Unix(),
	})
	if err != nil {
		return nil, err
	}
	var pings []domain.RawPing
	if err := decodeList(resp.Record, &pings); err != nil {
		return nil, &CallError{Action: ActionPositionFetch, Kind: ErrBadRequest, Attempts: 1, Err: err}
	}
	for i := range pings {
		if pings[i].Device() == "" {
			f := domain.FlexString(deviceID)
			pings[i].IMEI = &f
		}
	}
	return pings, nil
}

// QueryTrips returns the trips the vendor detected for one device. Rows
// without a usable start time are skipped.
func (c *Client) QueryTrips(ctx context.Context, creds domain.Credentials, deviceID string, from, to time.Time) ([]domain.TripCandidate, error) {
	resp, err := c.Call(ctx, ActionTripQuery, creds, tripParams{IMEI: deviceID, BeginTime: from.Unix(), EndTime: to.Unix()})
	if err != nil {
		return nil, err
	}
	var rows []vendorTrip
	if err := decodeList(resp.Record, &rows); err != nil {
		return nil, &CallError{Action: ActionTripQuery, Kind: ErrBadRequest, Attempts: 1, Err: err}
	}

	now := c.now()
	out := make([]domain.TripCandidate, 0, len(rows))
	for _, row := range rows {
		if tc, ok := row.candidate(deviceID, now); ok {
			out = append(out, tc)
		}
	}
	return out, nil
}

func (v vendorTrip) candidate(deviceID string, now time.Time) (domain.TripCandidate, bool) {
	start, ok := normalize.ParseTimestamp(v.BeginTime, now)
	if !ok {
		return domain.TripCandidate{}, false
	}
	end, ok := normalize.ParseTimestamp(v.EndTime, now)
	if !ok || end.Before(start) {
		end = start
	}
	if id, ok := v.IMEI.Text(); ok && id != "" {
		deviceID = id
	}

	tc := domain.TripCandidate{
		DeviceID:    deviceID,
		StartTime:   start,
		EndTime:     end,
		DurationSec: int64(end.Sub(start) / time.Second),
		Source:      domain.TripSourceVendor,
	}
	tc.StartLat, _ = v.StartLat.Float()
	tc.StartLon, _ = v.StartLon.Float()
	tc.EndLat, _ = v.EndLat.Float()
	tc.EndLon, _ = v.EndLon.Float()
	if m, ok := v.Distance.Float(); ok && m > 0 {
		tc.DistanceKm = math.Round(m) / 1000
	}
	if s, ok := v.MaxSpeed.Float(); ok && s > 0 {
		tc.MaxSpeedKmh = s
	}
	if s, ok := v.AvgSpeed.Float(); ok && s > 0 {
		tc.AvgSpeedKmh = s
	} else if hours := end.Sub(start).Hours(); hours > 0 {
		tc.AvgSpeedKmh = math.Round(tc.DistanceKm/hours*10) / 10
	}
	if n, ok := v.Points.Float(); ok && n > 0 {
		tc.PointCount = int(n)
	}
	return tc, true
}

// decodeList accepts either a bare array or an object wrapping it under
// "list" or "data".
func decodeList(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '{' {
		var wrapped struct {
			List json.RawMessage `json:"list"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		switch {
		case len(wrapped.List) > 0:
			raw = wrapped.List
		case len(wrapped.Data) > 0:
			raw = wrapped.Data
		default:
			return nil
		}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return nil
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}
