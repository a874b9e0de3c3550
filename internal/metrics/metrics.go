package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	PingsNormalized     atomic.Int64
	StateWriteSuccess   atomic.Int64
	StateWriteFailures  atomic.Int64
	HistoryWriteSuccess atomic.Int64
	HistoryWriteFailure atomic.Int64
	PublishFailures     atomic.Int64

	HistoryChannelDrops atomic.Int64
	StateChannelDrops   atomic.Int64
	PublishChannelDrops atomic.Int64

	TripsDetected      atomic.Int64
	TripsInserted      atomic.Int64
	TripsDuplicate     atomic.Int64
	TripDedupFailures  atomic.Int64
	TripInsertFailures atomic.Int64

	UpstreamCalls         atomic.Int64
	UpstreamRetries       atomic.Int64
	UpstreamRateLimitHits atomic.Int64
	UpstreamFailures      atomic.Int64

	SyncRuns          atomic.Int64
	SyncDeviceFailure atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "tracking_pings_normalized_total %d\n", PingsNormalized.Load())
	fmt.Fprintf(w, "tracking_state_write_success_total %d\n", StateWriteSuccess.Load())
	fmt.Fprintf(w, "tracking_state_write_failures_total %d\n", StateWriteFailures.Load())
	fmt.Fprintf(w, "tracking_history_write_success_total %d\n", HistoryWriteSuccess.Load())
	fmt.Fprintf(w, "tracking_history_write_failures_total %d\n", HistoryWriteFailure.Load())
	fmt.Fprintf(w, "tracking_publish_failures_total %d\n", PublishFailures.Load())
	fmt.Fprintf(w, "tracking_history_channel_drops_total %d\n", HistoryChannelDrops.Load())
	fmt.Fprintf(w, "tracking_state_channel_drops_total %d\n", StateChannelDrops.Load())
	fmt.Fprintf(w, "tracking_publish_channel_drops_total %d\n", PublishChannelDrops.Load())
	fmt.Fprintf(w, "tracking_trips_detected_total %d\n", TripsDetected.Load())
	fmt.Fprintf(w, "tracking_trips_inserted_total %d\n", TripsInserted.Load())
	fmt.Fprintf(w, "tracking_trips_duplicate_total %d\n", TripsDuplicate.Load())
	fmt.Fprintf(w, "tracking_trip_dedup_failures_total %d\n", TripDedupFailures.Load())
	fmt.Fprintf(w, "tracking_trip_insert_failures_total %d\n", TripInsertFailures.Load())
	fmt.Fprintf(w, "tracking_upstream_calls_total %d\n", UpstreamCalls.Load())
	fmt.Fprintf(w, "tracking_upstream_retries_total %d\n", UpstreamRetries.Load())
	fmt.Fprintf(w, "tracking_upstream_rate_limit_hits_total %d\n", UpstreamRateLimitHits.Load())
	fmt.Fprintf(w, "tracking_upstream_failures_total %d\n", UpstreamFailures.Load())
	fmt.Fprintf(w, "tracking_sync_runs_total %d\n", SyncRuns.Load())
	fmt.Fprintf(w, "tracking_sync_device_failures_total %d\n", SyncDeviceFailure.Load())
}
