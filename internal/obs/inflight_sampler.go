// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"
)

// inflightSampleInterval is the INFLIGHT_UPDATE_INTERVAL from spec.md
// §4.3 step 1 ("every ≈5s publish (inflight_count, max_connections) to
// a process-visible statistics sink").
const inflightSampleInterval = 5 * time.Second

// StartInflightSampler polls sample on a ticker and publishes its result
// to the InflightCount/InflightCapacity gauges, the same ticker-driven
// polling idiom the teacher uses for queue length sampling.
func StartInflightSampler(ctx context.Context, sample func() (inflight, capacity int)) {
	ticker := time.NewTicker(inflightSampleInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, cap := sample()
				InflightCount.Set(float64(n))
				InflightCapacity.Set(float64(cap))
			}
		}
	}()
}
