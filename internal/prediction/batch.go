package prediction

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/tradebridge/internal/market"
)

// BatchRequest pairs an instrument with the frame to predict against, for
// PredictBatch's worker-parallel path.
type BatchRequest struct {
	Instrument string
	Frame      market.MarketFrame
}

// BatchProgress mirrors the teacher's progress.Update shape seen in
// internal/evaluation/workers (NewWorkerPool / EvaluateBatchDetailed, per
// pool_test.go): a phase label plus free-form details, reported as the
// batch makes progress.
type BatchProgress struct {
	Phase   string
	Details map[string]any
}

// PredictBatch evaluates requests with bounded worker parallelism,
// preserving input order in the returned slice — the Prediction Gateway's
// optional worker-parallel invocation path (spec §5: "MAY use
// worker-parallelism for throughput but is not required to"), grounded on
// the teacher's WorkerPool.EvaluateBatchDetailed shape. workers<=0 defaults
// to 10, matching the teacher's NewWorkerPool default.
func (g *Gateway) PredictBatch(ctx context.Context, requests []BatchRequest, workers int, progress func(BatchProgress)) []market.Prediction {
	if workers <= 0 {
		workers = 10
	}
	if workers > len(requests) {
		workers = len(requests)
	}
	if workers == 0 {
		return nil
	}

	start := time.Now()
	results := make([]market.Prediction, len(requests))
	jobs := make(chan int)
	var wg sync.WaitGroup
	var active int32
	var completed int
	var mu sync.Mutex

	worker := func() {
		defer wg.Done()
		for i := range jobs {
			mu.Lock()
			active++
			mu.Unlock()

			results[i] = g.Predict(ctx, requests[i].Instrument, requests[i].Frame)

			mu.Lock()
			active--
			completed++
			done := completed
			activeNow := active
			mu.Unlock()

			if progress != nil {
				progress(BatchProgress{
					Phase: "predicting",
					Details: map[string]any{
						"workers_active": activeNow,
						"completed":      done,
						"total":          len(requests),
						"elapsed_ms":     time.Since(start).Milliseconds(),
					},
				})
			}
		}
	}

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go worker()
	}
	for i := range requests {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}
