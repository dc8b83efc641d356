package factor

import (
	"runtime"
	"sync"
	"time"

	"github.com/quantatlas-lab/factor-trading/internal/types"
)

// ScoreUniverse computes scores for every candidate asset as of one date,
// fanning the per-asset computations across worker goroutines. Workers read
// only the immutable panel, and all results are merged before the function
// returns: ranking never observes a partial score set.
func ScoreUniverse(ctx Context, scorer Scorer, assets []string, date time.Time, params Params, workers int) (map[string]types.FactorScore, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	if workers > len(assets) {
		workers = len(assets)
	}

	scores := make(map[string]types.FactorScore, len(assets))
	if len(assets) == 0 {
		return scores, nil
	}

	type result struct {
		asset string
		score types.FactorScore
		err   error
	}

	jobs := make(chan string)
	results := make(chan result, len(assets))

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for asset := range jobs {
				score, err := scorer.Score(asset, date, ctx, params)
				results <- result{asset: asset, score: score, err: err}
			}
		}()
	}

	for _, asset := range assets {
		jobs <- asset
	}

	close(jobs)
	wg.Wait()
	close(results)

	var firstErr error

	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}

			continue
		}

		scores[r.asset] = r.score
	}

	if firstErr != nil {
		return nil, firstErr
	}

	return scores, nil
}
