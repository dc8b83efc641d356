// Package ranking ranks the eligible universe by score on each date and
// partitions it into long/short buckets by percentile thresholds.
package ranking

import (
	"sort"

	"github.com/quantatlas-lab/factor-trading/internal/types"
)

// DefaultMinUniverseSize is the minimum eligible universe below which both
// buckets are returned empty. Insufficient diversification is a policy
// decision, not a failure.
const DefaultMinUniverseSize = 5

// Buckets holds the cross-sectional bucket membership for one date. LONG
// and SHORT are disjoint and both subsets of the eligible universe.
type Buckets struct {
	Long  []string
	Short []string
}

// IsEmpty reports whether no asset was assigned to either side.
func (b Buckets) IsEmpty() bool {
	return len(b.Long) == 0 && len(b.Short) == 0
}

// Assignment returns the per-asset bucket map; assets absent from both
// sides are not present in the map (implicitly BucketNone).
func (b Buckets) Assignment() map[string]types.Bucket {
	out := make(map[string]types.Bucket, len(b.Long)+len(b.Short))

	for _, asset := range b.Long {
		out[asset] = types.BucketLong
	}

	for _, asset := range b.Short {
		out[asset] = types.BucketShort
	}

	return out
}

// RankAndBucket sorts the eligible scores ascending by (score, asset id),
// the stable tie-break that makes bucket membership reproducible, and
// assigns the lowest longPercentile percent to LONG and the highest
// (100-shortPercentile) percent to SHORT. A percentile that rounds to zero
// assets still yields a bucket of one when the universe is non-empty.
// Insufficient scores are skipped; they must never enter ranking.
func RankAndBucket(scores []types.FactorScore, longPercentile int, shortPercentile int, minUniverseSize int) Buckets {
	if minUniverseSize <= 0 {
		minUniverseSize = DefaultMinUniverseSize
	}

	ranked := make([]types.FactorScore, 0, len(scores))

	for _, score := range scores {
		if score.SufficientData {
			ranked = append(ranked, score)
		}
	}

	n := len(ranked)
	if n < minUniverseSize {
		return Buckets{}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Value != ranked[j].Value {
			return ranked[i].Value < ranked[j].Value
		}

		return ranked[i].Asset < ranked[j].Asset
	})

	longCount := n * longPercentile / 100
	if longCount == 0 {
		longCount = 1
	}

	shortCount := n * (100 - shortPercentile) / 100
	if shortCount == 0 {
		shortCount = 1
	}

	// Buckets must stay disjoint even for degenerate percentile settings.
	if longCount+shortCount > n {
		shortCount = n - longCount
	}

	long := make([]string, 0, longCount)
	for i := 0; i < longCount; i++ {
		long = append(long, ranked[i].Asset)
	}

	short := make([]string, 0, shortCount)
	for i := n - shortCount; i < n; i++ {
		short = append(short, ranked[i].Asset)
	}

	return Buckets{Long: long, Short: short}
}
