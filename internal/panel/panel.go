// Package panel holds the immutable, validated price panel that every
// downstream computation reads from. A Panel is constructed once from raw
// bars and never mutated afterwards, which is what makes per-asset factor
// computation safe to parallelize.
package panel

import (
	"math"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/quantatlas-lab/factor-trading/internal/types"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
)

// Panel is an immutable table of per-asset daily OHLCV rows.
type Panel struct {
	bars    map[string][]types.PriceBar
	index   map[string]map[int64]int
	assets  []string
	dates   []time.Time
	datePos map[int64]int
}

// NewPanel validates the given bars and builds a panel. Validation rules:
// per asset, dates must be strictly increasing with no duplicates, and
// every close must be strictly positive.
func NewPanel(bars []types.PriceBar) (*Panel, error) {
	if len(bars) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyPanel, "price panel contains no bars")
	}

	grouped := make(map[string][]types.PriceBar)
	for _, bar := range bars {
		if bar.Close <= 0 {
			return nil, errors.Newf(errors.ErrCodeNonPositiveClose,
				"non-positive close %f for asset %s at %s", bar.Close, bar.Asset, bar.Time.Format(time.DateOnly))
		}

		grouped[bar.Asset] = append(grouped[bar.Asset], bar)
	}

	index := make(map[string]map[int64]int, len(grouped))
	assets := make([]string, 0, len(grouped))
	dateSet := make(map[int64]time.Time)

	for asset, series := range grouped {
		assetIndex := make(map[int64]int, len(series))

		for i, bar := range series {
			key := bar.Time.Unix()

			if i > 0 {
				prev := series[i-1].Time
				if !bar.Time.After(prev) {
					if bar.Time.Equal(prev) {
						return nil, errors.Newf(errors.ErrCodeDuplicateBar,
							"duplicate bar for asset %s at %s", asset, bar.Time.Format(time.DateOnly))
					}

					return nil, errors.Newf(errors.ErrCodeUnorderedBars,
						"bars for asset %s are not in increasing date order at %s", asset, bar.Time.Format(time.DateOnly))
				}
			}

			assetIndex[key] = i
			dateSet[key] = bar.Time
		}

		index[asset] = assetIndex

		assets = append(assets, asset)
	}

	sort.Strings(assets)

	dates := make([]time.Time, 0, len(dateSet))
	for _, t := range dateSet {
		dates = append(dates, t)
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	datePos := make(map[int64]int, len(dates))
	for i, t := range dates {
		datePos[t.Unix()] = i
	}

	return &Panel{
		bars:    grouped,
		index:   index,
		assets:  assets,
		dates:   dates,
		datePos: datePos,
	}, nil
}

// Assets returns the asset ids present in the panel, sorted ascending.
func (p *Panel) Assets() []string {
	out := make([]string, len(p.assets))
	copy(out, p.assets)

	return out
}

// Dates returns the union trading calendar of the panel, sorted ascending.
func (p *Panel) Dates() []time.Time {
	out := make([]time.Time, len(p.dates))
	copy(out, p.dates)

	return out
}

// DatesBetween returns the panel dates within [start, end]; an unset bound
// leaves that side open.
func (p *Panel) DatesBetween(start optional.Option[time.Time], end optional.Option[time.Time]) []time.Time {
	out := make([]time.Time, 0, len(p.dates))

	for _, t := range p.dates {
		if start.IsSome() && t.Before(start.Unwrap()) {
			continue
		}

		if end.IsSome() && t.After(end.Unwrap()) {
			continue
		}

		out = append(out, t)
	}

	return out
}

// NextDate returns the first panel date strictly after the given date.
func (p *Panel) NextDate(date time.Time) optional.Option[time.Time] {
	i := sort.Search(len(p.dates), func(i int) bool { return p.dates[i].After(date) })
	if i == len(p.dates) {
		return optional.None[time.Time]()
	}

	return optional.Some(p.dates[i])
}

// Bar returns the bar for (asset, date) if one exists.
func (p *Panel) Bar(asset string, date time.Time) (types.PriceBar, bool) {
	assetIndex, ok := p.index[asset]
	if !ok {
		return types.PriceBar{}, false
	}

	i, ok := assetIndex[date.Unix()]
	if !ok {
		return types.PriceBar{}, false
	}

	return p.bars[asset][i], true
}

// Close returns the close price for (asset, date) if one exists.
func (p *Panel) Close(asset string, date time.Time) (float64, bool) {
	bar, ok := p.Bar(asset, date)
	if !ok {
		return 0, false
	}

	return bar.Close, true
}

// MarketCap returns the market cap for (asset, date) when the bar exists and
// carries one.
func (p *Panel) MarketCap(asset string, date time.Time) optional.Option[float64] {
	bar, ok := p.Bar(asset, date)
	if !ok {
		return optional.None[float64]()
	}

	return bar.MarketCap
}

// History returns the bars for the asset with date <= until, keeping only
// the trailing maxBars entries. A non-positive maxBars returns the full
// history. The returned slice aliases the panel and must not be mutated.
func (p *Panel) History(asset string, until time.Time, maxBars int) []types.PriceBar {
	series, ok := p.bars[asset]
	if !ok {
		return nil
	}

	// first index strictly after `until`
	end := sort.Search(len(series), func(i int) bool { return series[i].Time.After(until) })
	if end == 0 {
		return nil
	}

	start := 0
	if maxBars > 0 && end > maxBars {
		start = end - maxBars
	}

	return series[start:end]
}

// HistoryLength returns the number of bars for the asset with date <= until.
func (p *Panel) HistoryLength(asset string, until time.Time) int {
	series, ok := p.bars[asset]
	if !ok {
		return 0
	}

	return sort.Search(len(series), func(i int) bool { return series[i].Time.After(until) })
}

// LogReturns returns up to `window` trailing log returns for the asset
// ending at `until`. Returns are defined only between consecutive bars that
// both exist, so gaps shrink the result rather than producing NaN.
func (p *Panel) LogReturns(asset string, until time.Time, window int) []float64 {
	bars := p.History(asset, until, window+1)
	if len(bars) < 2 {
		return nil
	}

	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		out = append(out, math.Log(bars[i].Close/bars[i-1].Close))
	}

	return out
}

// RollingVolatility returns the sample standard deviation of the trailing
// log returns over the given window, or None when fewer than two returns
// are available.
func (p *Panel) RollingVolatility(asset string, until time.Time, window int) optional.Option[float64] {
	returns := p.LogReturns(asset, until, window)
	if len(returns) < 2 {
		return optional.None[float64]()
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}

	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}

	variance /= float64(len(returns) - 1)

	return optional.Some(math.Sqrt(variance))
}

// TrailingAvgVolume returns the mean volume over the trailing window of
// bars ending at `until`, or None when the asset has no bars there.
func (p *Panel) TrailingAvgVolume(asset string, until time.Time, window int) optional.Option[float64] {
	bars := p.History(asset, until, window)
	if len(bars) == 0 {
		return optional.None[float64]()
	}

	sum := 0.0
	for _, bar := range bars {
		sum += bar.Volume
	}

	return optional.Some(sum / float64(len(bars)))
}

// SimpleReturn returns the simple return of the asset between two panel
// dates, or None when either bar is missing. This is the quantity the
// simulator applies one step forward of the signal date.
func (p *Panel) SimpleReturn(asset string, from time.Time, to time.Time) optional.Option[float64] {
	fromClose, ok := p.Close(asset, from)
	if !ok {
		return optional.None[float64]()
	}

	toClose, ok := p.Close(asset, to)
	if !ok {
		return optional.None[float64]()
	}

	return optional.Some(toClose/fromClose - 1)
}
