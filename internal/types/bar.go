package types

import (
	"time"

	"github.com/moznion/go-optional"
)

// PriceBar is a single daily OHLCV observation for one asset. Bars are the
// sole source of truth for every downstream computation; for a given asset
// the bar dates must be strictly increasing and the close strictly positive.
type PriceBar struct {
	Time      time.Time                `csv:"time"`
	Asset     string                   `csv:"asset"`
	Open      float64                  `csv:"open"`
	High      float64                  `csv:"high"`
	Low       float64                  `csv:"low"`
	Close     float64                  `csv:"close"`
	Volume    float64                  `csv:"volume"`
	MarketCap optional.Option[float64] `csv:"market_cap"`
}
