package enrich

import (
	"math"
	"time"
)

// indicatorPrecision is the decimal precision indicators are rounded to so
// every consumer sees identical derived values regardless of platform.
const indicatorPrecision = 4

// tradingDaysPerYear annualises volatility computed from daily returns.
const tradingDaysPerYear = 252.0

func roundTo(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}

// IndicatorWindows configures the rolling computations.
type IndicatorWindows struct {
	SMAShort  int // default 20
	SMALong   int // default 50
	EMA       int // default 12
	RSI       int // default 14
	MoneyFlow int // default 20
}

func (w IndicatorWindows) withDefaults() IndicatorWindows {
	if w.SMAShort <= 0 {
		w.SMAShort = 20
	}
	if w.SMALong <= 0 {
		w.SMALong = 50
	}
	if w.EMA <= 0 {
		w.EMA = 12
	}
	if w.RSI <= 0 {
		w.RSI = 14
	}
	if w.MoneyFlow <= 0 {
		w.MoneyFlow = 20
	}
	return w
}

// symbolSeries accumulates the per-symbol rolling state. It must only be fed
// records in timestamp order; the per-partition worker loop guarantees that.
type symbolSeries struct {
	windows IndicatorWindows

	lastTS time.Time

	closes []float64 // bounded by the longest lookback
	flows  []float64 // close*volume per bar

	ema        float64
	emaReady   bool
	avgGain    float64
	avgLoss    float64
	rsiSamples int
}

func newSymbolSeries(w IndicatorWindows) *symbolSeries {
	return &symbolSeries{windows: w.withDefaults()}
}

func (s *symbolSeries) maxLookback() int {
	max := s.windows.SMALong
	if s.windows.RSI+1 > max {
		max = s.windows.RSI + 1
	}
	if s.windows.MoneyFlow > max {
		max = s.windows.MoneyFlow
	}
	return max
}

// observe appends one bar and returns the recomputed indicator set. Only
// indicators whose lookback is satisfied appear in the map.
func (s *symbolSeries) observe(ts time.Time, close float64, volume uint64) map[string]float64 {
	prevClose := 0.0
	if len(s.closes) > 0 {
		prevClose = s.closes[len(s.closes)-1]
	}

	s.closes = append(s.closes, close)
	s.flows = append(s.flows, close*float64(volume))
	if overflow := len(s.closes) - s.maxLookback(); overflow > 0 {
		s.closes = s.closes[overflow:]
		s.flows = s.flows[overflow:]
	}
	s.lastTS = ts

	out := make(map[string]float64, 6)

	if sma, ok := s.sma(s.windows.SMAShort); ok {
		out["sma_short"] = sma
	}
	if sma, ok := s.sma(s.windows.SMALong); ok {
		out["sma_long"] = sma
	}
	out["ema"] = s.observeEMA(close)
	if rsi, ok := s.observeRSI(prevClose, close); ok {
		out["rsi"] = rsi
	}
	if vol, ok := s.volatility(); ok {
		out["volatility"] = vol
	}
	if flow, ok := s.moneyFlow(); ok {
		out["money_flow"] = flow
	}
	return out
}

func (s *symbolSeries) sma(period int) (float64, bool) {
	if len(s.closes) < period {
		return 0, false
	}
	sum := 0.0
	for _, c := range s.closes[len(s.closes)-period:] {
		sum += c
	}
	return roundTo(sum/float64(period), indicatorPrecision), true
}

// observeEMA updates the incremental EMA, seeded with the first close.
func (s *symbolSeries) observeEMA(close float64) float64 {
	if !s.emaReady {
		s.ema = close
		s.emaReady = true
	} else {
		multiplier := 2.0 / float64(s.windows.EMA+1)
		s.ema = (close-s.ema)*multiplier + s.ema
	}
	return roundTo(s.ema, indicatorPrecision)
}

// observeRSI applies Wilder smoothing over gains and losses.
func (s *symbolSeries) observeRSI(prevClose, close float64) (float64, bool) {
	if prevClose == 0 {
		return 0, false
	}
	change := close - prevClose
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	period := float64(s.windows.RSI)
	if s.rsiSamples < s.windows.RSI {
		s.avgGain += gain / period
		s.avgLoss += loss / period
		s.rsiSamples++
		if s.rsiSamples < s.windows.RSI {
			return 0, false
		}
	} else {
		s.avgGain = (s.avgGain*(period-1) + gain) / period
		s.avgLoss = (s.avgLoss*(period-1) + loss) / period
	}

	if s.avgLoss == 0 {
		return 100, true
	}
	rs := s.avgGain / s.avgLoss
	return roundTo(100-100/(1+rs), indicatorPrecision), true
}

// volatility is the annualised standard deviation of simple returns over the
// retained window.
func (s *symbolSeries) volatility() (float64, bool) {
	if len(s.closes) < 3 {
		return 0, false
	}
	returns := make([]float64, 0, len(s.closes)-1)
	for i := 1; i < len(s.closes); i++ {
		if s.closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (s.closes[i]-s.closes[i-1])/s.closes[i-1])
	}
	if len(returns) < 2 {
		return 0, false
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return roundTo(math.Sqrt(variance)*math.Sqrt(tradingDaysPerYear), indicatorPrecision), true
}

// moneyFlow aggregates close*volume over the flow window, the capital-flow
// figure downstream dashboards chart.
func (s *symbolSeries) moneyFlow() (float64, bool) {
	if len(s.flows) == 0 {
		return 0, false
	}
	n := s.windows.MoneyFlow
	if n > len(s.flows) {
		n = len(s.flows)
	}
	sum := 0.0
	for _, f := range s.flows[len(s.flows)-n:] {
		sum += f
	}
	return roundTo(sum, 2), true
}
