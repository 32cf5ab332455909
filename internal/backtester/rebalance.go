package backtester

import (
	"time"

	"github.com/panya30/MaxTrade-sub000/pkg/types"
)

// ShouldRebalance reports whether signals are generated on dates[index].
// The first date always rebalances; later dates rebalance when the date
// starts a new period of the configured frequency.
func ShouldRebalance(freq types.RebalanceFrequency, dates []time.Time, index int) bool {
	if index <= 0 {
		return true
	}
	if index >= len(dates) {
		return false
	}

	prev, cur := dates[index-1], dates[index]
	switch freq {
	case types.RebalanceDaily:
		return true
	case types.RebalanceWeekly:
		py, pw := prev.ISOWeek()
		cy, cw := cur.ISOWeek()
		return py != cy || pw != cw
	case types.RebalanceMonthly:
		return prev.Year() != cur.Year() || prev.Month() != cur.Month()
	case types.RebalanceQuarterly:
		return prev.Year() != cur.Year() || quarter(prev) != quarter(cur)
	case types.RebalanceNever:
		return false
	default:
		return true
	}
}

func quarter(t time.Time) int {
	return (int(t.Month()) - 1) / 3
}
