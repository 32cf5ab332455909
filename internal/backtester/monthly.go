package backtester

import (
	"sort"
	"time"

	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/panya30/MaxTrade-sub000/pkg/utils"
)

type monthBucket struct {
	year  int
	month time.Month
	first float64
	last  float64
}

func (b *monthBucket) key() int {
	return b.year*12 + int(b.month)
}

// CalculateMonthlyReturns buckets the curve by calendar month and returns
// (last/first - 1) * 100 for each month in chronological order.
func (mc *MetricsCalculator) CalculateMonthlyReturns(curve []types.EquityPoint) []types.MonthlyReturn {
	buckets := make([]*monthBucket, 0)
	index := make(map[int]*monthBucket)

	for _, point := range curve {
		equity := point.Equity.InexactFloat64()
		candidate := &monthBucket{year: point.Date.Year(), month: point.Date.Month(), first: equity}
		b, ok := index[candidate.key()]
		if !ok {
			b = candidate
			index[b.key()] = b
			buckets = append(buckets, b)
		}
		b.last = equity
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].key() < buckets[j].key()
	})

	result := make([]types.MonthlyReturn, 0, len(buckets))
	for _, b := range buckets {
		var ret float64
		if b.first > 0 {
			ret = utils.Finite((b.last/b.first - 1) * 100)
		}
		result = append(result, types.MonthlyReturn{
			Year:   b.year,
			Month:  b.month,
			Return: ret,
		})
	}
	return result
}
