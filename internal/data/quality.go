package data

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Severity grades a data issue
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Issue types reported by the quality checker
const (
	IssueNoData           = "NO_DATA"
	IssueBadClose         = "NON_POSITIVE_CLOSE"
	IssueDuplicate        = "DUPLICATE_TIMESTAMP"
	IssueOutOfOrder       = "OUT_OF_ORDER"
	IssueGap              = "GAP_DETECTED"
	IssueExtremeMove      = "EXTREME_MOVE"
	IssueOHLCInconsistent = "OHLC_INCONSISTENT"
)

// QualityChecker validates daily price series before they are fed to a backtest
type QualityChecker struct {
	logger *zap.Logger

	// MaxGapDays is the largest calendar gap between bars before it is flagged
	MaxGapDays int
	// MaxCloseMove is the largest close-to-close change (0.5 = 50%) before it is flagged
	MaxCloseMove float64
}

// DataIssue represents a data quality problem
type DataIssue struct {
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Message   string    `json:"message"`
	BarIndex  int       `json:"barIndex"`
}

// QualityReport summarizes the checks for one symbol
type QualityReport struct {
	Symbol       string      `json:"symbol"`
	TotalBars    int         `json:"totalBars"`
	Issues       []DataIssue `json:"issues"`
	QualityScore int         `json:"qualityScore"`
	IsUsable     bool        `json:"isUsable"`
	StartDate    time.Time   `json:"startDate"`
	EndDate      time.Time   `json:"endDate"`
}

// NewQualityChecker creates a checker with defaults for daily equity data
func NewQualityChecker(logger *zap.Logger) *QualityChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QualityChecker{
		logger:       logger.Named("quality"),
		MaxGapDays:   5,
		MaxCloseMove: 0.5,
	}
}

// Validate runs every check over bars in their given order
func (qc *QualityChecker) Validate(symbol string, bars []types.OHLCV) *QualityReport {
	if len(bars) == 0 {
		return &QualityReport{
			Symbol: symbol,
			Issues: []DataIssue{{Type: IssueNoData, Severity: SeverityCritical, Symbol: symbol, Message: "no bars"}},
		}
	}

	var issues []DataIssue
	issues = append(issues, qc.checkCloses(symbol, bars)...)
	issues = append(issues, qc.checkOrdering(symbol, bars)...)
	issues = append(issues, qc.checkGaps(symbol, bars)...)
	issues = append(issues, qc.checkOHLC(symbol, bars)...)

	score := qualityScore(len(bars), issues)
	return &QualityReport{
		Symbol:       symbol,
		TotalBars:    len(bars),
		Issues:       issues,
		QualityScore: score,
		IsUsable:     !hasSeverity(issues, SeverityCritical),
		StartDate:    bars[0].Timestamp,
		EndDate:      bars[len(bars)-1].Timestamp,
	}
}

// Clean returns the bars sorted ascending with duplicate timestamps and
// non-positive closes removed. Missing open/high/low values are filled from
// the close and high/low are widened to cover open and close.
func (qc *QualityChecker) Clean(symbol string, bars []types.OHLCV) []types.OHLCV {
	sorted := make([]types.OHLCV, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	cleaned := make([]types.OHLCV, 0, len(sorted))
	seen := make(map[int64]bool, len(sorted))
	for _, bar := range sorted {
		ts := bar.Timestamp.UnixNano()
		if seen[ts] || !bar.Close.IsPositive() {
			continue
		}
		seen[ts] = true

		if !bar.Open.IsPositive() {
			bar.Open = bar.Close
		}
		if !bar.High.IsPositive() {
			bar.High = bar.Close
		}
		if !bar.Low.IsPositive() {
			bar.Low = bar.Close
		}
		bar.High = decimal.Max(bar.High, bar.Open, bar.Close)
		bar.Low = decimal.Min(bar.Low, bar.Open, bar.Close)
		if bar.Symbol == "" {
			bar.Symbol = symbol
		}
		cleaned = append(cleaned, bar)
	}

	if removed := len(bars) - len(cleaned); removed > 0 {
		qc.logger.Warn("Dropped invalid bars",
			zap.String("symbol", symbol),
			zap.Int("original", len(bars)),
			zap.Int("removed", removed),
		)
	}
	return cleaned
}

func (qc *QualityChecker) checkCloses(symbol string, bars []types.OHLCV) []DataIssue {
	var issues []DataIssue
	for i, bar := range bars {
		if !bar.Close.IsPositive() {
			issues = append(issues, DataIssue{
				Type:      IssueBadClose,
				Severity:  SeverityCritical,
				Timestamp: bar.Timestamp,
				Symbol:    symbol,
				Message:   "close is not positive: " + bar.Close.String(),
				BarIndex:  i,
			})
			continue
		}
		if i == 0 || !bars[i-1].Close.IsPositive() {
			continue
		}
		move := math.Abs(bar.Close.Div(bars[i-1].Close).InexactFloat64() - 1)
		if move > qc.MaxCloseMove {
			issues = append(issues, DataIssue{
				Type:      IssueExtremeMove,
				Severity:  SeverityMedium,
				Timestamp: bar.Timestamp,
				Symbol:    symbol,
				Message:   fmt.Sprintf("close moved %.1f%%", move*100),
				BarIndex:  i,
			})
		}
	}
	return issues
}

func (qc *QualityChecker) checkOrdering(symbol string, bars []types.OHLCV) []DataIssue {
	var issues []DataIssue
	seen := make(map[int64]int, len(bars))
	for i, bar := range bars {
		ts := bar.Timestamp.UnixNano()
		if first, ok := seen[ts]; ok {
			issues = append(issues, DataIssue{
				Type:      IssueDuplicate,
				Severity:  SeverityHigh,
				Timestamp: bar.Timestamp,
				Symbol:    symbol,
				Message:   fmt.Sprintf("duplicate timestamp (also at index %d)", first),
				BarIndex:  i,
			})
		} else {
			seen[ts] = i
		}
		if i > 0 && bar.Timestamp.Before(bars[i-1].Timestamp) {
			issues = append(issues, DataIssue{
				Type:      IssueOutOfOrder,
				Severity:  SeverityHigh,
				Timestamp: bar.Timestamp,
				Symbol:    symbol,
				Message:   "bar is out of chronological order",
				BarIndex:  i,
			})
		}
	}
	return issues
}

func (qc *QualityChecker) checkGaps(symbol string, bars []types.OHLCV) []DataIssue {
	if qc.MaxGapDays <= 0 {
		return nil
	}
	limit := time.Duration(qc.MaxGapDays) * 24 * time.Hour

	var issues []DataIssue
	for i := 1; i < len(bars); i++ {
		gap := bars[i].Timestamp.Sub(bars[i-1].Timestamp)
		if gap > limit {
			issues = append(issues, DataIssue{
				Type:      IssueGap,
				Severity:  SeverityLow,
				Timestamp: bars[i-1].Timestamp,
				Symbol:    symbol,
				Message:   "data gap of " + gap.String(),
				BarIndex:  i - 1,
			})
		}
	}
	return issues
}

// checkOHLC only inspects bars that carry a full set of prices
func (qc *QualityChecker) checkOHLC(symbol string, bars []types.OHLCV) []DataIssue {
	var issues []DataIssue
	for i, bar := range bars {
		if bar.Open.IsZero() || bar.High.IsZero() || bar.Low.IsZero() {
			continue
		}
		if bar.High.LessThan(decimal.Max(bar.Open, bar.Close, bar.Low)) ||
			bar.Low.GreaterThan(decimal.Min(bar.Open, bar.Close, bar.High)) {
			issues = append(issues, DataIssue{
				Type:      IssueOHLCInconsistent,
				Severity:  SeverityMedium,
				Timestamp: bar.Timestamp,
				Symbol:    symbol,
				Message: fmt.Sprintf("high/low do not bracket the bar (O:%s H:%s L:%s C:%s)",
					bar.Open, bar.High, bar.Low, bar.Close),
				BarIndex: i,
			})
		}
	}
	return issues
}

// qualityScore weights issues by severity, normalized per 100 bars
func qualityScore(totalBars int, issues []DataIssue) int {
	if totalBars == 0 {
		return 0
	}
	penalty := 0.0
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			penalty += 10
		case SeverityHigh:
			penalty += 5
		case SeverityMedium:
			penalty += 2
		case SeverityLow:
			penalty += 0.5
		}
	}
	normalized := penalty / math.Max(1, float64(totalBars)/100) * 10
	return int(math.Max(0, 100-math.Min(normalized, 100)))
}

func hasSeverity(issues []DataIssue, s Severity) bool {
	for _, issue := range issues {
		if issue.Severity == s {
			return true
		}
	}
	return false
}
