package backtester_test

import (
	"testing"
	"time"

	"github.com/panya30/MaxTrade-sub000/internal/backtester"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func frictionlessConfig() types.BacktestConfig {
	cfg := types.DefaultBacktestConfig()
	cfg.Commission = types.CommissionConfig{}
	cfg.Slippage = types.SlippageConfig{}
	return cfg
}

func TestLedgerBuyWithDefaultFrictions(t *testing.T) {
	ledger := backtester.NewLedger(zap.NewNop(), types.DefaultBacktestConfig())

	trade := ledger.Buy("AAPL", d("100"), d("150"), day0)
	require.NotNil(t, trade)

	assert.True(t, trade.Price.Equal(d("150.075")), "execution price %s", trade.Price)
	assert.True(t, trade.Commission.Equal(d("15.0075")), "commission %s", trade.Commission)
	assert.True(t, trade.Slippage.Equal(d("0.075")), "slippage %s", trade.Slippage)
	assert.True(t, trade.PnL.IsNone())
	assert.Equal(t, "trade_1", trade.ID)

	wantCash := d("100000").Sub(d("100").Mul(d("150.075")).Add(d("15.0075")))
	assert.True(t, ledger.Cash().Equal(wantCash), "cash %s want %s", ledger.Cash(), wantCash)

	pos, ok := ledger.Position("AAPL")
	require.True(t, ok)
	assert.True(t, pos.AvgCost.Equal(d("150.075")))
	assert.True(t, pos.CurrentPrice.Equal(d("150")))
	assert.True(t, pos.MarketValue.Equal(d("15000")))
}

func TestLedgerBuyRejections(t *testing.T) {
	ledger := backtester.NewLedger(zap.NewNop(), frictionlessConfig())

	assert.Nil(t, ledger.Buy("AAA", decimal.Zero, d("10"), day0))
	assert.Nil(t, ledger.Buy("AAA", d("-5"), d("10"), day0))
	assert.Nil(t, ledger.Buy("AAA", d("0.5"), d("10"), day0), "fractional quantity floors to zero")
	assert.Nil(t, ledger.Buy("AAA", d("2000"), d("100"), day0), "cost exceeds cash")

	assert.True(t, ledger.Cash().Equal(d("100000")))
	assert.Equal(t, 0, ledger.PositionCount())
	assert.Empty(t, ledger.Trades())
}

func TestLedgerVolumeWeightedAverageCost(t *testing.T) {
	ledger := backtester.NewLedger(zap.NewNop(), frictionlessConfig())

	require.NotNil(t, ledger.Buy("AAA", d("100"), d("10"), day0))
	require.NotNil(t, ledger.Buy("AAA", d("300"), d("20"), day0.AddDate(0, 0, 1)))

	pos, ok := ledger.Position("AAA")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(d("400")))
	assert.True(t, pos.AvgCost.Equal(d("17.5")), "avg cost %s", pos.AvgCost)
	assert.Equal(t, day0, pos.OpenedAt)
}

func TestLedgerSellRealizesPnL(t *testing.T) {
	cfg := frictionlessConfig()
	cfg.Commission = types.CommissionConfig{PercentFee: d("0.01")}
	ledger := backtester.NewLedger(zap.NewNop(), cfg)

	require.NotNil(t, ledger.Buy("AAA", d("100"), d("100"), day0))
	assert.True(t, ledger.Cash().Equal(d("89900")))

	trade := ledger.Sell("AAA", d("40"), d("110"), day0.Add(36*time.Hour))
	require.NotNil(t, trade)

	// proceeds = 4400 - 44; pnl = proceeds - 4000 + 44
	assert.True(t, trade.Commission.Equal(d("44")))
	assert.True(t, trade.PnL.Unwrap().Equal(d("400")), "pnl %s", trade.PnL.Unwrap())
	assert.InDelta(t, 10.0, trade.PnLPercent.Unwrap(), 1e-9)
	assert.Equal(t, 2, trade.HoldingPeriodDays.Unwrap())
	assert.True(t, ledger.Cash().Equal(d("94256")), "cash %s", ledger.Cash())

	pos, ok := ledger.Position("AAA")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(d("60")))
	assert.True(t, pos.AvgCost.Equal(d("100")), "selling must not change avg cost")
}

func TestLedgerSellNeverOversells(t *testing.T) {
	ledger := backtester.NewLedger(zap.NewNop(), frictionlessConfig())
	require.NotNil(t, ledger.Buy("AAA", d("10"), d("50"), day0))

	trade := ledger.Sell("AAA", d("25"), d("60"), day0)
	require.NotNil(t, trade)
	assert.True(t, trade.Quantity.Equal(d("10")))
	assert.Equal(t, 0, ledger.PositionCount(), "closed position is deleted")
}

func TestLedgerSellWithoutPositionIsNoop(t *testing.T) {
	ledger := backtester.NewLedger(zap.NewNop(), frictionlessConfig())

	assert.Nil(t, ledger.Sell("ZZZ", d("10"), d("50"), day0))
	assert.True(t, ledger.Cash().Equal(d("100000")))
	assert.Empty(t, ledger.Trades())
}

func TestLedgerFractionalResidueIsDeleted(t *testing.T) {
	cfg := frictionlessConfig()
	cfg.AllowFractional = true
	ledger := backtester.NewLedger(zap.NewNop(), cfg)

	require.NotNil(t, ledger.Buy("BTC", d("1.00005"), d("100"), day0))
	require.NotNil(t, ledger.Sell("BTC", d("1"), d("100"), day0))
	assert.Equal(t, 0, ledger.PositionCount())
}

func TestLedgerMarkToMarketKeepsStaleMarks(t *testing.T) {
	ledger := backtester.NewLedger(zap.NewNop(), frictionlessConfig())
	require.NotNil(t, ledger.Buy("AAA", d("10"), d("100"), day0))
	require.NotNil(t, ledger.Buy("BBB", d("10"), d("50"), day0))

	ledger.MarkToMarket(map[string]decimal.Decimal{"AAA": d("120")}, day0.AddDate(0, 0, 1))

	aaa, _ := ledger.Position("AAA")
	bbb, _ := ledger.Position("BBB")
	assert.True(t, aaa.MarketValue.Equal(d("1200")))
	assert.True(t, aaa.UnrealizedPnL.Equal(d("200")))
	assert.InDelta(t, 20.0, aaa.UnrealizedPnLPercent, 1e-9)
	assert.True(t, bbb.CurrentPrice.Equal(d("50")))

	want := ledger.Cash().Add(d("1200")).Add(d("500"))
	assert.True(t, ledger.TotalValue().Equal(want))
}

func TestLedgerCloseAllSkipsMissingPrices(t *testing.T) {
	ledger := backtester.NewLedger(zap.NewNop(), frictionlessConfig())
	require.NotNil(t, ledger.Buy("AAA", d("10"), d("100"), day0))
	require.NotNil(t, ledger.Buy("BBB", d("10"), d("50"), day0))

	closed := ledger.CloseAll(map[string]decimal.Decimal{"BBB": d("55")}, day0)
	require.Len(t, closed, 1)
	assert.Equal(t, "BBB", closed[0].Symbol)
	assert.Equal(t, 1, ledger.PositionCount())
}

func TestLedgerResetRestartsTradeIDs(t *testing.T) {
	ledger := backtester.NewLedger(zap.NewNop(), frictionlessConfig())
	require.NotNil(t, ledger.Buy("AAA", d("1"), d("10"), day0))
	require.NotNil(t, ledger.Buy("BBB", d("1"), d("10"), day0))

	ledger.Reset()
	assert.True(t, ledger.Cash().Equal(d("100000")))
	assert.Equal(t, 0, ledger.PositionCount())

	trade := ledger.Buy("CCC", d("1"), d("10"), day0)
	require.NotNil(t, trade)
	assert.Equal(t, "trade_1", trade.ID)
}

func TestCommissionStaysWithinBounds(t *testing.T) {
	cfg := frictionlessConfig()
	cfg.Commission = types.CommissionConfig{
		FixedFee:      d("1"),
		PercentFee:    d("0.002"),
		MinCommission: d("5"),
		MaxCommission: d("50"),
	}
	ledger := backtester.NewLedger(zap.NewNop(), cfg)

	tests := []struct {
		qty, price string
		want       string
	}{
		{"1", "10", "5"},       // below minimum
		{"100", "50", "11"},    // 1 + 5000*0.002
		{"10000", "100", "50"}, // capped
		{"-100", "50", "11"},   // notional is absolute
	}
	for _, tt := range tests {
		got := ledger.CalculateCommission(d(tt.qty), d(tt.price))
		assert.True(t, got.Equal(d(tt.want)), "commission(%s, %s) = %s, want %s", tt.qty, tt.price, got, tt.want)
		assert.True(t, got.GreaterThanOrEqual(cfg.Commission.MinCommission))
		assert.True(t, got.LessThanOrEqual(cfg.Commission.MaxCommission))
	}
}

func TestZeroMaxCommissionIsUncapped(t *testing.T) {
	cfg := frictionlessConfig()
	cfg.Commission = types.CommissionConfig{PercentFee: d("0.001"), MinCommission: d("2")}
	ledger := backtester.NewLedger(zap.NewNop(), cfg)

	assert.True(t, ledger.CalculateCommission(d("1"), d("10")).Equal(d("2")))
	assert.True(t, ledger.CalculateCommission(d("1000"), d("1000")).Equal(d("1000")), "no upper bound")
}

func TestSlippageIsAdverse(t *testing.T) {
	cfg := frictionlessConfig()
	cfg.Slippage = types.SlippageConfig{Fixed: d("0.01"), Percent: d("0.001")}
	ledger := backtester.NewLedger(zap.NewNop(), cfg)

	assert.True(t, ledger.CalculateSlippage(d("100"), types.OrderSideBuy).Equal(d("0.11")))
	assert.True(t, ledger.CalculateSlippage(d("100"), types.OrderSideSell).Equal(d("-0.11")))
}

func TestRandomizedSlippageIsSeededAndBounded(t *testing.T) {
	cfg := frictionlessConfig()
	cfg.Slippage = types.SlippageConfig{Percent: d("0.01"), Randomize: true}
	cfg.SlippageSeed = 42

	a := backtester.NewLedger(zap.NewNop(), cfg)
	b := backtester.NewLedger(zap.NewNop(), cfg)

	for i := 0; i < 50; i++ {
		sa := a.CalculateSlippage(d("100"), types.OrderSideBuy)
		sb := b.CalculateSlippage(d("100"), types.OrderSideBuy)
		assert.True(t, sa.Equal(sb), "same seed must give same slippage")
		assert.True(t, sa.GreaterThanOrEqual(d("0.5")), "slippage %s below range", sa)
		assert.True(t, sa.LessThan(d("1.5")), "slippage %s above range", sa)
	}
}
