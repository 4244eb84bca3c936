package risk

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type staticView struct{ snap domain.LedgerSnapshot }

func (v staticView) Snapshot() domain.LedgerSnapshot { return v.snap }

type fakeStats map[string]decimal.Decimal

func (f fakeStats) Volume24h(_ context.Context, symbol string) (decimal.Decimal, error) {
	v, ok := f[symbol]
	if !ok {
		return decimal.Zero, domain.ErrNotFound
	}
	return v, nil
}

type fakeOracle map[string]domain.Quote

func (f fakeOracle) GetPrice(_ context.Context, symbol string) (domain.Quote, error) {
	q, ok := f[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrPriceUnavailable
	}
	return q, nil
}

func baseParams() domain.RiskParams {
	return domain.RiskParams{
		MaxPositions:          domain.Ptr(10),
		MaxPositionsPerSymbol: domain.Ptr(3),
		MaxPositionsPerGroup:  domain.Ptr(4),
		MaxExposurePct:        domain.Ptr(d("0.8")),
		MaxDailyLossPct:       domain.Ptr(d("0.05")),
		MaxDrawdownPct:        domain.Ptr(d("0.2")),
		MinVolume24h:          domain.Ptr(d("1000")),
	}
}

func flatSnapshot(cash string, positions ...domain.Position) domain.LedgerSnapshot {
	c := d(cash)
	exp := domain.ComputeExposure(c, positions)
	return domain.LedgerSnapshot{
		Portfolio: domain.Portfolio{
			ID:             "main",
			Cash:           c,
			PeakEquity:     exp.TotalEquity,
			DayStartEquity: exp.TotalEquity,
			DayStart:       testNow.Truncate(24 * time.Hour),
		},
		Positions: positions,
		Marks:     map[string]domain.Mark{},
		At:        testNow,
	}
}

func openPos(ticket, symbol string, side domain.Side, vol, entry, mark string) domain.Position {
	return domain.Position{
		TicketID:   ticket,
		Symbol:     symbol,
		Side:       side,
		Volume:     d(vol),
		EntryPrice: d(entry),
		MarkPrice:  d(mark),
		Status:     domain.PositionStatusOpen,
		OpenedAt:   testNow.Add(-time.Hour),
	}
}

func newEngine(snap domain.LedgerSnapshot, opts ...Option) *Engine {
	stats := fakeStats{"BTC": d("5000"), "ETH": d("5000"), "SOL": d("5000"), "DOGE": d("10")}
	groups := NewStaticGroups(map[string][]string{"majors": {"btc", "eth"}})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewEngine(staticView{snap}, stats, groups, logger, opts...)
}

func long(symbol, vol, price string) domain.TradeRequest {
	return domain.TradeRequest{Symbol: symbol, Side: domain.SideLong, Volume: d(vol), Price: d(price)}
}

func TestCanOpen(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		snap   domain.LedgerSnapshot
		params func(*domain.RiskParams)
		req    domain.TradeRequest
		want   string
	}{
		{
			name: "allowed",
			snap: flatSnapshot("10000"),
			req:  long("BTC", "10", "100"),
		},
		{
			name: "exposure exactly at limit is allowed",
			snap: flatSnapshot("10000"),
			req:  long("BTC", "80", "100"),
		},
		{
			name: "exposure over limit",
			snap: flatSnapshot("10000"),
			req:  long("BTC", "85", "100"),
			want: domain.ReasonMaxExposurePct,
		},
		{
			name: "existing short liability counts toward exposure",
			snap: flatSnapshot("10000", openPos("S1", "ETH", domain.SideShort, "50", "100", "100")),
			req:  long("SOL", "31", "100"),
			want: domain.ReasonMaxExposurePct,
		},
		{
			name: "saturated equity",
			snap: flatSnapshot("0"),
			req:  long("BTC", "1", "1"),
			want: domain.ReasonMaxExposurePct,
		},
		{
			name:   "missing limit denies everything",
			snap:   flatSnapshot("10000"),
			params: func(p *domain.RiskParams) { p.MaxDrawdownPct = nil },
			req:    long("BTC", "1", "1"),
			want:   domain.ReasonInvalidConfig,
		},
		{
			name:   "negative limit",
			snap:   flatSnapshot("10000"),
			params: func(p *domain.RiskParams) { p.MaxPositions = domain.Ptr(-1) },
			req:    long("BTC", "1", "1"),
			want:   domain.ReasonInvalidConfig,
		},
		{
			name: "zero volume",
			snap: flatSnapshot("10000"),
			req:  long("BTC", "0", "100"),
			want: domain.ReasonInvalidRequest,
		},
		{
			name: "unknown side",
			snap: flatSnapshot("10000"),
			req:  domain.TradeRequest{Symbol: "BTC", Side: "flat", Volume: d("1"), Price: d("1")},
			want: domain.ReasonInvalidRequest,
		},
		{
			name: "position count checked before exposure",
			snap: flatSnapshot("100",
				openPos("A", "SOL", domain.SideLong, "1", "10", "10"),
				openPos("B", "SOL", domain.SideLong, "1", "10", "10"),
			),
			params: func(p *domain.RiskParams) { p.MaxPositions = domain.Ptr(2) },
			req:    long("BTC", "1000", "100"),
			want:   domain.ReasonMaxPositions,
		},
		{
			name: "per symbol",
			snap: flatSnapshot("10000",
				openPos("A", "SOL", domain.SideLong, "1", "10", "10"),
				openPos("B", "SOL", domain.SideLong, "1", "10", "10"),
			),
			params: func(p *domain.RiskParams) { p.MaxPositionsPerSymbol = domain.Ptr(2) },
			req:    long("sol", "1", "10"),
			want:   domain.ReasonMaxPerSymbol,
		},
		{
			name: "per group",
			snap: flatSnapshot("10000",
				openPos("A", "BTC", domain.SideLong, "1", "10", "10"),
				openPos("B", "SOL", domain.SideLong, "1", "10", "10"),
			),
			params: func(p *domain.RiskParams) { p.MaxPositionsPerGroup = domain.Ptr(1) },
			req:    long("ETH", "1", "10"),
			want:   domain.ReasonMaxPerGroup,
		},
		{
			name: "ungrouped symbol is its own group",
			snap: flatSnapshot("10000",
				openPos("A", "BTC", domain.SideLong, "1", "10", "10"),
			),
			params: func(p *domain.RiskParams) { p.MaxPositionsPerGroup = domain.Ptr(1) },
			req:    long("SOL", "1", "10"),
		},
		{
			name: "daily loss",
			snap: func() domain.LedgerSnapshot {
				s := flatSnapshot("9400")
				s.Portfolio.DayStartEquity = d("10000")
				s.Portfolio.PeakEquity = d("10000")
				s.Portfolio.RealizedToday = d("-600")
				s.Portfolio.LossToday = d("600")
				return s
			}(),
			req:  long("BTC", "1", "10"),
			want: domain.ReasonMaxDailyLossPct,
		},
		{
			name: "winning closes do not offset losing ones",
			snap: func() domain.LedgerSnapshot {
				s := flatSnapshot("10000")
				s.Portfolio.RealizedToday = decimal.Zero
				s.Portfolio.LossToday = d("600")
				return s
			}(),
			req:  long("BTC", "1", "10"),
			want: domain.ReasonMaxDailyLossPct,
		},
		{
			name: "yesterday's loss does not count",
			snap: func() domain.LedgerSnapshot {
				s := flatSnapshot("9400")
				s.Portfolio.DayStart = testNow.Add(-24 * time.Hour).Truncate(24 * time.Hour)
				s.Portfolio.DayStartEquity = d("10000")
				s.Portfolio.PeakEquity = d("10000")
				s.Portfolio.RealizedToday = d("-600")
				s.Portfolio.LossToday = d("600")
				return s
			}(),
			req: long("BTC", "1", "10"),
		},
		{
			name: "drawdown",
			snap: func() domain.LedgerSnapshot {
				s := flatSnapshot("15000")
				s.Portfolio.PeakEquity = d("20000")
				return s
			}(),
			req:  long("BTC", "1", "10"),
			want: domain.ReasonMaxDrawdownPct,
		},
		{
			name: "volume below minimum",
			snap: flatSnapshot("10000"),
			req:  long("DOGE", "1", "1"),
			want: domain.ReasonMinVolume24h,
		},
		{
			name: "volume unknown",
			snap: flatSnapshot("10000"),
			req:  long("XRP", "1", "1"),
			want: domain.ReasonMinVolume24h,
		},
		{
			name:   "zero minimum skips volume lookup",
			snap:   flatSnapshot("10000"),
			params: func(p *domain.RiskParams) { p.MinVolume24h = domain.Ptr(decimal.Zero) },
			req:    long("XRP", "1", "1"),
		},
		{
			name: "stale mark",
			snap: func() domain.LedgerSnapshot {
				s := flatSnapshot("10000")
				s.Marks["BTC"] = domain.Mark{Price: d("100"), At: testNow.Add(-10 * time.Minute)}
				return s
			}(),
			params: func(p *domain.RiskParams) { p.MaxPriceAge = domain.Ptr(time.Minute) },
			req:    long("BTC", "1", "100"),
			want:   domain.ReasonStalePrice,
		},
		{
			name:   "no mark at all",
			snap:   flatSnapshot("10000"),
			params: func(p *domain.RiskParams) { p.MaxPriceAge = domain.Ptr(time.Minute) },
			req:    long("BTC", "1", "100"),
			want:   domain.ReasonStalePrice,
		},
		{
			name:   "position size",
			snap:   flatSnapshot("10000"),
			params: func(p *domain.RiskParams) { p.MaxPositionSizePct = domain.Ptr(d("0.1")) },
			req:    long("BTC", "11", "100"),
			want:   domain.ReasonMaxPositionSizePct,
		},
		{
			name:   "min equity",
			snap:   flatSnapshot("10000"),
			params: func(p *domain.RiskParams) { p.MinEquity = domain.Ptr(d("20000")) },
			req:    long("BTC", "1", "1"),
			want:   domain.ReasonMinEquity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := baseParams()
			if tt.params != nil {
				tt.params(&params)
			}
			got := newEngine(tt.snap).CanOpen(ctx, tt.req, params)
			if tt.want == "" {
				if !got.Allowed {
					t.Fatalf("denied: %s (%s)", got.Reason, got.Detail)
				}
				return
			}
			if got.Allowed {
				t.Fatalf("allowed, want deny %s", tt.want)
			}
			if got.Reason != tt.want {
				t.Fatalf("reason=%s want=%s (%s)", got.Reason, tt.want, got.Detail)
			}
		})
	}
}

func TestStaleCheckPrefersOracle(t *testing.T) {
	snap := flatSnapshot("10000")
	snap.Marks["BTC"] = domain.Mark{Price: d("100"), At: testNow.Add(-time.Hour)}

	params := baseParams()
	params.MaxPriceAge = domain.Ptr(time.Minute)

	fresh := fakeOracle{"BTC": {Symbol: "BTC", Price: d("100"), At: testNow.Add(-5 * time.Second)}}
	if got := newEngine(snap, WithOracle(fresh)).CanOpen(context.Background(), long("BTC", "1", "100"), params); !got.Allowed {
		t.Fatalf("denied with fresh oracle quote: %s %s", got.Reason, got.Detail)
	}

	empty := fakeOracle{}
	got := newEngine(snap, WithOracle(empty)).CanOpen(context.Background(), long("BTC", "1", "100"), params)
	if got.Allowed || got.Reason != domain.ReasonStalePrice {
		t.Fatalf("got %+v, want stale_price", got)
	}
}

func TestComputeExposure(t *testing.T) {
	snap := flatSnapshot("9000",
		openPos("L", "BTC", domain.SideLong, "10", "100", "120"),
		openPos("S", "ETH", domain.SideShort, "5", "200", "180"),
	)
	exp := newEngine(snap).ComputeExposure()

	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"long value", exp.LongValue, "1200"},
		{"short liability", exp.ShortLiability, "1000"},
		{"short pnl", exp.ShortUnrealizedPnL, "100"},
		{"equity", exp.TotalEquity, "10300"},
		{"exposure", exp.TotalExposure, "2200"},
	}
	for _, c := range checks {
		if c.got.Cmp(d(c.want)) != 0 {
			t.Fatalf("%s=%s want=%s", c.name, c.got, c.want)
		}
	}
	if exp.Saturated {
		t.Fatal("unexpected saturation")
	}
	if !exp.At.Equal(testNow) {
		t.Fatalf("At=%v", exp.At)
	}
}

func TestCanOpenDoesNotMutateSnapshot(t *testing.T) {
	snap := flatSnapshot("10000", openPos("L", "BTC", domain.SideLong, "1", "100", "100"))
	e := newEngine(snap)
	before := e.ComputeExposure()
	for i := 0; i < 3; i++ {
		e.CanOpen(context.Background(), long("ETH", "10", "100"), baseParams())
	}
	after := e.ComputeExposure()
	if before.TotalEquity.Cmp(after.TotalEquity) != 0 || before.TotalExposure.Cmp(after.TotalExposure) != 0 {
		t.Fatalf("exposure changed: %+v -> %+v", before, after)
	}
}
