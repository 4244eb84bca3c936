package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/store/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(dur time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(dur)
	c.mu.Unlock()
}

// flakyStore fails every Commit while fail is set.
type flakyStore struct {
	*memory.Store
	mu   sync.Mutex
	fail bool
}

func (s *flakyStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *flakyStore) Commit(ctx context.Context, c domain.LedgerCommit) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("disk on fire")
	}
	return s.Store.Commit(ctx, c)
}

func newTestLedger(t *testing.T, store domain.LedgerStore, cash string, opts ...Option) *Ledger {
	t.Helper()
	l, err := New(context.Background(), store, Config{
		PortfolioID: "main",
		InitialCash: d(cash),
	}, discardLogger(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func mustOpen(t *testing.T, l *Ledger, req domain.OpenRequest) domain.Position {
	t.Helper()
	p, err := l.Open(context.Background(), req)
	if err != nil {
		t.Fatalf("Open(%+v): %v", req, err)
	}
	return p
}

func wantDec(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if got.Cmp(d(want)) != 0 {
		t.Fatalf("%s=%s want=%s", name, got, want)
	}
}

func TestLongLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.New(), "10000")

	pos := mustOpen(t, l, domain.OpenRequest{
		TicketID: "L1", Symbol: "btc", Side: domain.SideLong, Volume: d("10"), EntryPrice: d("100"),
	})
	if pos.Symbol != "BTC" {
		t.Fatalf("symbol=%q want=BTC", pos.Symbol)
	}
	if pos.Status != domain.PositionStatusOpen {
		t.Fatalf("status=%s want=open", pos.Status)
	}
	wantDec(t, "cash after open", l.Portfolio().Cash, "9000")
	wantDec(t, "holding after open", l.Portfolio().Holdings["BTC"], "10")

	if err := l.UpdateMarkPrice(ctx, "BTC", d("150")); err != nil {
		t.Fatalf("UpdateMarkPrice: %v", err)
	}
	open := l.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("open positions=%d want=1", len(open))
	}
	wantDec(t, "unrealized", open[0].UnrealizedPnL(), "500")
	wantDec(t, "cash after mark", l.Portfolio().Cash, "9000")

	realized, err := l.Close(ctx, "L1", d("150"))
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	wantDec(t, "realized", realized, "500")
	wantDec(t, "cash after close", l.Portfolio().Cash, "10500")
	if _, ok := l.Portfolio().Holdings["BTC"]; ok {
		t.Fatalf("holding for BTC should be removed after full close")
	}

	closed, err := l.Position(ctx, "L1")
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if closed.Status != domain.PositionStatusClosed || closed.ClosedAt == nil {
		t.Fatalf("status=%s closed_at=%v want closed with timestamp", closed.Status, closed.ClosedAt)
	}
	wantDec(t, "unrealized after close", closed.UnrealizedPnL(), "0")
}

func TestShortLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.New(), "10000")

	mustOpen(t, l, domain.OpenRequest{
		TicketID: "S1", Symbol: "ETH", Side: domain.SideShort, Volume: d("10"), EntryPrice: d("100"),
	})
	wantDec(t, "cash after short open", l.Portfolio().Cash, "10000")
	wantDec(t, "holding after short open", l.Portfolio().Holdings["ETH"], "-10")

	realized, err := l.Close(ctx, "S1", d("80"))
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	wantDec(t, "realized", realized, "200")
	wantDec(t, "cash after close", l.Portfolio().Cash, "10200")
	if _, ok := l.Portfolio().Holdings["ETH"]; ok {
		t.Fatalf("holding for ETH should be back to zero")
	}
}

func TestShortLossDebitsCash(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.New(), "1000")

	mustOpen(t, l, domain.OpenRequest{
		TicketID: "S1", Symbol: "ETH", Side: domain.SideShort, Volume: d("2"), EntryPrice: d("100"),
	})
	realized, err := l.Close(ctx, "S1", d("130"))
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	wantDec(t, "realized", realized, "-60")
	wantDec(t, "cash", l.Portfolio().Cash, "940")
}

func TestCloseTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.New(), "10000")
	mustOpen(t, l, domain.OpenRequest{
		TicketID: "T1", Symbol: "BTC", Side: domain.SideLong, Volume: d("1"), EntryPrice: d("100"),
	})

	if _, err := l.Close(ctx, "T1", d("120")); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	cash := l.Portfolio().Cash

	_, err := l.Close(ctx, "T1", d("120"))
	if !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("second Close err=%v want ErrAlreadyClosed", err)
	}
	_, err = l.PartialClose(ctx, "T1", d("1"), d("120"))
	if !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("PartialClose after close err=%v want ErrAlreadyClosed", err)
	}
	wantDec(t, "cash", l.Portfolio().Cash, cash.String())
}

func TestPartialCloseAdditivity(t *testing.T) {
	ctx := context.Background()

	slices := []struct {
		volume string
		price  string
		status domain.PositionStatus
	}{
		{"3", "110", domain.PositionStatusPartiallyClosed},
		{"2", "120", domain.PositionStatusPartiallyClosed},
		{"5", "90", domain.PositionStatusClosed},
	}

	for _, side := range []domain.Side{domain.SideLong, domain.SideShort} {
		t.Run(string(side), func(t *testing.T) {
			l := newTestLedger(t, memory.New(), "10000")
			mustOpen(t, l, domain.OpenRequest{
				TicketID: "P1", Symbol: "SOL", Side: side, Volume: d("10"), EntryPrice: d("100"),
			})

			sum := decimal.Zero
			for i, s := range slices {
				delta, err := l.PartialClose(ctx, "P1", d(s.volume), d(s.price))
				if err != nil {
					t.Fatalf("slice %d: %v", i, err)
				}
				sum = sum.Add(delta)

				p, err := l.Position(ctx, "P1")
				if err != nil {
					t.Fatalf("Position: %v", err)
				}
				if p.Status != s.status {
					t.Fatalf("slice %d status=%s want=%s", i, p.Status, s.status)
				}
			}

			p, _ := l.Position(ctx, "P1")
			wantDec(t, "sum of slices vs realized", sum, p.RealizedPnL.String())
			wantDec(t, "volume closed", p.VolumeClosed, "10")

			// Long: 3*10 + 2*20 + 5*(-10) = 20. Short mirrors it.
			want := "20"
			if side == domain.SideShort {
				want = "-20"
			}
			wantDec(t, "realized", p.RealizedPnL, want)
		})
	}
}

func TestPartialCloseBoundaries(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.New(), "10000")
	mustOpen(t, l, domain.OpenRequest{
		TicketID: "B1", Symbol: "BTC", Side: domain.SideLong, Volume: d("5"), EntryPrice: d("100"),
	})
	before := l.Portfolio()

	_, err := l.PartialClose(ctx, "B1", d("5.000001"), d("100"))
	if !errors.Is(err, domain.ErrOverClose) {
		t.Fatalf("over close err=%v want ErrOverClose", err)
	}
	wantDec(t, "cash after rejected close", l.Portfolio().Cash, before.Cash.String())
	p, _ := l.Position(ctx, "B1")
	wantDec(t, "volume closed after rejected close", p.VolumeClosed, "0")

	if _, err := l.PartialClose(ctx, "B1", d("5"), d("100")); err != nil {
		t.Fatalf("exact close: %v", err)
	}
	p, _ = l.Position(ctx, "B1")
	if p.Status != domain.PositionStatusClosed {
		t.Fatalf("status=%s want=closed", p.Status)
	}
}

func TestRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.New(), "10000")
	mustOpen(t, l, domain.OpenRequest{
		TicketID: "V1", Symbol: "BTC", Side: domain.SideLong, Volume: d("1"), EntryPrice: d("100"),
	})

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"zero volume open", func() error {
			_, err := l.Open(ctx, domain.OpenRequest{Symbol: "BTC", Side: domain.SideLong, Volume: d("0"), EntryPrice: d("1")})
			return err
		}, domain.ErrInvalidInput},
		{"negative price open", func() error {
			_, err := l.Open(ctx, domain.OpenRequest{Symbol: "BTC", Side: domain.SideLong, Volume: d("1"), EntryPrice: d("-1")})
			return err
		}, domain.ErrInvalidInput},
		{"empty symbol open", func() error {
			_, err := l.Open(ctx, domain.OpenRequest{Symbol: "  ", Side: domain.SideLong, Volume: d("1"), EntryPrice: d("1")})
			return err
		}, domain.ErrInvalidInput},
		{"unknown side open", func() error {
			_, err := l.Open(ctx, domain.OpenRequest{Symbol: "BTC", Side: "sideways", Volume: d("1"), EntryPrice: d("1")})
			return err
		}, domain.ErrInvalidInput},
		{"zero close volume", func() error {
			_, err := l.PartialClose(ctx, "V1", d("0"), d("100"))
			return err
		}, domain.ErrInvalidInput},
		{"zero close price", func() error {
			_, err := l.PartialClose(ctx, "V1", d("0.5"), d("0"))
			return err
		}, domain.ErrInvalidInput},
		{"zero mark price", func() error {
			return l.UpdateMarkPrice(ctx, "BTC", d("0"))
		}, domain.ErrInvalidInput},
		{"unknown ticket", func() error {
			_, err := l.Close(ctx, "nope", d("100"))
			return err
		}, domain.ErrPositionNotFound},
		{"duplicate ticket", func() error {
			_, err := l.Open(ctx, domain.OpenRequest{TicketID: "V1", Symbol: "BTC", Side: domain.SideLong, Volume: d("1"), EntryPrice: d("1")})
			return err
		}, domain.ErrDuplicateTicket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := l.Portfolio()
			err := tt.run()
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v want %v", err, tt.want)
			}
			wantDec(t, "cash", l.Portfolio().Cash, before.Cash.String())
			if n := len(l.OpenPositions()); n != 1 {
				t.Fatalf("open positions=%d want=1", n)
			}
		})
	}
}

func TestUpdateMarkPriceWithoutPositionsRecordsMark(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	l := newTestLedger(t, memory.New(), "500", WithClock(clock.Now))
	before := l.Snapshot()

	if err := l.UpdateMarkPrice(ctx, "doge", d("0.1")); err != nil {
		t.Fatalf("UpdateMarkPrice: %v", err)
	}
	after := l.Snapshot()
	wantDec(t, "cash", after.Portfolio.Cash, before.Portfolio.Cash.String())
	if len(after.Positions) != 0 {
		t.Fatalf("positions=%+v", after.Positions)
	}
	m, ok := after.Marks["DOGE"]
	if !ok || !m.At.Equal(clock.Now()) {
		t.Fatalf("DOGE mark=%+v ok=%v", m, ok)
	}
	wantDec(t, "DOGE mark", m.Price, "0.1")

	// A symbol whose last position closed keeps receiving marks.
	mustOpen(t, l, domain.OpenRequest{TicketID: "C1", Symbol: "BTC", Side: domain.SideLong, Volume: d("1"), EntryPrice: d("100")})
	if _, err := l.Close(ctx, "C1", d("100")); err != nil {
		t.Fatalf("Close: %v", err)
	}
	clock.Advance(time.Hour)
	if err := l.UpdateMarkPrice(ctx, "BTC", d("101")); err != nil {
		t.Fatalf("UpdateMarkPrice: %v", err)
	}
	m = l.Snapshot().Marks["BTC"]
	if !m.At.Equal(clock.Now()) {
		t.Fatalf("BTC mark at=%s want=%s", m.At, clock.Now())
	}
	wantDec(t, "BTC mark", m.Price, "101")
}

func TestQuoteTimesAheadOfClock(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	l := newTestLedger(t, memory.New(), "10000", WithClock(clock.Now))
	mustOpen(t, l, domain.OpenRequest{TicketID: "F1", Symbol: "BTC", Side: domain.SideLong, Volume: d("1"), EntryPrice: d("100")})

	err := l.ApplyQuote(ctx, domain.Quote{Symbol: "BTC", Price: d("101"), At: clock.Now().AddDate(1, 0, 0)})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("far-future quote err=%v", err)
	}
	wantDec(t, "mark after rejected quote", l.OpenPositions()[0].MarkPrice, "100")

	if err := l.ApplyQuote(ctx, domain.Quote{Symbol: "BTC", Price: d("102"), At: clock.Now().Add(domain.MaxQuoteSkew)}); err != nil {
		t.Fatalf("quote within skew: %v", err)
	}
	wantDec(t, "mark within skew", l.OpenPositions()[0].MarkPrice, "102")

	// UpdateMarkPrice carries no oracle time and always applies.
	if err := l.UpdateMarkPrice(ctx, "BTC", d("150")); err != nil {
		t.Fatalf("UpdateMarkPrice: %v", err)
	}
	p := l.OpenPositions()[0]
	wantDec(t, "mark", p.MarkPrice, "150")
	if !p.MarkedAt.Equal(clock.Now()) {
		t.Fatalf("marked_at=%s want=%s", p.MarkedAt, clock.Now())
	}
}

func TestUpdateMarkPriceIgnoresOlderQuotes(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	l := newTestLedger(t, memory.New(), "10000", WithClock(clock.Now))
	mustOpen(t, l, domain.OpenRequest{
		TicketID: "M1", Symbol: "BTC", Side: domain.SideLong, Volume: d("1"), EntryPrice: d("100"),
	})

	clock.Advance(time.Minute)
	if err := l.ApplyQuote(ctx, domain.Quote{Symbol: "BTC", Price: d("110"), At: clock.Now()}); err != nil {
		t.Fatalf("ApplyQuote: %v", err)
	}
	if err := l.ApplyQuote(ctx, domain.Quote{Symbol: "BTC", Price: d("90"), At: clock.Now().Add(-30 * time.Second)}); err != nil {
		t.Fatalf("ApplyQuote old: %v", err)
	}
	wantDec(t, "mark", l.OpenPositions()[0].MarkPrice, "110")
}

func TestAccountingIdentityAcrossCloseAtMark(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.New(), "10000")
	mustOpen(t, l, domain.OpenRequest{TicketID: "A1", Symbol: "BTC", Side: domain.SideLong, Volume: d("10"), EntryPrice: d("100")})
	mustOpen(t, l, domain.OpenRequest{TicketID: "A2", Symbol: "ETH", Side: domain.SideShort, Volume: d("4"), EntryPrice: d("50")})

	equity := func() decimal.Decimal {
		snap := l.Snapshot()
		return domain.ComputeExposure(snap.Portfolio.Cash, snap.Positions).TotalEquity
	}
	wantDec(t, "equity after opens", equity(), "10000")

	if err := l.UpdateMarkPrice(ctx, "BTC", d("120")); err != nil {
		t.Fatal(err)
	}
	if err := l.UpdateMarkPrice(ctx, "ETH", d("40")); err != nil {
		t.Fatal(err)
	}
	// +200 on BTC, +40 on the ETH short.
	wantDec(t, "equity after marks", equity(), "10240")

	if _, err := l.PartialClose(ctx, "A1", d("4"), d("120")); err != nil {
		t.Fatal(err)
	}
	wantDec(t, "equity after partial close at mark", equity(), "10240")

	if _, err := l.Close(ctx, "A2", d("40")); err != nil {
		t.Fatal(err)
	}
	wantDec(t, "equity after short close at mark", equity(), "10240")

	if _, err := l.Close(ctx, "A1", d("120")); err != nil {
		t.Fatal(err)
	}
	wantDec(t, "cash equals equity when flat", l.Portfolio().Cash, "10240")
}

func TestFailedCommitLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.New()}
	l := newTestLedger(t, store, "10000")
	mustOpen(t, l, domain.OpenRequest{TicketID: "F1", Symbol: "BTC", Side: domain.SideLong, Volume: d("2"), EntryPrice: d("100")})

	store.setFail(true)
	before := l.Snapshot()

	_, err := l.Open(ctx, domain.OpenRequest{TicketID: "F2", Symbol: "BTC", Side: domain.SideLong, Volume: d("1"), EntryPrice: d("100")})
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) || !errors.Is(err, domain.ErrPersistenceFailed) {
		t.Fatalf("open err=%v want PersistenceError", err)
	}
	if _, err := l.Close(ctx, "F1", d("150")); !errors.Is(err, domain.ErrPersistenceFailed) {
		t.Fatalf("close err=%v want persistence failure", err)
	}
	if err := l.UpdateMarkPrice(ctx, "BTC", d("150")); !errors.Is(err, domain.ErrPersistenceFailed) {
		t.Fatalf("mark err=%v want persistence failure", err)
	}

	after := l.Snapshot()
	wantDec(t, "cash", after.Portfolio.Cash, before.Portfolio.Cash.String())
	if len(after.Positions) != 1 || after.Positions[0].Status != domain.PositionStatusOpen {
		t.Fatalf("positions changed after failed commits: %+v", after.Positions)
	}
	wantDec(t, "mark", after.Positions[0].MarkPrice, "100")

	store.setFail(false)
	if _, err := l.Close(ctx, "F1", d("150")); err != nil {
		t.Fatalf("close after recovery: %v", err)
	}
	wantDec(t, "cash after recovery", l.Portfolio().Cash, "10100")
}

func TestConcurrentPartialClosesNeverOverClose(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.New(), "100000")
	mustOpen(t, l, domain.OpenRequest{TicketID: "C1", Symbol: "BTC", Side: domain.SideLong, Volume: d("100"), EntryPrice: d("100")})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.PartialClose(ctx, "C1", d("1"), d("110"))
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case errors.Is(err, domain.ErrOverClose), errors.Is(err, domain.ErrAlreadyClosed):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.UpdateMarkPrice(ctx, "BTC", d("105"))
			_ = l.Snapshot()
		}()
	}
	wg.Wait()

	if succeeded != 100 {
		t.Fatalf("successful slices=%d want=100", succeeded)
	}
	p, _ := l.Position(ctx, "C1")
	wantDec(t, "volume closed", p.VolumeClosed, "100")
	wantDec(t, "realized", p.RealizedPnL, "1000")
	// 100000 - 10000 + 100*110
	wantDec(t, "cash", l.Portfolio().Cash, "101000")
}

func TestEquityWatermarks(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	l := newTestLedger(t, memory.New(), "1000", WithClock(clock.Now))

	mustOpen(t, l, domain.OpenRequest{TicketID: "W1", Symbol: "BTC", Side: domain.SideLong, Volume: d("5"), EntryPrice: d("100")})
	if err := l.UpdateMarkPrice(ctx, "BTC", d("140")); err != nil {
		t.Fatal(err)
	}
	wantDec(t, "peak", l.Portfolio().PeakEquity, "1200")

	if err := l.UpdateMarkPrice(ctx, "BTC", d("120")); err != nil {
		t.Fatal(err)
	}
	wantDec(t, "peak after dip", l.Portfolio().PeakEquity, "1200")

	clock.Advance(24 * time.Hour)
	if err := l.RollDay(ctx); err != nil {
		t.Fatalf("RollDay: %v", err)
	}
	p := l.Portfolio()
	wantDec(t, "day start equity", p.DayStartEquity, "1100")
	if !p.DayStart.Equal(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("day start=%s", p.DayStart)
	}

	if _, err := l.PartialClose(ctx, "W1", d("2"), d("90")); err != nil {
		t.Fatal(err)
	}
	wantDec(t, "realized today", l.Portfolio().RealizedToday, "-20")
	wantDec(t, "loss today", l.Portfolio().LossToday, "20")

	// A second roll on the same day is a no-op.
	if err := l.RollDay(ctx); err != nil {
		t.Fatal(err)
	}
	wantDec(t, "realized today after same-day roll", l.Portfolio().RealizedToday, "-20")
}

func TestLossTodayIgnoresGains(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.New(), "10000", WithClock(newTestClock().Now))
	mustOpen(t, l, domain.OpenRequest{TicketID: "G1", Symbol: "BTC", Side: domain.SideLong, Volume: d("10"), EntryPrice: d("100")})
	mustOpen(t, l, domain.OpenRequest{TicketID: "L1", Symbol: "ETH", Side: domain.SideLong, Volume: d("10"), EntryPrice: d("100")})

	if _, err := l.Close(ctx, "G1", d("160")); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Close(ctx, "L1", d("40")); err != nil {
		t.Fatal(err)
	}
	p := l.Portfolio()
	wantDec(t, "realized today", p.RealizedToday, "0")
	wantDec(t, "loss today", p.LossToday, "600")
}

func TestReloadRestoresState(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	l := newTestLedger(t, store, "10000")
	mustOpen(t, l, domain.OpenRequest{TicketID: "R1", Symbol: "BTC", Side: domain.SideLong, Volume: d("3"), EntryPrice: d("100")})
	mustOpen(t, l, domain.OpenRequest{TicketID: "R2", Symbol: "ETH", Side: domain.SideShort, Volume: d("1"), EntryPrice: d("50")})
	if _, err := l.Close(ctx, "R2", d("45")); err != nil {
		t.Fatal(err)
	}

	reloaded := newTestLedger(t, store, "999999")
	wantDec(t, "cash", reloaded.Portfolio().Cash, "9705")
	if n := len(reloaded.OpenPositions()); n != 1 {
		t.Fatalf("open positions=%d want=1", n)
	}
	if _, err := reloaded.Close(ctx, "R2", d("45")); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("close of previously closed ticket err=%v want ErrAlreadyClosed", err)
	}
	if _, err := reloaded.Open(ctx, domain.OpenRequest{TicketID: "R2", Symbol: "ETH", Side: domain.SideLong, Volume: d("1"), EntryPrice: d("1")}); !errors.Is(err, domain.ErrDuplicateTicket) {
		t.Fatalf("reuse of closed ticket err=%v want ErrDuplicateTicket", err)
	}
}

func TestMinCashFloor(t *testing.T) {
	ctx := context.Background()
	floor := d("100")
	l, err := New(ctx, memory.New(), Config{PortfolioID: "main", InitialCash: d("1000"), MinCash: &floor}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	_, err = l.Open(ctx, domain.OpenRequest{Symbol: "BTC", Side: domain.SideLong, Volume: d("10"), EntryPrice: d("91")})
	if !errors.Is(err, domain.ErrInsufficientCash) {
		t.Fatalf("err=%v want ErrInsufficientCash", err)
	}
	if _, err := l.Open(ctx, domain.OpenRequest{Symbol: "BTC", Side: domain.SideLong, Volume: d("10"), EntryPrice: d("90")}); err != nil {
		t.Fatalf("open at floor: %v", err)
	}
	wantDec(t, "cash", l.Portfolio().Cash, "100")
}

func TestGeneratedTicketsAreUnique(t *testing.T) {
	l := newTestLedger(t, memory.New(), "10000")
	a := mustOpen(t, l, domain.OpenRequest{Symbol: "BTC", Side: domain.SideLong, Volume: d("1"), EntryPrice: d("10")})
	b := mustOpen(t, l, domain.OpenRequest{Symbol: "BTC", Side: domain.SideLong, Volume: d("1"), EntryPrice: d("10")})
	if a.TicketID == "" || a.TicketID == b.TicketID {
		t.Fatalf("tickets %q and %q should be distinct and non-empty", a.TicketID, b.TicketID)
	}
}

func TestFillJournalAndPerformance(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	l := newTestLedger(t, store, "10000")
	mustOpen(t, l, domain.OpenRequest{TicketID: "J1", Symbol: "BTC", Side: domain.SideLong, Volume: d("2"), EntryPrice: d("100")})
	mustOpen(t, l, domain.OpenRequest{TicketID: "J2", Symbol: "ETH", Side: domain.SideShort, Volume: d("1"), EntryPrice: d("50")})
	if _, err := l.PartialClose(ctx, "J1", d("1"), d("110")); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Close(ctx, "J1", d("95")); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Close(ctx, "J2", d("40")); err != nil {
		t.Fatal(err)
	}

	fills, err := store.ListFills(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 5 {
		t.Fatalf("fills=%d want=5", len(fills))
	}

	perf, err := Performance(ctx, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if perf.Trades != 3 || perf.Wins != 2 || perf.Losses != 1 {
		t.Fatalf("trades=%d wins=%d losses=%d want 3/2/1", perf.Trades, perf.Wins, perf.Losses)
	}
	wantDec(t, "gross profit", perf.GrossProfit, "20")
	wantDec(t, "gross loss", perf.GrossLoss, "5")
	wantDec(t, "net", perf.NetPnL, "15")
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Emit(_ context.Context, evt domain.LedgerEvent) {
	s.mu.Lock()
	s.events = append(s.events, evt.Event)
	s.mu.Unlock()
}

func TestEventsFollowCommits(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	store := &flakyStore{Store: memory.New()}
	l := newTestLedger(t, store, "10000", WithEventSink(sink))

	mustOpen(t, l, domain.OpenRequest{TicketID: "E1", Symbol: "BTC", Side: domain.SideLong, Volume: d("2"), EntryPrice: d("100")})
	if err := l.UpdateMarkPrice(ctx, "BTC", d("101")); err != nil {
		t.Fatal(err)
	}
	if _, err := l.PartialClose(ctx, "E1", d("1"), d("101")); err != nil {
		t.Fatal(err)
	}
	store.setFail(true)
	_, _ = l.Close(ctx, "E1", d("101"))
	store.setFail(false)
	if _, err := l.Close(ctx, "E1", d("101")); err != nil {
		t.Fatal(err)
	}

	want := []string{
		domain.EventPositionOpened,
		domain.EventMarksUpdated,
		domain.EventPositionPartiallyClosed,
		domain.EventPositionClosed,
	}
	if len(sink.events) != len(want) {
		t.Fatalf("events=%v want=%v", sink.events, want)
	}
	for i := range want {
		if sink.events[i] != want[i] {
			t.Fatalf("events=%v want=%v", sink.events, want)
		}
	}
}
