package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

func ptr(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		side     domain.Side
		mark     string
		sl, tp   *decimal.Decimal
		wantKind string
	}{
		{"long stop hit", domain.SideLong, "90", ptr("90"), ptr("120"), TriggerStopLoss},
		{"long take profit hit", domain.SideLong, "125", ptr("90"), ptr("120"), TriggerTakeProfit},
		{"long inside band", domain.SideLong, "100", ptr("90"), ptr("120"), ""},
		{"short stop hit", domain.SideShort, "110", ptr("110"), ptr("80"), TriggerStopLoss},
		{"short take profit hit", domain.SideShort, "79.99", ptr("110"), ptr("80"), TriggerTakeProfit},
		{"short inside band", domain.SideShort, "100", ptr("110"), ptr("80"), ""},
		{"no levels", domain.SideLong, "1", nil, nil, ""},
		{"stop wins over crossed take profit", domain.SideLong, "95", ptr("96"), ptr("94"), TriggerStopLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := domain.Position{
				TicketID: "T", Symbol: "BTC", Side: tt.side,
				EntryPrice: d("100"), Volume: d("1"), MarkPrice: d(tt.mark),
				Status: domain.PositionStatusOpen, StopLoss: tt.sl, TakeProfit: tt.tp,
			}
			trig, ok := Evaluate(p)
			if tt.wantKind == "" {
				if ok {
					t.Fatalf("unexpected trigger %+v", trig)
				}
				return
			}
			if !ok || trig.Kind != tt.wantKind {
				t.Fatalf("trigger=%+v ok=%v want kind %s", trig, ok, tt.wantKind)
			}
		})
	}
}

type staticPositions []domain.Position

func (s *staticPositions) OpenPositions() []domain.Position { return *s }

func TestScanFiresOncePerTicket(t *testing.T) {
	ctx := context.Background()
	positions := staticPositions{{
		TicketID: "T1", Symbol: "BTC", Side: domain.SideLong,
		EntryPrice: d("100"), Volume: d("1"), MarkPrice: d("89"),
		Status: domain.PositionStatusOpen, StopLoss: ptr("90"),
	}}
	sink := &recordingSink{}
	s := NewProtectionScanner(&positions, sink, 0, discardLogger())

	if got := s.Scan(ctx); len(got) != 1 {
		t.Fatalf("first scan triggers=%d want=1", len(got))
	}
	if got := s.Scan(ctx); len(got) != 0 {
		t.Fatalf("second scan re-fired %d triggers", len(got))
	}
	if len(sink.events) != 1 {
		t.Fatalf("events=%d want=1", len(sink.events))
	}
	evt := sink.events[0]
	if evt.Event != domain.EventProtectionTriggered || evt.TicketID != "T1" || evt.Detail["trigger"] != TriggerStopLoss || evt.Detail["mark"] != "89" {
		t.Fatalf("event=%+v", evt)
	}

	// Once the ticket is gone its state is forgotten.
	positions = nil
	s.Scan(ctx)
	if len(s.fired) != 0 {
		t.Fatalf("fired=%v", s.fired)
	}
}
