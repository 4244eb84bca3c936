package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

type memPrices map[string]domain.Quote

func (m memPrices) SetPrice(_ context.Context, q domain.Quote) error {
	m[q.Symbol] = q
	return nil
}

func TestHandleQuote(t *testing.T) {
	prices := memPrices{}
	bus := &fakeBus{}
	s := NewPriceService(prices, bus, "prices", discardLogger())
	s.now = func() time.Time { return t0 }

	if err := s.HandleQuote(context.Background(), domain.Quote{Symbol: " btc ", Price: d("101.5")}); err != nil {
		t.Fatalf("HandleQuote: %v", err)
	}
	q, ok := prices["BTC"]
	if !ok || !q.Price.Equal(d("101.5")) || !q.At.Equal(t0) {
		t.Fatalf("stored=%+v", prices)
	}
	if len(bus.published) != 1 || bus.published[0].channel != "prices" {
		t.Fatalf("published=%+v", bus.published)
	}
	var got domain.Quote
	if err := json.Unmarshal(bus.published[0].payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Symbol != "BTC" || !got.Price.Equal(d("101.5")) {
		t.Fatalf("payload=%+v", got)
	}
}

func TestHandleQuoteRejectsBadInput(t *testing.T) {
	prices := memPrices{}
	s := NewPriceService(prices, &fakeBus{}, "prices", discardLogger())
	s.now = func() time.Time { return t0 }
	for _, q := range []domain.Quote{
		{Symbol: "", Price: d("1")},
		{Symbol: "BTC", Price: d("0")},
		{Symbol: "BTC", Price: d("1"), At: t0.Add(24 * time.Hour)},
	} {
		if err := s.HandleQuote(context.Background(), q); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("quote %+v err=%v", q, err)
		}
	}
	if len(prices) != 0 {
		t.Fatalf("rejected quotes were stored: %+v", prices)
	}
}

func TestHandleQuoteAcceptsSmallClockSkew(t *testing.T) {
	prices := memPrices{}
	s := NewPriceService(prices, &fakeBus{}, "prices", discardLogger())
	s.now = func() time.Time { return t0 }

	at := t0.Add(domain.MaxQuoteSkew)
	if err := s.HandleQuote(context.Background(), domain.Quote{Symbol: "BTC", Price: d("1"), At: at}); err != nil {
		t.Fatalf("HandleQuote: %v", err)
	}
	if !prices["BTC"].At.Equal(at) {
		t.Fatalf("stored=%+v", prices["BTC"])
	}
}
