package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

func TestDecodeQuote(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ts := "1772445600000000000" // at, in Unix nanoseconds

	tests := []struct {
		name    string
		vals    map[string]string
		want    string
		wantErr bool
	}{
		{name: "ok", vals: map[string]string{"price": "101.25", "ts": ts}, want: "101.25"},
		{name: "missing key", vals: map[string]string{}, wantErr: true},
		{name: "missing ts", vals: map[string]string{"price": "1"}, wantErr: true},
		{name: "garbage price", vals: map[string]string{"price": "abc", "ts": ts}, wantErr: true},
		{name: "zero price", vals: map[string]string{"price": "0", "ts": ts}, wantErr: true},
		{name: "garbage ts", vals: map[string]string{"price": "1", "ts": "yesterday"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := decodeQuote("BTC", tt.vals)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrPriceUnavailable) {
					t.Fatalf("err=%v want ErrPriceUnavailable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeQuote: %v", err)
			}
			if !q.Price.Equal(decimal.RequireFromString(tt.want)) {
				t.Fatalf("price=%s want=%s", q.Price, tt.want)
			}
			if !q.At.Equal(at) || q.Symbol != "BTC" {
				t.Fatalf("quote=%+v", q)
			}
		})
	}
}
