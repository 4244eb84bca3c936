package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

func TestSubmit(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"open", `{"id":"s1","type":"open","symbol":"BTC","side":"long","volume":"1","price":"100"}`, false},
		{"close", `{"id":"s2","type":"close","ticket_id":"T1","price":"101"}`, false},
		{"missing price", `{"id":"s3","type":"close","ticket_id":"T1"}`, true},
		{"unknown type", `{"id":"s4","type":"cancel"}`, true},
		{"not json", `open BTC`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &fakeBus{}
			cmd, err := Submit(context.Background(), bus, "ledger:commands", []byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidInput) {
					t.Fatalf("err=%v want invalid input", err)
				}
				if len(bus.appended) != 0 {
					t.Fatalf("rejected command reached the stream")
				}
				return
			}
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if len(bus.appended) != 1 || string(bus.appended[0]) != tt.payload {
				t.Fatalf("appended=%q", bus.appended)
			}
			if cmd.ID == "" {
				t.Fatal("decoded command has no id")
			}
		})
	}
}
