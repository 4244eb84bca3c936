package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

type recordingSender struct {
	titles   []string
	messages []string
	err      error
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return r.err
}

func (r *recordingSender) Name() string { return "recording" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmitFiltersAndFormats(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{domain.EventProtectionTriggered}, discardLogger())
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	n.Emit(context.Background(), domain.LedgerEvent{Event: domain.EventMarksUpdated, Symbol: "BTC", At: at})
	n.Emit(context.Background(), domain.LedgerEvent{
		Event:    domain.EventProtectionTriggered,
		TicketID: "T1",
		Symbol:   "BTC",
		Detail:   map[string]any{"trigger": "stop_loss", "mark": "89"},
		At:       at,
	})

	if len(rec.titles) != 1 {
		t.Fatalf("sent %d alerts want=1", len(rec.titles))
	}
	if rec.titles[0] != "protection_triggered BTC" {
		t.Fatalf("title=%q", rec.titles[0])
	}
	want := "ticket: T1\nmark: 89\ntrigger: stop_loss\n2026-03-02 10:00:00 UTC"
	if rec.messages[0] != want {
		t.Fatalf("message=%q want=%q", rec.messages[0], want)
	}
}

func TestDispatchCollectsSenderErrors(t *testing.T) {
	bad := &recordingSender{err: errors.New("boom")}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err=%v", err)
	}
	if len(good.titles) != 1 {
		t.Fatal("a failing sender must not block the others")
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	if err := s.Send(context.Background(), "title", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/bottok/sendMessage" {
		t.Fatalf("path=%q", path)
	}
	if got["chat_id"] != "42" || got["text"] != "*title*\nbody" {
		t.Fatalf("payload=%v", got)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "unexpected status 429") {
		t.Fatalf("err=%v", err)
	}
}
