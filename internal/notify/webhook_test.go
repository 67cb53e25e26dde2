package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sonson0910/moderntensor-aptos/internal/config"
	"github.com/sonson0910/moderntensor-aptos/internal/storage"
)

func TestNewNotifier(t *testing.T) {
	cfg := &config.NotifyConfig{
		Enabled:      true,
		DiscordURL:   "https://discord.com/api/webhooks/test",
		TelegramBot:  "bot_token",
		TelegramChat: "chat_id",
	}

	n := NewNotifier(cfg, "Test Validator")

	if n == nil {
		t.Fatal("NewNotifier returned nil")
	}
	if n.cfg != cfg {
		t.Error("Notifier.cfg not set correctly")
	}
	if n.client == nil {
		t.Error("Notifier.client should not be nil")
	}
	if n.client.Timeout != 10*time.Second {
		t.Errorf("Client timeout = %v, want 10s", n.client.Timeout)
	}
}

func TestNotifyDisabledDoesNothing(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	cfg := &config.NotifyConfig{Enabled: false, DiscordURL: srv.URL}
	n := NewNotifier(cfg, "Test Validator")

	n.NotifyPhaseCompleted(&storage.PhaseSummary{SlotID: 1})
	n.NotifyPhaseFailed(1, errors.New("boom"))

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&hits) != 0 {
		t.Errorf("Disabled notifier sent %d requests", hits)
	}
}

func TestNotifyPhaseCompletedDiscord(t *testing.T) {
	received := make(chan DiscordMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg DiscordMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("Undecodable Discord message: %v", err)
		}
		received <- msg
	}))
	defer srv.Close()

	cfg := &config.NotifyConfig{Enabled: true, DiscordURL: srv.URL}
	n := NewNotifier(cfg, "Test Validator")

	n.NotifyPhaseCompleted(&storage.PhaseSummary{
		SlotID:       42,
		Rounds:       10,
		TasksSent:    50,
		ResultsOK:    45,
		MinersTotal:  20,
		MinersScored: 18,
		Published:    true,
	})

	select {
	case msg := <-received:
		if len(msg.Embeds) != 1 {
			t.Fatalf("Embeds = %d, want 1", len(msg.Embeds))
		}
		embed := msg.Embeds[0]
		if embed.Title != "Phase Completed" {
			t.Errorf("Title = %q", embed.Title)
		}
		if len(embed.Fields) == 0 {
			t.Error("Embed should carry summary fields")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Discord webhook never called")
	}
}

func TestNotifyPhaseFailedDiscord(t *testing.T) {
	received := make(chan DiscordMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg DiscordMessage
		json.NewDecoder(r.Body).Decode(&msg)
		received <- msg
	}))
	defer srv.Close()

	cfg := &config.NotifyConfig{Enabled: true, DiscordURL: srv.URL}
	n := NewNotifier(cfg, "Test Validator")

	n.NotifyPhaseFailed(7, errors.New("registry unavailable"))

	select {
	case msg := <-received:
		if msg.Embeds[0].Title != "Phase Failed" {
			t.Errorf("Title = %q", msg.Embeds[0].Title)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Discord webhook never called")
	}
}

func TestDiscordRetryOnServerError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	cfg := &config.NotifyConfig{Enabled: true, DiscordURL: srv.URL}
	n := NewNotifier(cfg, "Test Validator")

	// Call the sender directly to keep the retry synchronous
	n.sendDiscordMessageWithRetry(DiscordMessage{Content: "test"})

	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("Webhook hit %d times, want 2 (one failure, one retry)", hits)
	}
}
