// Package notify provides notification services for validator events.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sonson0910/moderntensor-aptos/internal/config"
	"github.com/sonson0910/moderntensor-aptos/internal/storage"
	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

// Retry configuration
const (
	MaxRetries     = 3
	RetryBaseDelay = 2 * time.Second
)

// Notifier handles sending notifications
type Notifier struct {
	cfg           *config.NotifyConfig
	validatorName string
	client        *http.Client
}

// NewNotifier creates a new notifier
func NewNotifier(cfg *config.NotifyConfig, validatorName string) *Notifier {
	return &Notifier{
		cfg:           cfg,
		validatorName: validatorName,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifyPhaseCompleted sends notifications when a phase finishes
func (n *Notifier) NotifyPhaseCompleted(summary *storage.PhaseSummary) {
	if !n.cfg.Enabled {
		return
	}

	if n.cfg.DiscordURL != "" {
		go n.sendDiscordPhaseNotification(summary)
	}

	if n.cfg.TelegramBot != "" && n.cfg.TelegramChat != "" {
		go n.sendTelegramPhaseNotification(summary)
	}
}

// NotifyPhaseFailed sends notifications when a phase fails closed
func (n *Notifier) NotifyPhaseFailed(slotID uint64, phaseErr error) {
	if !n.cfg.Enabled {
		return
	}

	if n.cfg.DiscordURL != "" {
		go n.sendDiscordFailureNotification(slotID, phaseErr)
	}

	if n.cfg.TelegramBot != "" && n.cfg.TelegramChat != "" {
		go n.sendTelegramFailureNotification(slotID, phaseErr)
	}
}

// DiscordEmbed represents a Discord embed object
type DiscordEmbed struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color,omitempty"`
	Fields      []DiscordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Footer      *DiscordFooter `json:"footer,omitempty"`
}

// DiscordField represents a field in a Discord embed
type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordFooter represents the footer of a Discord embed
type DiscordFooter struct {
	Text string `json:"text"`
}

// DiscordMessage represents a Discord webhook message
type DiscordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// sendDiscordPhaseNotification sends a phase summary to Discord
func (n *Notifier) sendDiscordPhaseNotification(summary *storage.PhaseSummary) {
	var successPct float64
	if summary.TasksSent > 0 {
		successPct = float64(summary.ResultsOK) / float64(summary.TasksSent) * 100
	}

	embed := DiscordEmbed{
		Title:       "Phase Completed",
		Description: fmt.Sprintf("**%s** finished slot %d", n.validatorName, summary.SlotID),
		Color:       0x00FF00, // Green
		Fields: []DiscordField{
			{Name: "Rounds", Value: fmt.Sprintf("%d", summary.Rounds), Inline: true},
			{Name: "Tasks", Value: fmt.Sprintf("%d", summary.TasksSent), Inline: true},
			{Name: "Success", Value: fmt.Sprintf("%.1f%%", successPct), Inline: true},
			{Name: "Miners Scored", Value: fmt.Sprintf("%d/%d", summary.MinersScored, summary.MinersTotal), Inline: true},
			{Name: "Published", Value: fmt.Sprintf("%t", summary.Published), Inline: true},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Footer: &DiscordFooter{
			Text: n.validatorName,
		},
	}

	if n.cfg.ValidatorURL != "" {
		embed.URL = n.cfg.ValidatorURL
	}

	msg := DiscordMessage{
		Embeds: []DiscordEmbed{embed},
	}

	n.sendDiscordMessageWithRetry(msg)
}

// sendDiscordFailureNotification sends a phase failure alert to Discord
func (n *Notifier) sendDiscordFailureNotification(slotID uint64, phaseErr error) {
	embed := DiscordEmbed{
		Title:       "Phase Failed",
		Description: fmt.Sprintf("**%s** failed slot %d", n.validatorName, slotID),
		Color:       0xFF0000, // Red
		Fields: []DiscordField{
			{Name: "Error", Value: phaseErr.Error(), Inline: false},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Footer: &DiscordFooter{
			Text: n.validatorName,
		},
	}

	msg := DiscordMessage{
		Embeds: []DiscordEmbed{embed},
	}

	n.sendDiscordMessageWithRetry(msg)
}

// sendDiscordMessageWithRetry sends a message to Discord with exponential backoff retry
func (n *Notifier) sendDiscordMessageWithRetry(msg DiscordMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("Failed to marshal Discord message: %v", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 2s, 4s
			delay := RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			time.Sleep(delay)
		}

		resp, err := n.client.Post(n.cfg.DiscordURL, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}

		resp.Body.Close()

		if resp.StatusCode < 400 {
			return // Success
		}

		// Rate limited - wait longer
		if resp.StatusCode == 429 {
			time.Sleep(5 * time.Second)
			continue
		}

		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}

	if lastErr != nil {
		util.Warnf("Failed to send Discord notification after %d attempts: %v", MaxRetries, lastErr)
	}
}

// TelegramMessage represents a Telegram bot message
type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// sendTelegramPhaseNotification sends a phase summary to Telegram
func (n *Notifier) sendTelegramPhaseNotification(summary *storage.PhaseSummary) {
	var successPct float64
	if summary.TasksSent > 0 {
		successPct = float64(summary.ResultsOK) / float64(summary.TasksSent) * 100
	}

	text := fmt.Sprintf(
		"*Phase Completed*\n\n"+
			"Slot: `%d`\n"+
			"Rounds: `%d`\n"+
			"Tasks: `%d`\n"+
			"Success: `%.1f%%`\n"+
			"Miners scored: `%d/%d`",
		summary.SlotID, summary.Rounds, summary.TasksSent,
		successPct, summary.MinersScored, summary.MinersTotal,
	)

	n.sendTelegramMessageWithRetry(text)
}

// sendTelegramFailureNotification sends a phase failure alert to Telegram
func (n *Notifier) sendTelegramFailureNotification(slotID uint64, phaseErr error) {
	text := fmt.Sprintf(
		"*Phase Failed*\n\n"+
			"Slot: `%d`\n"+
			"Error: `%s`",
		slotID, phaseErr.Error(),
	)

	n.sendTelegramMessageWithRetry(text)
}

// sendTelegramMessageWithRetry sends a message via the Telegram bot API with retry
func (n *Notifier) sendTelegramMessageWithRetry(text string) {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.cfg.TelegramBot)

	msg := TelegramMessage{
		ChatID:    n.cfg.TelegramChat,
		Text:      text,
		ParseMode: "Markdown",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("Failed to marshal Telegram message: %v", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			time.Sleep(delay)
		}

		resp, err := n.client.Post(endpoint, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}

		resp.Body.Close()

		if resp.StatusCode < 400 {
			return
		}

		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}

	if lastErr != nil {
		util.Warnf("Failed to send Telegram notification after %d attempts: %v", MaxRetries, lastErr)
	}
}
