package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"hybrid-ids/internal/model"

	"github.com/sirupsen/logrus"
)

const telegramAPIBase = "https://api.telegram.org"

type TelegramNotifier struct {
	botToken        string
	chatID          string
	parseMode       string
	enabled         bool
	apiBase         string
	maxRetries      int
	retryDelay      time.Duration
	messageTemplate *template.Template
	client          *http.Client
	logger          *logrus.Logger
}

type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type TelegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// TelegramConfig mirrors the alerting.telegram section of the config file
type TelegramConfig struct {
	BotToken        string
	ChatID          string
	ParseMode       string
	Enabled         bool
	MessageTemplate string
}

func NewTelegramNotifier(cfg TelegramConfig, logger *logrus.Logger) *TelegramNotifier {
	tn := &TelegramNotifier{
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		parseMode:  cfg.ParseMode,
		enabled:    cfg.Enabled,
		apiBase:    telegramAPIBase,
		maxRetries: 3,
		retryDelay: time.Second,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}

	if strings.TrimSpace(cfg.MessageTemplate) != "" {
		funcMap := template.FuncMap{
			"formatTime": func(t time.Time, layout string) string {
				return t.Format(layout)
			},
			"deref": model.Deref,
		}
		tmpl, err := template.New("telegram_message").Funcs(funcMap).Parse(cfg.MessageTemplate)
		if err != nil {
			logger.Warnf("Failed to parse Telegram message template: %v, using default format", err)
		} else {
			tn.messageTemplate = tmpl
		}
	}

	return tn
}

// WithAPIBase points the notifier at another Bot API endpoint.
func (tn *TelegramNotifier) WithAPIBase(base string, retryDelay time.Duration) *TelegramNotifier {
	tn.apiBase = strings.TrimRight(base, "/")
	tn.retryDelay = retryDelay
	return tn
}

// SendAlert posts the alert to the chat, backing off linearly between attempts.
func (tn *TelegramNotifier) SendAlert(alert model.Alert) error {
	if !tn.enabled {
		tn.logger.Debug("Telegram notifier is disabled, skipping alert")
		return nil
	}

	text := tn.formatAlertMessage(alert)

	var lastErr error
	for attempt := 1; attempt <= tn.maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), tn.client.Timeout)
		lastErr = tn.sendMessage(ctx, text)
		cancel()
		if lastErr == nil {
			return nil
		}
		tn.logger.Warnf("[Telegram] %s alert not delivered (attempt %d/%d): %v", alert.Type, attempt, tn.maxRetries, lastErr)
		if attempt < tn.maxRetries {
			time.Sleep(time.Duration(attempt) * tn.retryDelay)
		}
	}

	return fmt.Errorf("telegram: giving up after %d attempts: %w", tn.maxRetries, lastErr)
}

func (tn *TelegramNotifier) formatAlertMessage(alert model.Alert) string {
	if tn.messageTemplate != nil {
		var buf bytes.Buffer
		err := tn.messageTemplate.Execute(&buf, alert)
		if err != nil {
			tn.logger.Warnf("Failed to execute message template: %v, using default format", err)
		} else {
			return buf.String()
		}
	}

	evidence, err := alert.EvidenceJSON()
	if err != nil {
		evidence = "{}"
	}

	return fmt.Sprintf("ALERT FIRING: Hybrid IDS\n\n"+
		"alert_type: %s\n"+
		"time: %s\n"+
		"severity: %s\n"+
		"confidence: %.2f\n"+
		"src_ip: %s\n"+
		"dst_ip: %s\n"+
		"evidence: %s",
		alert.Type,
		alert.Time.Format("2006-01-02 15:04:05"),
		alert.Severity,
		alert.Confidence,
		orDash(alert.SrcIP),
		orDash(alert.DstIP),
		evidence)
}

func (tn *TelegramNotifier) sendMessage(ctx context.Context, text string) error {
	// Markdown modes choke on the JSON evidence, so only HTML is passed through
	msg := TelegramMessage{ChatID: tn.chatID, Text: text}
	if tn.parseMode == "HTML" {
		msg.ParseMode = tn.parseMode
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	endpoint := tn.apiBase + "/bot" + tn.botToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var reply TelegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decode %s response: %w", resp.Status, err)
	}
	if !reply.OK {
		return fmt.Errorf("bot API rejected message (%s): %s", resp.Status, reply.Description)
	}

	tn.logger.Debugf("[Telegram] %d bytes delivered to chat %s", len(text), tn.chatID)
	return nil
}

func (tn *TelegramNotifier) IsEnabled() bool {
	return tn.enabled
}
