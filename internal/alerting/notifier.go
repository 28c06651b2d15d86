package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification carries one triggered alert to a delivery channel.
type Notification struct {
	Alert        Alert
	CurrentPrice decimal.Decimal
	Reason       string
	At           time.Time
}

// Notifier delivers alert notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram delivery channel.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify posts the rendered message via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Int64("alert_id", note.Alert.ID).
		Str("isbn", note.Alert.ISBN).
		Msg("alert delivered via telegram")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[bookwatch alert]\n")
	builder.WriteString(note.Reason + "\n")
	builder.WriteString(fmt.Sprintf("Book: %s\n", note.Alert.Subject()))
	builder.WriteString(fmt.Sprintf("ISBN: %s\n", note.Alert.ISBN))
	builder.WriteString(fmt.Sprintf("Current: $%s\n", note.CurrentPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Target: $%s\n", note.Alert.TargetPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	return builder.String()
}

// LogNotifier writes notifications to the structured log. Used when no
// external channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs the log-only channel.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify records the notification at info level.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info().
		Int64("alert_id", note.Alert.ID).
		Str("isbn", note.Alert.ISBN).
		Str("current", note.CurrentPrice.StringFixed(2)).
		Str("target", note.Alert.TargetPrice.StringFixed(2)).
		Msg(note.Reason)
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
