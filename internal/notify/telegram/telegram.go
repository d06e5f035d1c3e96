package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/PriceWatch/internal/models"
	"github.com/BearBump/PriceWatch/internal/notify"
	"github.com/pkg/errors"
)

// Notifier шлёт сообщения через Telegram Bot API (sendMessage).
type Notifier struct {
	token   string
	baseURL string
	httpc   *http.Client
}

func New(token string) *Notifier {
	return &Notifier{
		token:   token,
		baseURL: "https://api.telegram.org",
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithBaseURL переопределяет адрес API (тесты, прокси).
func (n *Notifier) WithBaseURL(baseURL string) *Notifier {
	if baseURL != "" {
		n.baseURL = baseURL
	}
	return n
}

func (n *Notifier) Channel() models.Channel { return models.ChannelTelegram }

func (n *Notifier) IsConfigured() bool { return n.token != "" }

type sendMessageResp struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

func (n *Notifier) Send(ctx context.Context, recipient, subject, body string, alert notify.AlertContext) error {
	if !n.IsConfigured() {
		return errors.New("telegram bot token not set")
	}

	form := url.Values{}
	form.Set("chat_id", recipient)
	form.Set("text", markdownText(subject, body, alert))
	form.Set("parse_mode", "Markdown")

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("telegram http %d", resp.StatusCode)
	}

	var r sendMessageResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return errors.Wrap(err, "decode")
	}
	if !r.OK {
		return fmt.Errorf("telegram api: %s", r.Description)
	}
	return nil
}

func markdownText(subject, body string, alert notify.AlertContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n%s", subject, body)
	if alert.ProductName != "" {
		fmt.Fprintf(&b, "\n\n*Product:* %s", alert.ProductName)
		fmt.Fprintf(&b, "\n*Current price:* %s %s", alert.CurrentPrice.StringFixed(2), alert.Currency)
		fmt.Fprintf(&b, "\n*Target price:* %s %s", alert.TargetPrice.StringFixed(2), alert.Currency)
		if alert.ProductURL != "" {
			fmt.Fprintf(&b, "\n[View product](%s)", alert.ProductURL)
		}
	}
	return b.String()
}
