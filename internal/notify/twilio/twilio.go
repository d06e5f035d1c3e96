package twilio

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/PriceWatch/internal/models"
	"github.com/BearBump/PriceWatch/internal/notify"
	"github.com/pkg/errors"
)

// Notifier шлёт SMS через Twilio REST API (Messages.json).
type Notifier struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpc      *http.Client
}

func New(accountSID, authToken, fromNumber string) *Notifier {
	return &Notifier{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    "https://api.twilio.com",
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (n *Notifier) WithBaseURL(baseURL string) *Notifier {
	if baseURL != "" {
		n.baseURL = baseURL
	}
	return n
}

func (n *Notifier) Channel() models.Channel { return models.ChannelSMS }

func (n *Notifier) IsConfigured() bool {
	return n.accountSID != "" && n.authToken != "" && n.fromNumber != ""
}

func (n *Notifier) Send(ctx context.Context, recipient, subject, body string, alert notify.AlertContext) error {
	if !n.IsConfigured() {
		return errors.New("twilio not configured")
	}

	// SMS лаконичный: subject + тело, без разметки.
	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", n.fromNumber)
	form.Set("Body", subject+"\n"+body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", n.baseURL, n.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(n.accountSID, n.authToken)

	resp, err := n.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("twilio http %d", resp.StatusCode)
	}
	return nil
}
