package emailsmtp

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/BearBump/PriceWatch/internal/models"
	"github.com/BearBump/PriceWatch/internal/notify"
	"github.com/pkg/errors"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type Notifier struct {
	cfg Config

	// sendMail подменяется в тестах; по умолчанию smtp.SendMail.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func New(cfg Config) *Notifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Notifier{cfg: cfg, sendMail: smtp.SendMail}
}

func (n *Notifier) Channel() models.Channel { return models.ChannelEmail }

func (n *Notifier) IsConfigured() bool {
	return n.cfg.Host != "" && n.cfg.Username != "" && n.cfg.Password != ""
}

func (n *Notifier) Send(ctx context.Context, recipient, subject, body string, alert notify.AlertContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.IsConfigured() {
		return errors.New("smtp not configured")
	}

	msg := buildMIME(n.cfg.From, recipient, subject, body, alert)
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)

	if err := n.sendMail(addr, auth, n.cfg.From, []string{recipient}, msg); err != nil {
		return errors.Wrap(err, "smtp send")
	}
	return nil
}

// buildMIME собирает multipart/alternative: plain text + HTML с деталями
// продукта (картинка, ссылка), как в обычной почтовой рассылке.
func buildMIME(from, to, subject, body string, alert notify.AlertContext) []byte {
	const boundary = "pricewatch-alt"

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(htmlBody(body, alert))
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}

func htmlBody(body string, alert notify.AlertContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><body><p>%s</p>", body)
	if alert.ProductName != "" {
		b.WriteString("<hr/><h2>Product details</h2>")
		fmt.Fprintf(&b, "<p><strong>Product:</strong> %s</p>", alert.ProductName)
		fmt.Fprintf(&b, "<p><strong>Current price:</strong> %s %s</p>", alert.CurrentPrice.StringFixed(2), alert.Currency)
		fmt.Fprintf(&b, "<p><strong>Target price:</strong> %s %s</p>", alert.TargetPrice.StringFixed(2), alert.Currency)
		if alert.ImageURL != nil && *alert.ImageURL != "" {
			fmt.Fprintf(&b, "<p><img src=%q alt=\"Product image\" style=\"max-width: 300px;\"/></p>", *alert.ImageURL)
		}
		if alert.ProductURL != "" {
			fmt.Fprintf(&b, "<p><a href=%q>View product</a></p>", alert.ProductURL)
		}
	}
	b.WriteString("</body></html>")
	return b.String()
}
