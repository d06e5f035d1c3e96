package notify

import (
	"context"
	"log/slog"

	"github.com/BearBump/PriceWatch/internal/models"
)

// Dispatcher веером раздаёт одно событие алерта по всем endpoint'ам правила.
// Каналы независимы: ошибка одного не прерывает остальные, результат —
// карта исходов по каналам, а не один bool.
type Dispatcher struct {
	notifiers map[models.Channel]Notifier
}

func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	m := make(map[models.Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		m[n.Channel()] = n
	}
	return &Dispatcher{notifiers: m}
}

func (d *Dispatcher) Dispatch(ctx context.Context, rule *models.AlertRule, product *models.TrackedProduct, obs *models.PriceObservation) map[models.Channel]Outcome {
	alert := AlertContext{
		ProductName:  product.Name,
		ProductURL:   product.URL,
		ImageURL:     product.ImageURL,
		CurrentPrice: obs.Price,
		Currency:     obs.Currency,
		TargetPrice:  rule.TargetPrice,
		InStock:      obs.InStock,
	}
	subject := Subject(alert)
	body := Body(alert)

	out := make(map[models.Channel]Outcome)
	for _, ep := range rule.Endpoints() {
		n, ok := d.notifiers[ep.Channel]
		if !ok || !n.IsConfigured() {
			// Ненастроенный канал — не ошибка доставки, просто пропуск.
			slog.Warn("notification channel not configured, skipping",
				"channel", string(ep.Channel), "alert_id", rule.ID)
			continue
		}

		if err := n.Send(ctx, ep.Address, subject, body, alert); err != nil {
			slog.Error("notification send failed",
				"channel", string(ep.Channel), "alert_id", rule.ID, "error", err.Error())
			out[ep.Channel] = Outcome{OK: false, Error: err.Error()}
			continue
		}
		out[ep.Channel] = Outcome{OK: true}
	}
	return out
}

// SendTest delivers an arbitrary message through one named channel.
func (d *Dispatcher) SendTest(ctx context.Context, channel models.Channel, recipient, message string) error {
	n, ok := d.notifiers[channel]
	if !ok {
		return &UnknownChannelError{Channel: channel}
	}
	if !n.IsConfigured() {
		return &NotConfiguredError{Channel: channel}
	}
	return n.Send(ctx, recipient, "PriceWatch test notification", message, AlertContext{})
}

type UnknownChannelError struct{ Channel models.Channel }

func (e *UnknownChannelError) Error() string { return "unknown channel: " + string(e.Channel) }

type NotConfiguredError struct{ Channel models.Channel }

func (e *NotConfiguredError) Error() string { return "channel not configured: " + string(e.Channel) }
