package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelTelegram Channel = "telegram"
)

type AlertRule struct {
	ID          uint64
	ProductID   uint64
	TargetPrice decimal.Decimal

	Email          *string
	Phone          *string
	TelegramChatID *string

	IsActive       bool
	LastNotifiedAt *time.Time
	CreatedAt      time.Time
}

// NotificationEndpoint — один адрес доставки на одном канале.
type NotificationEndpoint struct {
	Channel Channel
	Address string
}

// Endpoints returns the non-empty endpoints of the rule in a fixed order.
func (r *AlertRule) Endpoints() []NotificationEndpoint {
	var out []NotificationEndpoint
	if r.Email != nil && *r.Email != "" {
		out = append(out, NotificationEndpoint{Channel: ChannelEmail, Address: *r.Email})
	}
	if r.Phone != nil && *r.Phone != "" {
		out = append(out, NotificationEndpoint{Channel: ChannelSMS, Address: *r.Phone})
	}
	if r.TelegramChatID != nil && *r.TelegramChatID != "" {
		out = append(out, NotificationEndpoint{Channel: ChannelTelegram, Address: *r.TelegramChatID})
	}
	return out
}
