package notify

import (
	"context"

	"github.com/BearBump/PriceWatch/internal/models"
	"github.com/shopspring/decimal"
)

// AlertContext — структурированный контекст сработавшего алерта; каналы
// рендерят его по-своему, но имя продукта и обе цены обязаны попасть в текст.
type AlertContext struct {
	ProductName  string
	ProductURL   string
	ImageURL     *string
	CurrentPrice decimal.Decimal
	Currency     string
	TargetPrice  decimal.Decimal
	InStock      bool
}

// Notifier is one delivery channel. Transport credentials belong to the
// implementation and are validated at construction; IsConfigured reports
// the result.
type Notifier interface {
	Channel() models.Channel
	IsConfigured() bool
	Send(ctx context.Context, recipient, subject, body string, alert AlertContext) error
}

// Outcome — результат доставки по одному каналу.
type Outcome struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
