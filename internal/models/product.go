package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TrackedProduct struct {
	ID          uint64
	Name        string
	URL         string
	SourceName  string
	ImageURL    *string
	Description *string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PriceObservation — одна неизменяемая точка ценовой истории продукта.
// Только append; порядок по ObservedAt.
type PriceObservation struct {
	ID         uint64
	ProductID  uint64
	Price      decimal.Decimal
	Currency   string
	InStock    bool
	ObservedAt time.Time
}
