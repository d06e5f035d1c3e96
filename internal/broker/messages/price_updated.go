package messages

import "time"

// PriceUpdated публикуется воркером после каждой попытки обновления цены.
// watch-api по этим сообщениям обновляет кэш "последней цены".
type PriceUpdated struct {
	ProductID uint64    `json:"product_id"`
	CheckedAt time.Time `json:"checked_at"`

	ObservationID uint64  `json:"observation_id,omitempty"`
	Price         string  `json:"price,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	InStock       bool    `json:"in_stock,omitempty"`
	ObservedAt    *time.Time `json:"observed_at,omitempty"`

	Error *string `json:"error,omitempty"`
}
