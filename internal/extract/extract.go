package extract

import (
	"context"

	"github.com/shopspring/decimal"
)

// ExtractedProduct — нормализованный результат извлечения, единый для всех источников.
type ExtractedProduct struct {
	Name        string
	Price       decimal.Decimal
	Currency    string
	InStock     bool
	ImageURL    *string
	Description *string
	SourceName  string
}

// Extractor is one site-specific extraction plugin. Implementations own
// their fetch transport; the registry only routes URLs to them.
type Extractor interface {
	SourceName() string
	Matches(rawURL string) bool
	Extract(ctx context.Context, rawURL string) (ExtractedProduct, error)
}
