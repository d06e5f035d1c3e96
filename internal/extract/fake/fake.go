package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/BearBump/PriceWatch/internal/extract"
	"github.com/shopspring/decimal"
)

const sourceName = "FakeShop"

// Extractor — детерминированная заглушка источника для dev/demo окружений
// без сети. Цена и наличие выводятся из хэша URL, так что повторные
// извлечения стабильны.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

func (e *Extractor) SourceName() string { return sourceName }

func (e *Extractor) Matches(rawURL string) bool {
	return strings.Contains(rawURL, "fakeshop.test/")
}

func (e *Extractor) Extract(ctx context.Context, rawURL string) (extract.ExtractedProduct, error) {
	_ = ctx

	h := fnv.New32a()
	_, _ = h.Write([]byte(rawURL))
	v := h.Sum32()

	// Цены в диапазоне 5.00..104.99, каждый пятый товар not in stock.
	price := decimal.New(int64(500+v%10000), -2)
	name := fmt.Sprintf("Fake product %d", v%100000)

	return extract.ExtractedProduct{
		Name:       name,
		Price:      price,
		Currency:   "USD",
		InStock:    v%5 != 0,
		SourceName: sourceName,
	}, nil
}
