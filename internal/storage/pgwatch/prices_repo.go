package pgwatch

import (
	"context"
	"time"

	"github.com/BearBump/PriceWatch/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

func scanObservation(row pgx.Row) (*models.PriceObservation, error) {
	var o models.PriceObservation
	var price string
	if err := row.Scan(&o.ID, &o.ProductID, &price, &o.Currency, &o.InStock, &o.ObservedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, errors.Wrap(err, "parse price")
	}
	o.Price = d
	return &o, nil
}

func (s *Storage) InsertPricePoint(ctx context.Context, productID uint64, price decimal.Decimal, currency string, inStock bool, observedAt time.Time) (*models.PriceObservation, error) {
	if currency == "" {
		currency = "USD"
	}
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	row := s.db.QueryRow(ctx, `
INSERT INTO price_points (product_id, price, currency, in_stock, observed_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, product_id, price::text, currency, in_stock, observed_at
`, productID, price.StringFixed(2), currency, inStock, observedAt.UTC())

	o, err := scanObservation(row)
	if err != nil {
		return nil, errors.Wrap(err, "insert price point")
	}
	return o, nil
}

func (s *Storage) LatestPricePoint(ctx context.Context, productID uint64) (*models.PriceObservation, error) {
	row := s.db.QueryRow(ctx, `
SELECT id, product_id, price::text, currency, in_stock, observed_at
FROM price_points
WHERE product_id = $1
ORDER BY observed_at DESC, id DESC
LIMIT 1
`, productID)

	o, err := scanObservation(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select latest price point")
	}
	return o, nil
}

func (s *Storage) ListPricePoints(ctx context.Context, productID uint64, limit, offset int) ([]*models.PriceObservation, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, product_id, price::text, currency, in_stock, observed_at
FROM price_points
WHERE product_id = $1
ORDER BY observed_at DESC, id DESC
LIMIT $2 OFFSET $3
`, productID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select price points")
	}
	defer rows.Close()

	var out []*models.PriceObservation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan price point")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
