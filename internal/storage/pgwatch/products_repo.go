package pgwatch

import (
	"context"
	"time"

	"github.com/BearBump/PriceWatch/internal/extract"
	"github.com/BearBump/PriceWatch/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const productCols = `id, name, url, source_name, image_url, description, active, created_at, updated_at`

func scanProduct(row pgx.Row) (*models.TrackedProduct, error) {
	var p models.TrackedProduct
	if err := row.Scan(
		&p.ID, &p.Name, &p.URL, &p.SourceName,
		&p.ImageURL, &p.Description, &p.Active,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProduct inserts a product from a successful extraction. When the URL
// is already tracked, the existing row is reactivated and its snapshot
// refreshed instead of failing on the unique constraint.
func (s *Storage) CreateProduct(ctx context.Context, url string, ep extract.ExtractedProduct) (*models.TrackedProduct, error) {
	now := time.Now().UTC()

	row := s.db.QueryRow(ctx, `
INSERT INTO products (name, url, source_name, image_url, description, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,TRUE,$6,$6)
ON CONFLICT (url)
DO UPDATE SET name = $1, source_name = $3, image_url = $4, description = $5, active = TRUE, updated_at = $6
RETURNING `+productCols, ep.Name, url, ep.SourceName, ep.ImageURL, ep.Description, now)

	p, err := scanProduct(row)
	if err != nil {
		return nil, errors.Wrap(err, "insert product")
	}
	return p, nil
}

func (s *Storage) GetProduct(ctx context.Context, id uint64) (*models.TrackedProduct, error) {
	row := s.db.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select product")
	}
	return p, nil
}

func (s *Storage) ListProducts(ctx context.Context, onlyActive bool) ([]*models.TrackedProduct, error) {
	q := `SELECT ` + productCols + ` FROM products ORDER BY id`
	if onlyActive {
		q = `SELECT ` + productCols + ` FROM products WHERE active ORDER BY id`
	}

	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "select products")
	}
	defer rows.Close()

	var out []*models.TrackedProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListActiveProducts(ctx context.Context) ([]*models.TrackedProduct, error) {
	return s.ListProducts(ctx, true)
}

// SetProductActive — мягкое удаление/восстановление. Историю цен не трогаем:
// она принадлежит продукту и переживает деактивацию.
func (s *Storage) SetProductActive(ctx context.Context, id uint64, active bool) error {
	ct, err := s.db.Exec(ctx, `UPDATE products SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return errors.Wrap(err, "set product active")
	}
	if ct.RowsAffected() == 0 {
		return errors.Errorf("product %d not found", id)
	}
	return nil
}

// UpdateProductSnapshot refreshes the mutable presentation fields after a
// successful re-extraction (name/image/description may change on the site).
func (s *Storage) UpdateProductSnapshot(ctx context.Context, id uint64, ep extract.ExtractedProduct) error {
	_, err := s.db.Exec(ctx, `
UPDATE products
SET name = $2, image_url = COALESCE($3, image_url), description = COALESCE($4, description), updated_at = now()
WHERE id = $1
`, id, ep.Name, ep.ImageURL, ep.Description)
	return errors.Wrap(err, "update product snapshot")
}
