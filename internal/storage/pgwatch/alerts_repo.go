package pgwatch

import (
	"context"
	"time"

	"github.com/BearBump/PriceWatch/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const alertCols = `id, product_id, target_price::text, notification_email, notification_phone, notification_telegram, is_active, last_notified_at, created_at`

func scanAlert(row pgx.Row) (*models.AlertRule, error) {
	var a models.AlertRule
	var target string
	if err := row.Scan(
		&a.ID, &a.ProductID, &target,
		&a.Email, &a.Phone, &a.TelegramChatID,
		&a.IsActive, &a.LastNotifiedAt, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(target)
	if err != nil {
		return nil, errors.Wrap(err, "parse target price")
	}
	a.TargetPrice = d
	return &a, nil
}

func (s *Storage) CreateAlert(ctx context.Context, a models.AlertRule) (*models.AlertRule, error) {
	now := time.Now().UTC()

	row := s.db.QueryRow(ctx, `
INSERT INTO price_alerts (product_id, target_price, notification_email, notification_phone, notification_telegram, is_active, created_at)
VALUES ($1,$2,$3,$4,$5,TRUE,$6)
RETURNING `+alertCols, a.ProductID, a.TargetPrice.StringFixed(2), a.Email, a.Phone, a.TelegramChatID, now)

	out, err := scanAlert(row)
	if err != nil {
		return nil, errors.Wrap(err, "insert alert")
	}
	return out, nil
}

func (s *Storage) GetAlert(ctx context.Context, id uint64) (*models.AlertRule, error) {
	row := s.db.QueryRow(ctx, `SELECT `+alertCols+` FROM price_alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select alert")
	}
	return a, nil
}

// ListActiveAlertsForProduct — активные правила продукта; неактивные правила
// и правила неактивных продуктов сюда не попадают.
func (s *Storage) ListActiveAlertsForProduct(ctx context.Context, productID uint64) ([]*models.AlertRule, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+alertCols+`
FROM price_alerts
WHERE product_id = $1
  AND is_active
  AND EXISTS (SELECT 1 FROM products p WHERE p.id = product_id AND p.active)
ORDER BY id
`, productID)
	if err != nil {
		return nil, errors.Wrap(err, "select alerts")
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func (s *Storage) ListAlertsForProduct(ctx context.Context, productID uint64) ([]*models.AlertRule, error) {
	rows, err := s.db.Query(ctx, `SELECT `+alertCols+` FROM price_alerts WHERE product_id = $1 ORDER BY id`, productID)
	if err != nil {
		return nil, errors.Wrap(err, "select alerts")
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// ListProductIDsWithActiveAlerts feeds the hourly alert recheck sweep.
func (s *Storage) ListProductIDsWithActiveAlerts(ctx context.Context) ([]uint64, error) {
	rows, err := s.db.Query(ctx, `
SELECT DISTINCT a.product_id
FROM price_alerts a
JOIN products p ON p.id = a.product_id
WHERE a.is_active AND p.active
ORDER BY a.product_id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select alerted product ids")
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan product id")
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ClaimNotification помечает правило как уведомлённое, если окно cooldown
// прошло. Compare-and-set в одном UPDATE: два конкурирующих вычисления не
// могут одновременно решить уведомлять по одному правилу.
func (s *Storage) ClaimNotification(ctx context.Context, alertID uint64, now time.Time, cooldown time.Duration) (bool, error) {
	ct, err := s.db.Exec(ctx, `
UPDATE price_alerts
SET last_notified_at = $2
WHERE id = $1
  AND is_active
  AND (last_notified_at IS NULL OR last_notified_at <= $3)
`, alertID, now.UTC(), now.UTC().Add(-cooldown))
	if err != nil {
		return false, errors.Wrap(err, "claim notification")
	}
	return ct.RowsAffected() == 1, nil
}

func (s *Storage) SetAlertActive(ctx context.Context, id uint64, active bool) error {
	ct, err := s.db.Exec(ctx, `UPDATE price_alerts SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return errors.Wrap(err, "set alert active")
	}
	if ct.RowsAffected() == 0 {
		return errors.Errorf("alert %d not found", id)
	}
	return nil
}

func (s *Storage) DeleteAlert(ctx context.Context, id uint64) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM price_alerts WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete alert")
	}
	if ct.RowsAffected() == 0 {
		return errors.Errorf("alert %d not found", id)
	}
	return nil
}

func collectAlerts(rows pgx.Rows) ([]*models.AlertRule, error) {
	var out []*models.AlertRule
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan alert")
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
