package alerts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/PriceWatch/internal/models"
	"github.com/BearBump/PriceWatch/internal/notify"
)

// DefaultCooldown — минимальный интервал между уведомлениями по одному правилу.
const DefaultCooldown = 24 * time.Hour

type Repository interface {
	CreateAlert(ctx context.Context, a models.AlertRule) (*models.AlertRule, error)
	GetAlert(ctx context.Context, id uint64) (*models.AlertRule, error)
	ListAlertsForProduct(ctx context.Context, productID uint64) ([]*models.AlertRule, error)
	ListActiveAlertsForProduct(ctx context.Context, productID uint64) ([]*models.AlertRule, error)
	ClaimNotification(ctx context.Context, alertID uint64, now time.Time, cooldown time.Duration) (bool, error)
	SetAlertActive(ctx context.Context, id uint64, active bool) error
	DeleteAlert(ctx context.Context, id uint64) error
	GetProduct(ctx context.Context, id uint64) (*models.TrackedProduct, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, rule *models.AlertRule, product *models.TrackedProduct, obs *models.PriceObservation) map[models.Channel]notify.Outcome
}

type Service struct {
	repo       Repository
	dispatcher Dispatcher
	cooldown   time.Duration

	now func() time.Time // подменяется в тестах
}

func New(repo Repository, d Dispatcher, cooldown time.Duration) *Service {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Service{repo: repo, dispatcher: d, cooldown: cooldown, now: time.Now}
}

// ValidationError — ошибка входных данных правила; API мапит её в 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

func CreateAlertValidate(a models.AlertRule) error {
	if a.ProductID == 0 {
		return &ValidationError{Field: "productId", Message: "is required"}
	}
	if !a.TargetPrice.IsPositive() {
		return &ValidationError{Field: "targetPrice", Message: "must be greater than zero"}
	}
	if len(a.Endpoints()) == 0 {
		return &ValidationError{Field: "notification", Message: "at least one notification endpoint is required"}
	}
	if a.Email != nil && *a.Email != "" && !strings.Contains(*a.Email, "@") {
		return &ValidationError{Field: "notificationEmail", Message: "is not a valid email address"}
	}
	if a.Phone != nil && *a.Phone != "" && !strings.HasPrefix(*a.Phone, "+") {
		return &ValidationError{Field: "notificationPhone", Message: "must be in international format (+...)"}
	}
	return nil
}

func (s *Service) CreateAlert(ctx context.Context, a models.AlertRule) (*models.AlertRule, error) {
	if err := CreateAlertValidate(a); err != nil {
		return nil, err
	}
	p, err := s.repo.GetProduct(ctx, a.ProductID)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.Active {
		return nil, &ValidationError{Field: "productId", Message: "product not found or inactive"}
	}
	a.IsActive = true
	a.LastNotifiedAt = nil
	return s.repo.CreateAlert(ctx, a)
}

func (s *Service) GetAlert(ctx context.Context, id uint64) (*models.AlertRule, error) {
	return s.repo.GetAlert(ctx, id)
}

func (s *Service) ListAlertsForProduct(ctx context.Context, productID uint64) ([]*models.AlertRule, error) {
	return s.repo.ListAlertsForProduct(ctx, productID)
}

func (s *Service) SetAlertActive(ctx context.Context, id uint64, active bool) error {
	return s.repo.SetAlertActive(ctx, id, active)
}

func (s *Service) DeleteAlert(ctx context.Context, id uint64) error {
	return s.repo.DeleteAlert(ctx, id)
}

// Evaluate прогоняет одно наблюдение цены через все активные правила продукта.
// Кулдаун захватывается БД-шным CAS ДО отправки: при конкурентных вызовах
// уведомление уйдёт не более одного раза, а упавшая доставка не вернёт
// правило в "неуведомлённое" состояние.
func (s *Service) Evaluate(ctx context.Context, product *models.TrackedProduct, obs *models.PriceObservation) (int, error) {
	if product == nil || obs == nil {
		return 0, nil
	}

	rules, err := s.repo.ListActiveAlertsForProduct(ctx, product.ID)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, rule := range rules {
		if obs.Price.GreaterThan(rule.TargetPrice) {
			continue
		}

		claimed, err := s.repo.ClaimNotification(ctx, rule.ID, s.now().UTC(), s.cooldown)
		if err != nil {
			slog.Error("alert cooldown claim failed",
				"alert_id", rule.ID, "product_id", product.ID, "error", err.Error())
			continue
		}
		if !claimed {
			slog.Debug("alert within cooldown, skipping",
				"alert_id", rule.ID, "product_id", product.ID)
			continue
		}

		outcomes := s.dispatcher.Dispatch(ctx, rule, product, obs)
		for ch, o := range outcomes {
			if o.OK {
				slog.Info("alert notification sent",
					"alert_id", rule.ID, "product_id", product.ID, "channel", string(ch))
			} else {
				slog.Error("alert notification failed",
					"alert_id", rule.ID, "product_id", product.ID, "channel", string(ch), "error", o.Error)
			}
		}
		fired++
	}
	return fired, nil
}
