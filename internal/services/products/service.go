package products

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/BearBump/PriceWatch/internal/broker/messages"
	"github.com/BearBump/PriceWatch/internal/cache"
	"github.com/BearBump/PriceWatch/internal/extract"
	"github.com/BearBump/PriceWatch/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Repository interface {
	CreateProduct(ctx context.Context, url string, ep extract.ExtractedProduct) (*models.TrackedProduct, error)
	GetProduct(ctx context.Context, id uint64) (*models.TrackedProduct, error)
	ListProducts(ctx context.Context, onlyActive bool) ([]*models.TrackedProduct, error)
	SetProductActive(ctx context.Context, id uint64, active bool) error
	UpdateProductSnapshot(ctx context.Context, id uint64, ep extract.ExtractedProduct) error
	InsertPricePoint(ctx context.Context, productID uint64, price decimal.Decimal, currency string, inStock bool, observedAt time.Time) (*models.PriceObservation, error)
	LatestPricePoint(ctx context.Context, productID uint64) (*models.PriceObservation, error)
	ListPricePoints(ctx context.Context, productID uint64, limit, offset int) ([]*models.PriceObservation, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Evaluator interface {
	Evaluate(ctx context.Context, product *models.TrackedProduct, obs *models.PriceObservation) (int, error)
}

type Service struct {
	repo      Repository
	extractor *extract.Registry
	cache     cache.BytesCache
	latestTTL time.Duration
	producer  Producer
	topic     string
	evaluator Evaluator

	// один продукт не должен обновляться двумя горутинами одновременно
	locks productLocks
}

func New(repo Repository, reg *extract.Registry, c cache.BytesCache, latestTTL time.Duration) *Service {
	return &Service{repo: repo, extractor: reg, cache: c, latestTTL: latestTTL}
}

// WithProducer включает публикацию событий price.updated при добавлении
// и ручном обновлении продукта.
func (s *Service) WithProducer(p Producer, topic string) *Service {
	s.producer = p
	s.topic = topic
	return s
}

// WithEvaluator прогоняет алерты по свежему наблюдению после ручного
// обновления — те же правила и cooldown, что и у планового обхода.
func (s *Service) WithEvaluator(ev Evaluator) *Service {
	s.evaluator = ev
	return s
}

// AddProduct сразу идёт на сайт: продукт без единого наблюдения цены
// бесполезен, а пользователь тут же видит, поддерживается ли URL вообще.
// Ошибки экстракции отдаются как extract.Error, API мапит их в статусы.
func (s *Service) AddProduct(ctx context.Context, rawURL string) (*models.TrackedProduct, *models.PriceObservation, error) {
	if rawURL == "" {
		return nil, nil, errors.New("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, nil, errors.New("url must be absolute (http/https)")
	}

	ep, err := s.extractor.Extract(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}

	p, err := s.repo.CreateProduct(ctx, rawURL, ep)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create product")
	}

	obs, err := s.repo.InsertPricePoint(ctx, p.ID, ep.Price, ep.Currency, ep.InStock, time.Now().UTC())
	if err != nil {
		return nil, nil, errors.Wrap(err, "insert first price point")
	}

	s.cacheLatest(ctx, obs)
	s.publish(ctx, p.ID, obs)
	return p, obs, nil
}

// RefreshProduct — ручное обновление цены вне расписания. Конкурентные
// вызовы по одному продукту сериализуются; продукт после мягкого удаления
// не обновляется и отдаётся как не найденный.
func (s *Service) RefreshProduct(ctx context.Context, id uint64) (*models.PriceObservation, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.Active {
		return nil, nil
	}

	ep, err := s.extractor.Extract(ctx, p.URL)
	if err != nil {
		return nil, err
	}

	if snapErr := s.repo.UpdateProductSnapshot(ctx, id, ep); snapErr != nil {
		slog.Warn("update product snapshot", "product_id", id, "error", snapErr.Error())
	}

	obs, err := s.repo.InsertPricePoint(ctx, id, ep.Price, ep.Currency, ep.InStock, time.Now().UTC())
	if err != nil {
		return nil, errors.Wrap(err, "insert price point")
	}

	if s.evaluator != nil {
		if fired, evalErr := s.evaluator.Evaluate(ctx, p, obs); evalErr != nil {
			slog.Error("alert evaluation", "product_id", id, "error", evalErr.Error())
		} else if fired > 0 {
			slog.Info("alerts fired on manual refresh", "product_id", id, "fired", fired)
		}
	}

	s.cacheLatest(ctx, obs)
	s.publish(ctx, id, obs)
	return obs, nil
}

func (s *Service) GetProduct(ctx context.Context, id uint64) (*models.TrackedProduct, error) {
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context, onlyActive bool) ([]*models.TrackedProduct, error) {
	return s.repo.ListProducts(ctx, onlyActive)
}

// DeactivateProduct — мягкое удаление: история цен и правила остаются в БД.
func (s *Service) DeactivateProduct(ctx context.Context, id uint64) error {
	if err := s.repo.SetProductActive(ctx, id, false); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, latestKey(id))
	}
	return nil
}

func (s *Service) ListPriceHistory(ctx context.Context, productID uint64, limit, offset int) ([]*models.PriceObservation, error) {
	return s.repo.ListPricePoints(ctx, productID, limit, offset)
}

// LatestPrice отдаёт последнее наблюдение: сперва из кэша, при промахе — из
// БД с записью обратно в кэш. Кэш best-effort: его недоступность не ошибка.
func (s *Service) LatestPrice(ctx context.Context, productID uint64) (*models.PriceObservation, error) {
	if s.cache != nil && s.latestTTL > 0 {
		b, ok, err := s.cache.Get(ctx, latestKey(productID))
		if err == nil && ok {
			var obs models.PriceObservation
			if json.Unmarshal(b, &obs) == nil {
				return &obs, nil
			}
		}
	}

	obs, err := s.repo.LatestPricePoint(ctx, productID)
	if err != nil {
		return nil, err
	}
	if obs != nil {
		s.cacheLatest(ctx, obs)
	}
	return obs, nil
}

// ApplyPriceUpdate обновляет кэш последней цены по событию из Kafka.
// Событие с ошибкой экстракции наблюдения не несёт — кэш не трогаем.
func (s *Service) ApplyPriceUpdate(ctx context.Context, msg messages.PriceUpdated) error {
	if msg.ProductID == 0 {
		return errors.New("product_id is required")
	}
	if msg.Error != nil || msg.ObservationID == 0 {
		return nil
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return errors.Wrap(err, "parse price")
	}
	observedAt := msg.CheckedAt
	if msg.ObservedAt != nil {
		observedAt = *msg.ObservedAt
	}

	s.cacheLatest(ctx, &models.PriceObservation{
		ID:         msg.ObservationID,
		ProductID:  msg.ProductID,
		Price:      price,
		Currency:   msg.Currency,
		InStock:    msg.InStock,
		ObservedAt: observedAt,
	})
	return nil
}

func (s *Service) cacheLatest(ctx context.Context, obs *models.PriceObservation) {
	if s.cache == nil || s.latestTTL <= 0 {
		return
	}
	b, _ := json.Marshal(obs)
	_ = s.cache.Set(ctx, latestKey(obs.ProductID), b, s.latestTTL)
}

func (s *Service) publish(ctx context.Context, productID uint64, obs *models.PriceObservation) {
	if s.producer == nil || s.topic == "" {
		return
	}
	msg := messages.PriceUpdated{
		ProductID:     productID,
		CheckedAt:     time.Now().UTC(),
		ObservationID: obs.ID,
		Price:         obs.Price.StringFixed(2),
		Currency:      obs.Currency,
		InStock:       obs.InStock,
		ObservedAt:    &obs.ObservedAt,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	key := []byte(fmt.Sprintf("%d", productID))
	if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
		slog.Warn("publish price update", "product_id", productID, "error", err.Error())
	}
}

func latestKey(id uint64) string {
	return fmt.Sprintf("product:%d:latest", id)
}

// productLocks выдаёт мьютекс на product ID; мьютексы живут, пока жив Service.
type productLocks struct {
	mu sync.Mutex
	m  map[uint64]*sync.Mutex
}

func (l *productLocks) lock(id uint64) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[uint64]*sync.Mutex)
	}
	pm, ok := l.m[id]
	if !ok {
		pm = &sync.Mutex{}
		l.m[id] = pm
	}
	l.mu.Unlock()

	pm.Lock()
	return pm.Unlock
}
