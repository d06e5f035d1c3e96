package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/PriceWatch/internal/broker/messages"
	"github.com/BearBump/PriceWatch/internal/extract"
	"github.com/BearBump/PriceWatch/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Repository interface {
	ListActiveProducts(ctx context.Context) ([]*models.TrackedProduct, error)
	GetProduct(ctx context.Context, id uint64) (*models.TrackedProduct, error)
	UpdateProductSnapshot(ctx context.Context, id uint64, ep extract.ExtractedProduct) error
	InsertPricePoint(ctx context.Context, productID uint64, price decimal.Decimal, currency string, inStock bool, observedAt time.Time) (*models.PriceObservation, error)
	LatestPricePoint(ctx context.Context, productID uint64) (*models.PriceObservation, error)
	ListProductIDsWithActiveAlerts(ctx context.Context) ([]uint64, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, product *models.TrackedProduct, obs *models.PriceObservation) (int, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Watcher struct {
	repo      Repository
	extractor *extract.Registry
	evaluator Evaluator
	producer  Producer
	rl        RateLimiter

	topic string

	sweepInterval      time.Duration
	recheckInterval    time.Duration
	concurrency        int
	extractTimeout     time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}

	// один продукт не должен обновляться двумя горутинами одновременно
	locks locksByProduct

	startedAtUnixNano   int64
	lastSweepUnixNano   atomic.Int64
	lastRecheckUnixNano atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalChecked        atomic.Int64
	totalFailed         atomic.Int64
	totalAlertsFired    atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, reg *extract.Registry, ev Evaluator, producer Producer, rl RateLimiter, topic string) *Watcher {
	return &Watcher{
		repo: repo, extractor: reg, evaluator: ev, producer: producer, rl: rl, topic: topic,
		sweepInterval:      6 * time.Hour,
		recheckInterval:    time.Hour,
		concurrency:        5,
		extractTimeout:     10 * time.Second,
		rateLimitPerMinute: 30,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (w *Watcher) WithSettings(sweepInterval, recheckInterval time.Duration, concurrency int, extractTimeout time.Duration, rlPerMin int64) *Watcher {
	if sweepInterval > 0 {
		w.sweepInterval = sweepInterval
	}
	if recheckInterval > 0 {
		w.recheckInterval = recheckInterval
	}
	if concurrency > 0 {
		w.concurrency = concurrency
	}
	if extractTimeout > 0 {
		w.extractTimeout = extractTimeout
	}
	if rlPerMin > 0 {
		w.rateLimitPerMinute = rlPerMin
	}
	return w
}

// Trigger forces an immediate full sweep (best-effort, non-blocking).
func (w *Watcher) Trigger() {
	w.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt        time.Time  `json:"startedAt"`
	LastSweepAt      *time.Time `json:"lastSweepAt,omitempty"`
	LastRecheckAt    *time.Time `json:"lastRecheckAt,omitempty"`
	LastTriggerAt    *time.Time `json:"lastTriggerAt,omitempty"`
	TotalChecked     int64      `json:"totalChecked"`
	TotalFailed      int64      `json:"totalFailed"`
	TotalAlertsFired int64      `json:"totalAlertsFired"`
	InFlight         int64      `json:"inFlight"`
	LastError        string     `json:"lastError,omitempty"`
}

func (w *Watcher) Stats() Stats {
	st := Stats{
		StartedAt:        time.Unix(0, w.startedAtUnixNano).UTC(),
		TotalChecked:     w.totalChecked.Load(),
		TotalFailed:      w.totalFailed.Load(),
		TotalAlertsFired: w.totalAlertsFired.Load(),
		InFlight:         w.inFlight.Load(),
	}
	if n := w.lastSweepUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastSweepAt = &t
	}
	if n := w.lastRecheckUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRecheckAt = &t
	}
	if n := w.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	w.lastErrorMu.Lock()
	st.LastError = w.lastError
	w.lastErrorMu.Unlock()
	return st
}

// Run крутит два независимых цикла: полный обход всех активных продуктов
// (редко, с походом на сайты) и перепроверку алертов по последним
// наблюдениям (часто, без сети).
func (w *Watcher) Run(ctx context.Context) error {
	sweep := time.NewTicker(w.sweepInterval)
	defer sweep.Stop()
	recheck := time.NewTicker(w.recheckInterval)
	defer recheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			if _, err := w.RunFullSweep(ctx); err != nil {
				slog.Error("full sweep", "error", err.Error())
				w.setLastError(err)
			}
		case <-w.triggerCh:
			if _, err := w.RunFullSweep(ctx); err != nil {
				slog.Error("full sweep", "error", err.Error())
				w.setLastError(err)
			}
		case <-recheck.C:
			if err := w.RunAlertRecheck(ctx); err != nil {
				slog.Error("alert recheck", "error", err.Error())
				w.setLastError(err)
			}
		}
	}
}

type Summary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RunFullSweep обновляет цену каждого активного продукта. Ошибка одного
// продукта не прерывает обход: она попадает в Summary и в лог. Единственная
// ошибка уровня обхода — недоступность стораджа на исходном списке продуктов.
func (w *Watcher) RunFullSweep(ctx context.Context) (Summary, error) {
	now := time.Now().UTC()
	w.lastSweepUnixNano.Store(now.UnixNano())

	products, err := w.repo.ListActiveProducts(ctx)
	if err != nil {
		return Summary{}, errors.Wrap(err, "list active products")
	}

	var sum Summary
	sum.Attempted = len(products)

	var mu sync.Mutex
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, p := range products {
		sem <- struct{}{}
		wg.Add(1)
		pCopy := p
		w.inFlight.Add(1)
		go func() {
			defer func() {
				w.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			_, err := w.RefreshOne(ctx, pCopy)
			mu.Lock()
			if err != nil {
				sum.Failed++
			} else {
				sum.Succeeded++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	slog.Info("full sweep finished",
		"attempted", sum.Attempted, "succeeded", sum.Succeeded, "failed", sum.Failed)
	return sum, nil
}

// RefreshByID loads a product and runs one on-demand refresh.
// Returns (nil, nil) when the product is missing or inactive.
func (w *Watcher) RefreshByID(ctx context.Context, id uint64) (*models.PriceObservation, error) {
	p, err := w.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	if p == nil || !p.Active {
		return nil, nil
	}
	return w.RefreshOne(ctx, p)
}

// RefreshOne вытягивает свежую цену одного продукта, пишет наблюдение,
// прогоняет алерты и публикует событие в Kafka. Конкурентные вызовы по
// одному продукту сериализуются.
func (w *Watcher) RefreshOne(ctx context.Context, product *models.TrackedProduct) (*models.PriceObservation, error) {
	unlock := w.locks.lock(product.ID)
	defer unlock()

	now := time.Now().UTC()
	w.totalChecked.Add(1)

	if w.rl != nil && w.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:source:%s:%s", product.SourceName, now.Format("200601021504"))
		allowed, n, err := w.rl.Allow(ctx, minuteKey, w.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			slog.Warn("rate limiter unavailable", "source", product.SourceName, "error", err.Error())
		} else if !allowed {
			// Слишком часто ходим на этот источник: притормаживаем, но не отказываем.
			slog.Warn("source rate limit exceeded", "source", product.SourceName, "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	extractCtx, cancel := context.WithTimeout(ctx, w.extractTimeout)
	ep, err := w.extractor.Extract(extractCtx, product.URL)
	cancel()

	msg := messages.PriceUpdated{
		ProductID: product.ID,
		CheckedAt: now,
	}

	if err != nil {
		w.totalFailed.Add(1)
		w.setLastError(err)
		slog.Error("price extraction failed",
			"product_id", product.ID, "url", product.URL,
			"kind", string(extract.KindOf(err)), "error", err.Error())
		e := err.Error()
		msg.Error = &e
		w.publish(ctx, product.ID, msg)
		return nil, err
	}

	if snapErr := w.repo.UpdateProductSnapshot(ctx, product.ID, ep); snapErr != nil {
		slog.Warn("update product snapshot", "product_id", product.ID, "error", snapErr.Error())
	}

	obs, err := w.repo.InsertPricePoint(ctx, product.ID, ep.Price, ep.Currency, ep.InStock, now)
	if err != nil {
		w.totalFailed.Add(1)
		w.setLastError(err)
		return nil, errors.Wrap(err, "insert price point")
	}

	if w.evaluator != nil {
		fired, evalErr := w.evaluator.Evaluate(ctx, product, obs)
		if evalErr != nil {
			slog.Error("alert evaluation", "product_id", product.ID, "error", evalErr.Error())
			w.setLastError(evalErr)
		}
		w.totalAlertsFired.Add(int64(fired))
	}

	msg.ObservationID = obs.ID
	msg.Price = obs.Price.StringFixed(2)
	msg.Currency = obs.Currency
	msg.InStock = obs.InStock
	msg.ObservedAt = &obs.ObservedAt
	w.publish(ctx, product.ID, msg)

	return obs, nil
}

// RunAlertRecheck прогоняет алерты по последнему сохранённому наблюдению,
// без похода на сайты. Ловит правила, созданные после последнего обхода,
// и правила, вышедшие из кулдауна.
func (w *Watcher) RunAlertRecheck(ctx context.Context) error {
	now := time.Now().UTC()
	w.lastRecheckUnixNano.Store(now.UnixNano())

	if w.evaluator == nil {
		return nil
	}

	ids, err := w.repo.ListProductIDsWithActiveAlerts(ctx)
	if err != nil {
		return errors.Wrap(err, "list products with alerts")
	}

	for _, id := range ids {
		product, err := w.repo.GetProduct(ctx, id)
		if err != nil {
			slog.Error("recheck: get product", "product_id", id, "error", err.Error())
			continue
		}
		if product == nil || !product.Active {
			continue
		}
		obs, err := w.repo.LatestPricePoint(ctx, id)
		if err != nil {
			slog.Error("recheck: latest price point", "product_id", id, "error", err.Error())
			continue
		}
		if obs == nil {
			continue
		}
		fired, err := w.evaluator.Evaluate(ctx, product, obs)
		if err != nil {
			slog.Error("recheck: evaluate", "product_id", id, "error", err.Error())
			continue
		}
		w.totalAlertsFired.Add(int64(fired))
	}
	return nil
}

func (w *Watcher) publish(ctx context.Context, productID uint64, msg messages.PriceUpdated) {
	if w.producer == nil || w.topic == "" {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal kafka msg", "product_id", productID, "error", err.Error())
		return
	}
	key := []byte(fmt.Sprintf("%d", productID))
	// Kafka может быть не готова сразу после старта docker compose.
	// Для устойчивости делаем небольшой retry.
	var pubErr error
	for i := 0; i < 10; i++ {
		if err := w.producer.Publish(ctx, w.topic, key, b); err == nil {
			return
		} else {
			pubErr = err
			time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
		}
	}
	slog.Error("publish price update", "product_id", productID, "error", pubErr.Error())
	w.setLastError(pubErr)
}

func (w *Watcher) setLastError(err error) {
	w.lastErrorMu.Lock()
	w.lastError = err.Error()
	w.lastErrorMu.Unlock()
}

// locksByProduct выдаёт мьютекс на product ID; мьютексы живут, пока жив Watcher.
type locksByProduct struct {
	mu sync.Mutex
	m  map[uint64]*sync.Mutex
}

func (l *locksByProduct) lock(id uint64) func() {
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
