package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/PriceWatch/config"
	"github.com/BearBump/PriceWatch/internal/broker/kafka"
	"github.com/BearBump/PriceWatch/internal/cache/rediscache"
	"github.com/BearBump/PriceWatch/internal/extract"
	"github.com/BearBump/PriceWatch/internal/extract/amazon"
	"github.com/BearBump/PriceWatch/internal/extract/ebay"
	"github.com/BearBump/PriceWatch/internal/extract/fake"
	"github.com/BearBump/PriceWatch/internal/extract/walmart"
	"github.com/BearBump/PriceWatch/internal/notify"
	"github.com/BearBump/PriceWatch/internal/notify/emailsmtp"
	"github.com/BearBump/PriceWatch/internal/notify/telegram"
	"github.com/BearBump/PriceWatch/internal/notify/twilio"
	"github.com/BearBump/PriceWatch/internal/services/alerts"
	"github.com/BearBump/PriceWatch/internal/services/watcher"
	"github.com/BearBump/PriceWatch/internal/storage/pgwatch"
)

// workerStore — то, что воркеру нужно от хранилища: и обход продуктов,
// и работа с правилами алертов. pgwatch.Storage покрывает оба контракта.
type workerStore interface {
	watcher.Repository
	alerts.Repository
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (store workerStore, closeFn func(), err error)
	newProducer    func(cfg *config.Config) watcher.Producer
	newRateLimiter func(cfg *config.Config) watcher.RateLimiter
	newRegistry    func(cfg *config.Config) *extract.Registry
	newDispatcher  func(cfg *config.Config) *notify.Dispatcher
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStore, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgwatch.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) watcher.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) watcher.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newRegistry: func(cfg *config.Config) *extract.Registry {
			// Порядок регистрации важен: при спорном URL выигрывает первый подошедший.
			extractors := []extract.Extractor{
				amazon.New(),
				walmart.New(),
				ebay.New(),
			}
			if cfg.PriceWatch.EnableFakeShop {
				extractors = append(extractors, fake.New())
			}
			return extract.NewRegistry(extractors...)
		},
		newDispatcher: func(cfg *config.Config) *notify.Dispatcher {
			return notify.NewDispatcher(
				emailsmtp.New(emailsmtp.Config{
					Host:     cfg.Notifiers.SMTP.Host,
					Port:     cfg.Notifiers.SMTP.Port,
					Username: cfg.Notifiers.SMTP.Username,
					Password: cfg.Notifiers.SMTP.Password,
					From:     cfg.Notifiers.SMTP.From,
				}),
				telegram.New(cfg.Notifiers.Telegram.BotToken),
				twilio.New(
					cfg.Notifiers.Twilio.AccountSID,
					cfg.Notifiers.Twilio.AuthToken,
					cfg.Notifiers.Twilio.FromNumber,
				),
			)
		},
	}
}

func RunWatchWorker(ctx context.Context, cfg *config.Config, f workerFactories, swaggerPath string, onHTTPListen func(addr string)) error {
	topic := cfg.Kafka.PriceUpdatedTopicName
	if topic == "" {
		topic = "price.updated"
	}

	sweepInterval := time.Duration(cfg.PriceWatch.WorkerSweepIntervalSeconds) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = 6 * time.Hour
	}
	recheckInterval := time.Duration(cfg.PriceWatch.WorkerRecheckIntervalSeconds) * time.Second
	if recheckInterval <= 0 {
		recheckInterval = time.Hour
	}
	concurrency := cfg.PriceWatch.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	extractTimeout := time.Duration(cfg.PriceWatch.WorkerExtractTimeoutSeconds) * time.Second
	if extractTimeout <= 0 {
		extractTimeout = 10 * time.Second
	}
	rlPerMin := int64(cfg.PriceWatch.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 30
	}
	cooldown := time.Duration(cfg.PriceWatch.AlertCooldownSeconds) * time.Second

	store, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	evaluator := alerts.New(store, f.newDispatcher(cfg), cooldown)

	w := watcher.New(store, f.newRegistry(cfg), evaluator, f.newProducer(cfg), f.newRateLimiter(cfg), topic).
		WithSettings(sweepInterval, recheckInterval, concurrency, extractTimeout, rlPerMin)

	if swaggerPath != "" {
		go func() {
			err := runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:    cfg.PriceWatch.WorkerHTTPAddr,
				swaggerPath: swaggerPath,
				onListen:    onHTTPListen,
				watcher:     w,
				cfg:         cfg,
			})
			if err != nil && err != context.Canceled {
				slog.Error("worker http server", "error", err.Error())
			}
		}()
	}

	return w.Run(ctx)
}
