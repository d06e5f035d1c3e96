package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
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
	"github.com/BearBump/PriceWatch/internal/services/products"
	"github.com/BearBump/PriceWatch/internal/storage/pgwatch"
)

type watchAPIApp struct {
	ctx        context.Context
	cancel     context.CancelFunc
	opts       watchAPIOpts
	products   *products.Service
	alerts     *alerts.Service
	dispatcher *notify.Dispatcher
	consumer   *kafka.Consumer
	closeDB    func()
}

func mustBootstrapWatchAPI() *watchAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.PriceWatch.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.PriceWatch.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "watch-api"
	}
	topic := cfg.Kafka.PriceUpdatedTopicName
	if topic == "" {
		topic = "price.updated"
	}
	cacheTTL := time.Duration(cfg.PriceWatch.LatestPriceTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	cooldown := time.Duration(cfg.PriceWatch.AlertCooldownSeconds) * time.Second

	st := mustOpenPostgresWithRetry(postgresConnString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	registry := buildExtractorRegistry(cfg)
	dispatcher := buildDispatcher(cfg)

	alertsSvc := alerts.New(st, dispatcher, cooldown)
	productsSvc := products.New(st, registry, rc, cacheTTL).
		WithProducer(producer, topic).
		WithEvaluator(alertsSvc)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &watchAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: watchAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		products:   productsSvc,
		alerts:     alertsSvc,
		dispatcher: dispatcher,
		consumer:   consumer,
		closeDB:    st.Close,
	}
}

func postgresConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgwatch.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgwatch.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

// buildExtractorRegistry собирает плагины источников. Порядок регистрации
// важен: при спорном URL выигрывает первый подошедший.
func buildExtractorRegistry(cfg *config.Config) *extract.Registry {
	extractors := []extract.Extractor{
		amazon.New(),
		walmart.New(),
		ebay.New(),
	}
	if cfg.PriceWatch.EnableFakeShop {
		extractors = append(extractors, fake.New())
	}
	return extract.NewRegistry(extractors...)
}

func buildDispatcher(cfg *config.Config) *notify.Dispatcher {
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
}

func (a *watchAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *watchAPIApp) Run() error {
	return runWatchAPI(a.ctx, a.opts, a.products, a.alerts, a.dispatcher, a.consumer)
}
