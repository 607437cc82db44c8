package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BearBump/ShipLedger/config"
	shipmentsapi "github.com/BearBump/ShipLedger/internal/api/shipments_api"
	"github.com/BearBump/ShipLedger/internal/auth"
	"github.com/BearBump/ShipLedger/internal/broker/kafka"
	"github.com/BearBump/ShipLedger/internal/cache"
	"github.com/BearBump/ShipLedger/internal/cache/rediscache"
	"github.com/BearBump/ShipLedger/internal/services/shipments"
	"github.com/BearBump/ShipLedger/internal/storage/memshipment"
	"github.com/BearBump/ShipLedger/internal/storage/pgshipment"
)

type shipAPIApp struct {
	opts shipAPIOpts
	api  *shipmentsapi.ShipmentsAPI

	closeFns []func()
}

func (a *shipAPIApp) close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
}

func mustBootstrapShipAPI() *shipAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.ShipLedger.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.ShipmentUpdatedTopicName
	if topic == "" {
		topic = "shipment.updated"
	}
	cacheTTL := time.Duration(cfg.ShipLedger.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	publicRate := int64(cfg.ShipLedger.PublicRateLimitPerMinute)
	if publicRate <= 0 {
		publicRate = 60
	}
	jwtTTL := time.Duration(cfg.ShipLedger.JWTTTLMinutes) * time.Minute

	app := &shipAPIApp{opts: shipAPIOpts{httpAddr: httpAddr}}

	repo, closeRepo, err := newStorage(cfg)
	if err != nil {
		panic(err)
	}
	if closeRepo != nil {
		app.closeFns = append(app.closeFns, closeRepo)
	}

	// Кэш и лимитер живут в одном редисе; при storage=memory редис не нужен.
	var bc cache.BytesCache
	var rl shipmentsapi.RateLimiter
	if cfg.Redis.Host != "" {
		redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		bc = rediscache.New(redisAddr)
		rl = rediscache.NewRateLimiter(redisAddr)
	}

	var producer shipments.Producer
	if cfg.Kafka.Host != "" {
		brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
		p := kafka.NewProducer(brokers, topic)
		app.closeFns = append(app.closeFns, func() { _ = p.Close() })
		producer = p
	}

	svc := shipments.New(repo, bc, producer, cacheTTL)
	authn := auth.New(cfg.ShipLedger.JWTSecret, jwtTTL, cfg.ShipLedger.AdminEmail, cfg.ShipLedger.AdminPasswordHash)
	app.api = shipmentsapi.New(svc, authn, rl, publicRate)

	slog.Info("ship-api bootstrapped", "storage", storageKind(cfg), "topic", topic)
	return app
}

func newStorage(cfg *config.Config) (shipments.Repository, func(), error) {
	if storageKind(cfg) == "memory" {
		return memshipment.New(), nil, nil
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)

	// Postgres в compose поднимается дольше нас, ждём его.
	var st *pgshipment.Storage
	var err error
	for attempt := 1; attempt <= pgConnectAttempts; attempt++ {
		st, err = pgshipment.New(connString)
		if err == nil {
			return st, st.Close, nil
		}
		slog.Warn("postgres not ready", "attempt", attempt, "err", err)
		time.Sleep(pgConnectBackoff)
	}
	return nil, nil, err
}

const (
	pgConnectAttempts = 10
	pgConnectBackoff  = 2 * time.Second
)

func storageKind(cfg *config.Config) string {
	if cfg.ShipLedger.Storage == "memory" {
		return "memory"
	}
	return "postgres"
}
