package di

import (
	"context"
	"fmt"

	"github.com/turfgrid/turfgrid/internal/broker"
	"github.com/turfgrid/turfgrid/internal/gateway"
	"github.com/turfgrid/turfgrid/internal/metrics"
	"github.com/turfgrid/turfgrid/internal/repository"
	"github.com/turfgrid/turfgrid/internal/service"
	"github.com/turfgrid/turfgrid/internal/worker"
	"github.com/turfgrid/turfgrid/pkg/config"
	"github.com/turfgrid/turfgrid/pkg/database"
	"github.com/turfgrid/turfgrid/pkg/kafka"
	"github.com/turfgrid/turfgrid/pkg/logger"
	"github.com/turfgrid/turfgrid/pkg/redis"
	"go.uber.org/zap"
)

// Container wires the application's explicit dependency graph. Every
// component is an instance created here; nothing hides in package state.
type Container struct {
	Config        *config.Config
	DB            *database.PostgresDB
	Redis         *redis.Client
	KafkaProducer *kafka.Producer
	Metrics       *metrics.Metrics

	Reservations    repository.ReservationRepository
	SlotStore       repository.SlotStore
	Blocks          repository.BlockRepository
	Facilities      repository.FacilityRepository
	Reconciliation  repository.ReconciliationRepository
	PaymentContexts repository.PaymentContextRepository
	ChangeFeed      *repository.RedisChangeFeed

	Ops          service.EventPublisher
	Coordinator  service.ReservationCoordinator
	Ingester     service.ConfirmationIngester
	Availability service.AvailabilityService
	BlockSvc     service.BlockService

	Scheduler *worker.ExpirationScheduler
	Broker    *broker.SubscriptionBroker
	Gateway   *gateway.Gateway
}

// New builds the full dependency graph
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{Config: cfg}

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		MaxRetries:      3,
		EnableTracing:   cfg.OTel.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to slot store: %w", err)
	}
	c.DB = db

	redisClient, err := redis.NewClient(ctx, &redis.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   3,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	c.Redis = redisClient

	m, err := metrics.New()
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	c.Metrics = m

	// Ops event stream is optional
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			c.Close(ctx)
			return nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		c.KafkaProducer = producer
		c.Ops = service.NewKafkaEventPublisher(producer, cfg.Kafka.Topic)
	} else {
		c.Ops = service.NewNoOpEventPublisher()
	}

	pool := db.Pool()
	c.Reservations = repository.NewPostgresReservationRepository(pool)
	c.SlotStore = repository.NewPostgresSlotStore(pool)
	c.Blocks = repository.NewPostgresBlockRepository(pool)
	c.Facilities = repository.NewPostgresFacilityRepository(pool)
	c.Reconciliation = repository.NewPostgresReconciliationRepository(pool)
	c.PaymentContexts = repository.NewRedisPaymentContextRepository(redisClient, cfg.Reservation.PendingTTL)
	c.ChangeFeed = repository.NewRedisChangeFeed(redisClient)

	c.Coordinator = service.NewReservationCoordinator(
		c.Reservations,
		c.SlotStore,
		c.Facilities,
		c.Blocks,
		c.PaymentContexts,
		c.ChangeFeed,
		c.Ops,
		c.Metrics,
		cfg.Reservation.PendingTTL,
	)
	c.Ingester = service.NewConfirmationIngester(
		c.Coordinator,
		c.Reservations,
		c.PaymentContexts,
		c.Reconciliation,
		c.Ops,
		c.Metrics,
		cfg.Webhook.Secret,
		cfg.Webhook.MaxClockSkew,
	)
	c.Availability = service.NewAvailabilityService(c.Facilities, c.Reservations, c.Blocks)
	c.BlockSvc = service.NewBlockService(c.Blocks, c.Facilities, c.ChangeFeed)

	c.Scheduler = worker.NewExpirationScheduler(
		c.Reservations,
		c.ChangeFeed,
		c.Ops,
		c.Metrics,
		cfg.Reservation.SweepInterval,
		cfg.Reservation.SweepBatch,
	)
	c.Coordinator.SetDeadlineTracker(c.Scheduler)

	c.Broker = broker.NewSubscriptionBroker(
		c.ChangeFeed,
		c.Availability,
		c.Metrics,
		cfg.Broadcast.MinInterval,
	)
	c.Gateway = gateway.New(
		c.Broker,
		gateway.NewJWTVerifier(cfg.JWT.Secret, cfg.JWT.Issuer),
		c.Metrics,
		cfg.Broadcast.HeartbeatInterval,
		cfg.Broadcast.HeartbeatTimeout,
	)

	return c, nil
}

// Close releases all container resources
func (c *Container) Close(ctx context.Context) {
	log := logger.Get()

	if c.Gateway != nil {
		c.Gateway.Shutdown(ctx)
	}
	if c.Broker != nil {
		c.Broker.Stop()
	}
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.KafkaProducer != nil {
		c.KafkaProducer.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
