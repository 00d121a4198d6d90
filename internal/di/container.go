package di

import (
	"context"
	"fmt"
	"time"

	"github.com/waitroomlab/waitroom/internal/repository"
	"github.com/waitroomlab/waitroom/internal/service"
	"github.com/waitroomlab/waitroom/pkg/clock"
	"github.com/waitroomlab/waitroom/pkg/config"
	"github.com/waitroomlab/waitroom/pkg/database"
	"github.com/waitroomlab/waitroom/pkg/kafka"
	"github.com/waitroomlab/waitroom/pkg/logger"
	"github.com/waitroomlab/waitroom/pkg/redis"
	"github.com/waitroomlab/waitroom/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

// Container wires the application dependency graph. Both the API
// process and the queue worker build the same graph and pick the
// pieces they need.
type Container struct {
	Config    *config.Config
	Log       *logger.Logger
	Telemetry *telemetry.Telemetry

	DB       *database.PostgresDB
	Redis    *redis.Client
	Producer *kafka.Producer

	SessionRepo repository.SessionRepository
	QueueRepo   repository.QueueRepository

	Clock     clock.Clock
	Passes    *service.AccessPassService
	Publisher service.EventPublisher
	Admission *service.AdmissionService
	Sessions  *service.SessionService
	Admin     *service.QueueAdminService
}

// NewContainer builds the dependency graph for the given service name
func NewContainer(ctx context.Context, cfg *config.Config, serviceName string) (*Container, error) {
	c := &Container{Config: cfg, Clock: clock.Real{}}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.Log = logger.Get()

	tel, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	c.Telemetry = tel

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		MaxRetries:      3,
		EnableTracing:   cfg.OTel.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
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
		c.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	c.Redis = redisClient

	queueRepo := repository.NewPostgresQueueRepository(db)
	if err := queueRepo.EnsureSchema(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.QueueRepo = queueRepo
	c.SessionRepo = repository.NewRedisSessionRepository(redisClient)

	if hasBrokers(cfg.Kafka.Brokers) {
		producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
			Brokers:       cfg.Kafka.Brokers,
			ClientID:      cfg.Kafka.ClientID,
			MaxRetries:    3,
			RetryInterval: kafka.DefaultProducerConfig().RetryInterval,
			BatchSize:     kafka.DefaultProducerConfig().BatchSize,
			LingerMs:      kafka.DefaultProducerConfig().LingerMs,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect to kafka: %w", err)
		}
		c.Producer = producer
		c.Publisher = service.NewKafkaEventPublisher(producer, cfg.Kafka.Topic, serviceName, c.Log)
	} else {
		c.Log.Warn("No Kafka brokers configured, session events are disabled")
		c.Publisher = service.NewNoOpEventPublisher()
	}

	c.Passes = service.NewAccessPassService(service.AccessPassConfig{
		Secret: []byte(cfg.JWT.Secret),
		Issuer: cfg.JWT.Issuer,
		TTL:    cfg.Engine.SessionRetention,
	}, c.SessionRepo, c.Clock)

	c.Admission = service.NewAdmissionService(
		c.SessionRepo, c.QueueRepo, c.Passes, c.Publisher, c.Clock,
		service.AdmissionConfig{
			SessionRetention:     cfg.Engine.SessionRetention,
			EstimatedWaitPerUser: cfg.Engine.EstimatedWaitPerUser,
		}, c.Log,
	)
	c.Sessions = service.NewSessionService(c.SessionRepo, c.Passes, c.Publisher, c.Clock, cfg.Engine.SessionRetention, c.Log)
	c.Admin = service.NewQueueAdminService(c.QueueRepo, c.SessionRepo, c.Admission, c.Clock, c.Log)

	return c, nil
}

func hasBrokers(brokers []string) bool {
	for _, b := range brokers {
		if b != "" {
			return true
		}
	}
	return false
}

// Close tears down connections in reverse dependency order
func (c *Container) Close() {
	if c.Publisher != nil {
		_ = c.Publisher.Close()
	} else if c.Producer != nil {
		c.Producer.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
	if c.Telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = telemetry.Shutdown(ctx)
	}
	logger.Sync()
}
