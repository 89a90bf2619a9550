package config

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/orderstack/fulfillment-system/fulfillment-service/application"
	"github.com/orderstack/fulfillment-system/fulfillment-service/domain"
	"github.com/orderstack/fulfillment-system/fulfillment-service/handlers"
	"github.com/orderstack/fulfillment-system/fulfillment-service/infrastructure"
	"github.com/orderstack/fulfillment-system/shared/discovery"
	sharedinfra "github.com/orderstack/fulfillment-system/shared/infrastructure"
	"github.com/orderstack/fulfillment-system/shared/resilience"
	"github.com/orderstack/fulfillment-system/shared/saga"
	"github.com/orderstack/fulfillment-system/shared/telemetry"
)

type Dependencies struct {
	// Database
	DB *sqlx.DB

	// Redis (service discovery backend)
	RedisClient *redis.Client

	// Saga machinery
	SagaStore    saga.Store
	EventStore   *sharedinfra.PostgresEventStore
	Orchestrator *saga.Orchestrator
	Executor     *resilience.Executor
	Registry     discovery.Registry
	Resolver     *discovery.Resolver

	// Use Cases
	StartFulfillment      *application.StartFulfillment
	AdvanceFulfillment    *application.AdvanceFulfillment
	CompensateFulfillment *application.CompensateFulfillment
	RetryFulfillment      *application.RetryFulfillment
	GetFulfillment        *application.GetFulfillment
	ListFulfillmentEvents *application.ListFulfillmentEvents

	// HTTP Handlers
	FulfillmentHandlers *handlers.FulfillmentHandlers

	// Event Handlers
	FulfillmentEventHandlers *handlers.FulfillmentEventHandlers

	// Infrastructure
	EventPublisher  *sharedinfra.SNSPublisherAdapter
	EventSubscriber *sharedinfra.SQSSubscriberAdapter

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func()
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize telemetry first
	if config.Telemetry.Enabled {
		telConfig := telemetry.FulfillmentServiceConfig.WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)
		tel, telemetryShutdown, err := telemetry.InitTelemetry(ctx, telConfig)
		if err != nil {
			log.Printf("Failed to initialize telemetry: %v", err)
			// Continue without telemetry rather than failing
		} else {
			deps.Telemetry = tel
			deps.TelemetryShutdown = telemetryShutdown
		}
	}

	// Initialize database
	db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	deps.DB = db

	// Initialize AWS infrastructure
	awsCfg := sharedinfra.AWSClientConfig{
		Region:      config.AWS.Region,
		EndpointSNS: config.AWS.EndpointSNS,
		EndpointSQS: config.AWS.EndpointSQS,
	}
	eventPublisher, err := sharedinfra.NewSNSPublisherAdapter(awsCfg, config.AWS.SNSTopicArn)
	if err != nil {
		return nil, fmt.Errorf("failed to create SNS publisher: %w", err)
	}
	deps.EventPublisher = eventPublisher

	eventSubscriber, err := sharedinfra.NewSQSSubscriberAdapter(awsCfg, config.AWS.SQSQueueURL,
		sharedinfra.WithWorkers(config.AWS.SQSWorkers),
		sharedinfra.WithVisibilityTimeout(config.AWS.SQSVisibility),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQS subscriber: %w", err)
	}
	deps.EventSubscriber = eventSubscriber

	// Initialize service discovery
	deps.RedisClient = redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	deps.Registry = discovery.NewRedisRegistry(deps.RedisClient)
	deps.Resolver = discovery.NewResolver(deps.Registry, nil)

	// Initialize saga machinery
	deps.SagaStore = sharedinfra.NewPostgresSagaStore(db)
	deps.EventStore = sharedinfra.NewPostgresEventStore(db)
	deps.Executor = resilience.NewExecutor(
		resilience.BreakerConfig{
			FailureThreshold: config.Resilience.BreakerFailureThreshold,
			OpenTimeout:      config.Resilience.BreakerOpenTimeout,
			RetryTimeout:     config.Resilience.BreakerRetryTimeout,
		},
		resilience.RetryConfig{
			MaxRetries:        config.Resilience.RetryMaxRetries,
			BaseDelay:         config.Resilience.RetryBaseDelay,
			MaxDelay:          config.Resilience.RetryMaxDelay,
			BackoffMultiplier: config.Resilience.RetryBackoffMultiplier,
			JitterFactor:      config.Resilience.RetryJitterFactor,
		},
	)

	serviceClient := infrastructure.NewHTTPServiceClient(deps.Resolver, nil)
	definition, err := domain.NewFulfillmentDefinition(serviceClient)
	if err != nil {
		return nil, fmt.Errorf("failed to build fulfillment definition: %w", err)
	}

	deps.Orchestrator = saga.NewOrchestrator(
		definition,
		deps.SagaStore,
		deps.Executor,
		saga.WithPublisher(eventPublisher),
		saga.WithMaxRetries(config.Saga.MaxRetries),
	)

	// Initialize use cases
	deps.StartFulfillment = application.NewStartFulfillment(deps.Orchestrator)
	deps.AdvanceFulfillment = application.NewAdvanceFulfillment(
		deps.Orchestrator,
		application.WithNotificationPublisher(eventPublisher),
	)
	deps.CompensateFulfillment = application.NewCompensateFulfillment(deps.Orchestrator)
	deps.RetryFulfillment = application.NewRetryFulfillment(deps.SagaStore)
	deps.GetFulfillment = application.NewGetFulfillment(deps.Orchestrator)
	deps.ListFulfillmentEvents = application.NewListFulfillmentEvents(deps.EventStore)

	// Initialize handlers
	deps.FulfillmentHandlers = handlers.NewFulfillmentHandlers(
		deps.StartFulfillment,
		deps.AdvanceFulfillment,
		deps.CompensateFulfillment,
		deps.RetryFulfillment,
		deps.GetFulfillment,
		deps.ListFulfillmentEvents,
	)
	deps.FulfillmentEventHandlers = handlers.NewFulfillmentEventHandlers(
		deps.StartFulfillment,
		deps.AdvanceFulfillment,
		deps.CompensateFulfillment,
		deps.RetryFulfillment,
		deps.EventStore,
	)

	return deps, nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.RedisClient != nil {
		if err := d.RedisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}

	if d.EventPublisher != nil {
		if err := d.EventPublisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event publisher: %w", err))
		}
	}

	if d.EventSubscriber != nil {
		if err := d.EventSubscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event subscriber: %w", err))
		}
	}

	if d.TelemetryShutdown != nil {
		d.TelemetryShutdown()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
