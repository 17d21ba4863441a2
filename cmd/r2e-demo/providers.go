package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/go-redis/redis/v8"
	"github.com/google/wire"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/internal/demo"
	"github.com/Plawn/r2e-sub001/pkg/app"
	"github.com/Plawn/r2e-sub001/pkg/cache"
	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/events"
	"github.com/Plawn/r2e-sub001/pkg/oidc"
	"github.com/Plawn/r2e-sub001/pkg/plugins/metrics"
	"github.com/Plawn/r2e-sub001/pkg/ws"
)

// ProviderSet builds the infrastructure handed to demo.NewApplication.
var ProviderSet = wire.NewSet(
	provideConfig,
	app.LoggerFromConfig,
	demo.LoadSettings,
	provideDB,
	provideAWSConfig,
	provideCache,
	provideForwarder,
	provideBroadcaster,
	provideCloudWatch,
	provideUserStore,
	provideClientStore,
	wire.Struct(new(demo.Deps), "*"),
	demo.NewApplication,
)

func provideConfig() (*config.Store, error) {
	return config.Load(config.Options{Dir: os.Getenv("R2E_CONFIG_DIR"), ExportDotenv: true})
}

func provideDB(settings demo.Settings) (*sqlx.DB, error) {
	if settings.DatabaseURL == "" {
		return nil, errors.New("demo.database_url is required")
	}
	db, err := sqlx.Open("postgres", settings.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func provideAWSConfig(ctx context.Context, settings demo.Settings) (aws.Config, error) {
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(loadCtx, awsconfig.WithRegion(settings.AWSRegion))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

func provideCache(settings demo.Settings, awsCfg aws.Config) (cache.Store, error) {
	switch settings.CacheBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
		return cache.NewRedisStore(client, "r2e-demo:", settings.CacheTTL), nil
	case "dynamodb":
		return cache.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), settings.DynamoTable, settings.CacheTTL), nil
	default:
		return cache.NewMemoryStore(cache.WithDefaultTTL(settings.CacheTTL), cache.WithMaxItems(10000)), nil
	}
}

func provideForwarder(settings demo.Settings, awsCfg aws.Config, logger *zap.Logger) *events.EventBridgeForwarder {
	if settings.EventBusName == "" {
		return nil
	}
	return events.NewEventBridgeForwarder(awseventbridge.NewFromConfig(awsCfg), settings.EventBusName, "r2e.demo", logger)
}

func provideBroadcaster(settings demo.Settings, awsCfg aws.Config, logger *zap.Logger) ws.Broadcaster {
	if settings.ConnectionsTable == "" || settings.WebSocketEndpoint == "" {
		return nil
	}
	return ws.NewGateway(
		awsdynamodb.NewFromConfig(awsCfg),
		ws.NewPostClient(awsCfg, settings.WebSocketEndpoint),
		settings.ConnectionsTable,
		nil,
		logger,
	)
}

// provideCloudWatch pushes request metrics when running as a Lambda
// function, where /metrics is never scraped.
func provideCloudWatch(awsCfg aws.Config, logger *zap.Logger) *metrics.CloudWatchSink {
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") == "" {
		return nil
	}
	return metrics.NewCloudWatchSink(awscloudwatch.NewFromConfig(awsCfg), "R2E/Demo", logger)
}

func provideUserStore(settings demo.Settings) (*oidc.UserStore, error) {
	users := oidc.NewUserStore()
	if settings.AdminPassword == "" {
		return users, nil
	}
	err := users.Add(oidc.User{Username: "admin", Subject: "admin", Roles: []string{"admin"}}, settings.AdminPassword)
	return users, err
}

func provideClientStore(settings demo.Settings) (*oidc.ClientStore, error) {
	clients := oidc.NewClientStore()
	if settings.ReportingSecret == "" {
		return clients, nil
	}
	return clients, clients.Add("reporting", settings.ReportingSecret, "reporting")
}
