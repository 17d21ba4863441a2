// Command r2e-ws-gateway handles the $connect and $disconnect routes of
// the demo's API Gateway WebSocket API, recording connections for the
// broadcaster used by r2e-demo.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/internal/demo"
	"github.com/Plawn/r2e-sub001/pkg/app"
	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/identity"
	"github.com/Plawn/r2e-sub001/pkg/ws"
)

// JWKSKey holds the identity.JWKSConfig used to authenticate connections.
// Connections are anonymous when no URL is configured.
const JWKSKey = "r2e.jwks"

func main() {
	ctx := context.Background()

	store, err := config.Load(config.Options{Dir: os.Getenv("R2E_CONFIG_DIR")})
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := app.LoggerFromConfig(store)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	settings, err := demo.LoadSettings(store)
	if err != nil {
		logger.Fatal("Invalid settings", zap.Error(err))
	}
	if settings.ConnectionsTable == "" {
		logger.Fatal("demo.connections_table is required")
	}

	jwks, err := config.GetOr(store, JWKSKey, identity.JWKSConfig{})
	if err != nil {
		logger.Fatal("Invalid JWKS configuration", zap.Error(err))
	}
	var validator identity.ClaimsValidator
	if jwks.URL != "" {
		validator = identity.NewJWKSValidator(jwks, &http.Client{Timeout: 5 * time.Second}, logger)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(settings.AWSRegion))
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}

	gateway := ws.NewGateway(
		dynamodb.NewFromConfig(awsCfg),
		ws.NewPostClient(awsCfg, settings.WebSocketEndpoint),
		settings.ConnectionsTable,
		validator,
		logger,
	)
	logger.Info("WebSocket gateway handler initialized", zap.String("table", settings.ConnectionsTable))
	lambda.Start(gateway.HandleRequest)
}
