package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/identity"
)

// ConnectionsAPI is the DynamoDB subset used to track gateway connections.
type ConnectionsAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	dynamodb.ScanAPIClient
}

// PostAPI writes frames to API Gateway WebSocket connections.
type PostAPI interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

var (
	_ ConnectionsAPI = (*dynamodb.Client)(nil)
	_ PostAPI        = (*apigatewaymanagementapi.Client)(nil)
)

// NewPostClient targets the management endpoint of a deployed WebSocket
// API, e.g. "abc123.execute-api.us-east-1.amazonaws.com/prod".
func NewPostClient(cfg aws.Config, endpoint string) *apigatewaymanagementapi.Client {
	return apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String("https://" + endpoint)
	})
}

type connectionItem struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	ConnectionID string `dynamodbav:"ConnectionID"`
	Topic        string `dynamodbav:"Topic"`
	UserID       string `dynamodbav:"UserID,omitempty"`
	ConnectedAt  int64  `dynamodbav:"ConnectedAt"`
	ExpiresAt    int64  `dynamodbav:"ExpiresAt,omitempty"`
}

func connectionKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "CONNECTION#" + id},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

// Gateway broadcasts through API Gateway WebSocket connections. Sockets
// are held by API Gateway, so it works when the application runs as a
// Lambda function where an in-process Hub cannot keep connections open.
// Connections are registered in a DynamoDB table by HandleRequest.
type Gateway struct {
	db        ConnectionsAPI
	api       PostAPI
	table     string
	validator identity.ClaimsValidator
	// ConnectionTTL bounds how long an abandoned connection row lives.
	ConnectionTTL time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewGateway creates a broadcaster over the connections table. A nil
// validator accepts anonymous connections.
func NewGateway(db ConnectionsAPI, api PostAPI, table string, validator identity.ClaimsValidator, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		db:            db,
		api:           api,
		table:         table,
		validator:     validator,
		ConnectionTTL: 2 * time.Hour,
		logger:        logger,
		now:           time.Now,
	}
}

// Connect records a connection subscribed to topic.
func (g *Gateway) Connect(ctx context.Context, connectionID, topic, userID string) error {
	now := g.now()
	item := connectionItem{
		PK:           "CONNECTION#" + connectionID,
		SK:           "METADATA",
		ConnectionID: connectionID,
		Topic:        topic,
		UserID:       userID,
		ConnectedAt:  now.Unix(),
	}
	if g.ConnectionTTL > 0 {
		item.ExpiresAt = now.Add(g.ConnectionTTL).Unix()
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal connection: %w", err)
	}
	if _, err := g.db.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(g.table), Item: av}); err != nil {
		return fmt.Errorf("failed to store connection %s: %w", connectionID, err)
	}
	return nil
}

// Disconnect forgets a connection.
func (g *Gateway) Disconnect(ctx context.Context, connectionID string) error {
	if _, err := g.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(g.table),
		Key:       connectionKey(connectionID),
	}); err != nil {
		return fmt.Errorf("failed to remove connection %s: %w", connectionID, err)
	}
	return nil
}

// Connections lists the connection ids subscribed to topic.
func (g *Gateway) Connections(ctx context.Context, topic string) ([]string, error) {
	expr, err := expression.NewBuilder().
		WithFilter(expression.Name("Topic").Equal(expression.Value(topic))).
		WithProjection(expression.NamesList(expression.Name("ConnectionID"))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build connection filter: %w", err)
	}

	paginator := dynamodb.NewScanPaginator(g.db, &dynamodb.ScanInput{
		TableName:                 aws.String(g.table),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var ids []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connections: %w", err)
		}
		for _, item := range page.Items {
			if id, ok := item["ConnectionID"].(*types.AttributeValueMemberS); ok {
				ids = append(ids, id.Value)
			}
		}
	}
	return ids, nil
}

// Broadcast posts payload to every connection on topic. Connections API
// Gateway reports as gone are removed; other failures are aggregated.
func (g *Gateway) Broadcast(ctx context.Context, topic string, payload interface{}) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	frame, err := json.Marshal(Message{Topic: topic, Type: TypeEvent, Data: data, Timestamp: g.now().Unix()})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ids, err := g.Connections(ctx, topic)
	if err != nil {
		return err
	}

	failures := apperrors.NewCollector("broadcast to " + topic)
	sent := 0
	for _, id := range ids {
		_, err := g.api.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
			ConnectionId: aws.String(id),
			Data:         frame,
		})
		var gone *apigwtypes.GoneException
		switch {
		case err == nil:
			sent++
		case errors.As(err, &gone):
			g.logger.Debug("Removing stale connection", zap.String("connection_id", id))
			failures.Add(g.Disconnect(ctx, id))
		default:
			failures.Add(fmt.Errorf("connection %s: %w", id, err))
		}
	}

	g.logger.Debug("Gateway broadcast complete",
		zap.String("topic", topic),
		zap.Int("connections", len(ids)),
		zap.Int("sent", sent),
	)
	return failures.Err()
}

// HandleRequest serves the $connect and $disconnect routes of an API
// Gateway WebSocket API. $connect expects ?topic= and, when a validator is
// configured, ?token=.
func (g *Gateway) HandleRequest(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := req.RequestContext.ConnectionID

	switch req.RequestContext.RouteKey {
	case "$connect":
		topic := req.QueryStringParameters[TopicParam]
		if topic == "" {
			return gatewayResponse(http.StatusBadRequest, "Missing topic"), nil
		}
		var userID string
		if g.validator != nil {
			token := req.QueryStringParameters["token"]
			if token == "" {
				return gatewayResponse(http.StatusUnauthorized, "Missing token"), nil
			}
			id, err := g.validator.Validate(ctx, token)
			if err != nil {
				g.logger.Debug("Rejected gateway connection", zap.String("connection_id", connectionID), zap.Error(err))
				return gatewayResponse(http.StatusUnauthorized, "Invalid token"), nil
			}
			userID = id.Sub()
		}
		if err := g.Connect(ctx, connectionID, topic, userID); err != nil {
			g.logger.Error("Failed to register connection", zap.String("connection_id", connectionID), zap.Error(err))
			return gatewayResponse(http.StatusInternalServerError, "Failed to connect"), nil
		}
		return gatewayResponse(http.StatusOK, "Connected"), nil

	case "$disconnect":
		if err := g.Disconnect(ctx, connectionID); err != nil {
			g.logger.Warn("Failed to remove connection", zap.String("connection_id", connectionID), zap.Error(err))
		}
		return gatewayResponse(http.StatusOK, "Disconnected"), nil

	default:
		return gatewayResponse(http.StatusOK, "Ignored"), nil
	}
}

func gatewayResponse(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: status, Body: body}
}
