package app

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// LambdaHandler adapts the application to API Gateway HTTP API (v2)
// events. The application is started on the first invocation.
func (a *App) LambdaHandler() func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	mux := chi.NewRouter()
	mux.Mount("/", a.handler)
	adapter := chiadapter.NewV2(mux)

	return func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		if err := a.Start(ctx); err != nil {
			return events.APIGatewayV2HTTPResponse{StatusCode: 500}, err
		}
		resp, err := adapter.ProxyWithContextV2(ctx, req)
		if err != nil {
			a.logger.Error("Lambda proxy failed",
				zap.String("path", req.RequestContext.HTTP.Path),
				zap.String("request_id", req.RequestContext.RequestID),
				zap.Error(err))
			return resp, err
		}
		if resp.Headers == nil {
			resp.Headers = make(map[string]string)
		}
		if req.RequestContext.RequestID != "" {
			resp.Headers["X-Lambda-Request-ID"] = req.RequestContext.RequestID
		}
		return resp, nil
	}
}

// ServeLambda hands the application to the Lambda runtime. It does not
// return.
func ServeLambda(a *App) {
	lambda.Start(a.LambdaHandler())
}
