// Command r2e-demo serves the demo user directory over HTTP, or as an AWS
// Lambda function when started by the Lambda runtime.
package main

import (
	"context"
	"log"
	"os"

	"github.com/Plawn/r2e-sub001/pkg/app"
)

func main() {
	ctx := context.Background()

	a, err := initializeApp(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		if err := a.Start(ctx); err != nil {
			log.Fatalf("Failed to start application: %v", err)
		}
		app.ServeLambda(a)
		return
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("Server stopped with error: %v", err)
	}
}
