//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"github.com/Plawn/r2e-sub001/pkg/app"
)

func initializeApp(ctx context.Context) (*app.App, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
