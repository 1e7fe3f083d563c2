//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"payment-service/internal/biz"
	"payment-service/internal/conf"
	"payment-service/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireJobs init cron job dependencies.
func wireJobs(*conf.Bootstrap, log.Logger) (*Jobs, func(), error) {
	panic(wire.Build(data.ProviderSet, biz.ProviderSet, newJobs))
}
