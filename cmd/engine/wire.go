//go:build wireinject
// +build wireinject

package main

//go:generate go run -mod=mod github.com/google/wire/cmd/wire

import (
	"github.com/google/wire"
	"github.com/jobs/integration-engine/internal/adapter"
	"github.com/jobs/integration-engine/internal/api"
	"github.com/jobs/integration-engine/internal/biz/execution"
	bizhealth "github.com/jobs/integration-engine/internal/biz/health"
	"github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/internal/credential"
	"github.com/jobs/integration-engine/internal/engine"
	"github.com/jobs/integration-engine/internal/eventbus"
	"github.com/jobs/integration-engine/internal/health"
	"github.com/jobs/integration-engine/internal/queue"
	"github.com/jobs/integration-engine/internal/scheduler"
	"github.com/jobs/integration-engine/pkg/config"
	"go.uber.org/zap"
)

func InitializeApp(cfg config.Config, logger *zap.Logger) (*App, func(), error) {
	wire.Build(
		NewApp,

		ProvideRepos,
		wire.FieldsOf(new(*Repos), "Applications", "Installations", "Secrets", "Schedules", "Runs", "Healths", "Instances"),
		wire.FieldsOf(new(config.Config), "Adapters"),
		ProvideRedisClient,
		ProvideHTTPClient,
		ProvideQueue,
		ProvideLocker,
		ProvideLeader,
		ProvidePool,
		ProvidePinger,
		ProvideCredentialStore,

		wire.Bind(new(engine.CredentialSource), new(*credential.Store)),
		wire.Bind(new(engine.Invoker), new(*adapter.Registry)),
		wire.Bind(new(health.CredentialSource), new(*credential.Store)),
		wire.Bind(new(health.Prober), new(*adapter.Registry)),
		wire.Bind(new(eventbus.Canceller), new(*engine.Engine)),
		wire.Bind(new(eventbus.Invalidator), new(*health.Monitor)),
		wire.Bind(new(scheduler.HealthSource), new(bizhealth.Repo)),
		wire.Bind(new(scheduler.Enqueuer), new(queue.Queue)),
		wire.Bind(new(installation.SecretWriter), new(*credential.Store)),
		wire.Bind(new(installation.JobQueue), new(queue.Queue)),
		wire.Bind(new(api.HealthReader), new(*health.Monitor)),
		wire.Bind(new(api.CredentialWriter), new(*credential.Store)),
		wire.Bind(new(api.StatsSource), new(*engine.Engine)),

		// http api providers
		api.Provider,

		// other
		adapter.Provider,
		engine.Provider,
		health.Provider,
		eventbus.Provider,
		scheduler.Provider,

		// biz providers
		installation.Provider,
		execution.Provider,
	)
	return nil, nil, nil
}
