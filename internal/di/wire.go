//go:build wireinject
// +build wireinject

package di

import (
	"FuseGate/pkg/config"
	"FuseGate/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Journal backends
		ProvideDecisionStorage,
		ProvideDecisionPublisher,

		// Reference data
		ProvideReferenceStore,
		ProvideReferenceSource,
		ProvideReferenceCache,

		// Core engines
		ProvideFusionEngine,
		ProvideSignalAdvisor,
		ProvideGate,

		// Use cases
		ProvideDecisionProcessor,
		ProvideFusionPipeline,
		ProvideSamplePipeline,
		ProvideSampleStream,
		ProvideSampleCollector,
		ProvideKafkaSamplesHandler,

		// Operator surface and application server
		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
