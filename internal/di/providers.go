package di

import (
	"context"
	"fmt"
	"time"

	"FuseGate/internal/domain/repository"
	dservice "FuseGate/internal/domain/service"
	"FuseGate/internal/fusion"
	"FuseGate/internal/gate"
	"FuseGate/internal/handler/api"
	"FuseGate/internal/indicator"
	mid "FuseGate/internal/middleware"
	internalrepo "FuseGate/internal/repository"
	"FuseGate/internal/service/feed"
	"FuseGate/internal/service/inference"
	"FuseGate/internal/service/refdata"
	"FuseGate/internal/usecase"
	"FuseGate/pkg/cache"
	pkgch "FuseGate/pkg/clickhouse"
	"FuseGate/pkg/config"
	xhttp "FuseGate/pkg/http"
	pkgkafka "FuseGate/pkg/kafka"
	applogger "FuseGate/pkg/logger"
	"FuseGate/pkg/metrics"
	"FuseGate/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	format := "json"
	if cfg.Environment == "development" || cfg.Environment == "test" {
		format = "console"
	}
	return applogger.New(&applogger.Config{Level: "info", Format: format, Output: "stdout"})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client when the journal runs
// on ClickHouse; nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Journal.Backend != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	// Initialize schema
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	table := cfg.Journal.Table
	if table == "" {
		table = "decisions"
	}
	if err := client.InitSchema(ctx, []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", cfg.ClickHouse.Database),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (signal_id String, instrument String, direction String, confidence Float64, rationale String, local_price Float64, rsi Float64, outcome String, resolved_at DateTime) ENGINE=MergeTree ORDER BY (instrument, resolved_at)", cfg.ClickHouse.Database, table),
	}); err != nil {
		_ = client.Close() // cannot log here (DI layer no logger); propagate error
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer when the journal streams to
// Kafka; nil otherwise.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Journal.Backend != "kafka" {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates a Kafka consumer when the sample feed runs
// over Kafka; nil otherwise.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if cfg.Feed.Source != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NoopHook{})
	return consumer, nil
}

// ProvideDecisionStorage creates the ClickHouse decision journal.
func ProvideDecisionStorage(chClient *pkgch.Client, cfg *config.Config) repository.DecisionStorage {
	if chClient == nil {
		return nil
	}
	table := cfg.Journal.Table
	if table == "" {
		table = "decisions"
	}
	return internalrepo.NewClickHouseJournal(chClient.DB(), cfg.ClickHouse.Database+"."+table)
}

// ProvideDecisionPublisher creates the Kafka decision publisher.
func ProvideDecisionPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.DecisionPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaDecisionPublisher(producer, cfg.Journal.Topic)
}

// ProvideReferenceStore creates the restart-surviving reference series
// store: layered memory+Redis when Redis is enabled, in-process otherwise.
func ProvideReferenceStore(cfg *config.Config) (cache.Service, error) {
	if !cfg.Reference.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	redisCache, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Reference.Redis.Addr),
		cache.WithRedisPassword(cfg.Reference.Redis.Password),
		cache.WithRedisDB(cfg.Reference.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("reference redis: %w", err)
	}
	return cache.NewLayeredCache(redisCache), nil
}

// ProvideReferenceSource creates the HTTP reference data client.
func ProvideReferenceSource(cfg *config.Config) repository.ReferenceSource {
	opts := []refdata.ClientOption{}
	if cfg.Reference.Timeout > 0 {
		opts = append(opts, refdata.WithTimeout(cfg.Reference.Timeout))
	}
	if cfg.Reference.RatePerSecond > 0 {
		opts = append(opts, refdata.WithRateLimit(cfg.Reference.RatePerSecond, cfg.Reference.RateBurst))
	}
	if cfg.Reference.Lookback > 0 {
		opts = append(opts, refdata.WithLookback(cfg.Reference.Lookback))
	}
	return refdata.NewClient(cfg.Reference.BaseURL, opts...)
}

// ProvideReferenceCache creates the single-flighted reference cache.
func ProvideReferenceCache(source repository.ReferenceSource, store cache.Service, log *applogger.Logger, cfg *config.Config) *refdata.Cache {
	opts := []refdata.CacheOption{refdata.WithStore(store)}
	if cfg.Reference.Staleness > 0 {
		opts = append(opts, refdata.WithStaleness(cfg.Reference.Staleness))
	}
	return refdata.NewCache(source, log, opts...)
}

// ProvideFusionEngine creates the snapshot fusion engine.
func ProvideFusionEngine(cfg *config.Config) *fusion.Engine {
	if cfg.Fusion.MatchThreshold > 0 && cfg.Fusion.ModerateThreshold > 0 {
		return fusion.NewEngine(fusion.WithThresholds(cfg.Fusion.MatchThreshold, cfg.Fusion.ModerateThreshold))
	}
	return fusion.NewEngine()
}

// ProvideSignalAdvisor creates the inference gateway.
func ProvideSignalAdvisor(cfg *config.Config, log *applogger.Logger) dservice.SignalAdvisor {
	opts := []inference.Option{}
	if cfg.Inference.Timeout > 0 {
		opts = append(opts, inference.WithTimeout(cfg.Inference.Timeout))
	}
	if cfg.Inference.MaxAttempts > 0 {
		opts = append(opts, inference.WithMaxAttempts(cfg.Inference.MaxAttempts))
	}
	if cfg.Inference.BackoffMin > 0 && cfg.Inference.BackoffMax > 0 {
		opts = append(opts, inference.WithBackoff(cfg.Inference.BackoffMin, cfg.Inference.BackoffMax))
	}
	return inference.NewGateway(cfg.Inference.BaseURL, log, opts...)
}

// ProvideGate creates the approval gate.
func ProvideGate(cfg *config.Config, log *applogger.Logger) *gate.Gate {
	opts := []gate.Option{}
	if cfg.Gate.TTL > 0 {
		opts = append(opts, gate.WithTTL(cfg.Gate.TTL))
	}
	return gate.New(log, opts...)
}

// ProvideDecisionProcessor creates the decision journal processor.
func ProvideDecisionProcessor(
	pub repository.DecisionPublisher,
	store repository.DecisionStorage,
	m repository.Metrics,
	log *applogger.Logger,
	cfg *config.Config,
) *usecase.DecisionProcessor {
	return usecase.NewDecisionProcessor(pub, store, m, log, cfg.Journal.Backend)
}

// ProvideFusionPipeline creates the per-sample fusion orchestrator.
func ProvideFusionPipeline(
	refCache *refdata.Cache,
	fuser *fusion.Engine,
	advisor dservice.SignalAdvisor,
	g *gate.Gate,
	m repository.Metrics,
	log *applogger.Logger,
	cfg *config.Config,
) *usecase.FusionPipeline {
	return usecase.NewFusionPipeline(refCache, fuser, advisor, g, m, log,
		usecase.WithIndicatorConfig(indicator.Config{
			RSIPeriod:       cfg.Indicators.RSIPeriod,
			EMAFastPeriod:   cfg.Indicators.EMAFastPeriod,
			EMASlowPeriod:   cfg.Indicators.EMASlowPeriod,
			BollingerWindow: cfg.Indicators.BollingerWindow,
			BollingerK:      cfg.Indicators.BollingerK,
		}),
		usecase.WithMinConfidence(cfg.Inference.MinConfidence),
	)
}

// ProvideSamplePipeline creates the feed admission pipeline.
func ProvideSamplePipeline(pipeline *usecase.FusionPipeline, m repository.Metrics, cfg *config.Config) *mid.SamplePipeline {
	opts := []mid.PipelineOption{}
	if cfg.Feed.MaxRPS > 0 {
		opts = append(opts, mid.WithMaxRPS(cfg.Feed.MaxRPS))
	}
	if cfg.Feed.BufferSize > 0 {
		opts = append(opts, mid.WithBufferSize(cfg.Feed.BufferSize))
	}
	return mid.NewSamplePipeline(pipeline, m, opts...)
}

// ProvideSampleStream creates the websocket capture feed.
func ProvideSampleStream(cfg *config.Config, log *applogger.Logger) repository.SampleStream {
	reconnect := cfg.Feed.ReconnectDelay
	if reconnect <= 0 {
		reconnect = 3 * time.Second
	}
	ping := cfg.Feed.PingInterval
	if ping <= 0 {
		ping = 20 * time.Second
	}
	return feed.NewWebsocketFeed(
		cfg.Feed.APIKey,
		cfg.Feed.WebSocketURL,
		cfg.Feed.Instruments,
		reconnect,
		ping,
		log,
	)
}

// ProvideSampleCollector creates the feed collector.
func ProvideSampleCollector(
	stream repository.SampleStream,
	pipe *mid.SamplePipeline,
	pipeline *usecase.FusionPipeline,
	m repository.Metrics,
	log *applogger.Logger,
	cfg *config.Config,
) *usecase.SampleCollector {
	opts := []usecase.CollectorOption{}
	if cfg.Feed.StagnationTimeout > 0 {
		opts = append(opts, usecase.WithStagnationTimeout(cfg.Feed.StagnationTimeout))
	}
	return usecase.NewSampleCollector(stream, pipe, pipeline, m, log, opts...)
}

// ProvideKafkaSamplesHandler registers the handler for the samples topic.
func ProvideKafkaSamplesHandler(pipe *mid.SamplePipeline, m repository.Metrics, cfg *config.Config) pkgkafka.MessageHandler {
	if cfg.Feed.Source != "kafka" {
		return nil
	}
	return usecase.NewKafkaSamplesHandler(cfg.Kafka.SamplesTopic, pipe, m)
}

// ProvideHTTPHandler creates the operator API handler.
func ProvideHTTPHandler(
	log *applogger.Logger,
	g *gate.Gate,
	pipeline *usecase.FusionPipeline,
	processor *usecase.DecisionProcessor,
	collector *usecase.SampleCollector,
) xhttp.Handler {
	return api.NewOperatorHandler(log, g, pipeline, processor, collector)
}

// logPublisher adapts the Kafka producer to the log collector's sink.
type logPublisher struct {
	producer *pkgkafka.Producer
}

func (lp logPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return lp.producer.Publish(ctx, topic, nil, payload)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	collector *usecase.SampleCollector,
	g *gate.Gate,
	journal *usecase.DecisionProcessor,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
	httpHandler xhttp.Handler,
) *server.App {
	// Aggregated error logs ride the same broker as the decision stream.
	if producer != nil && cfg.Journal.Topic != "" {
		log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Journal.Topic + ".logs",
			Publisher:      logPublisher{producer: producer},
		})
	}
	return server.New(cfg, log, collector, g, journal, consumer, kh, chClient, httpHandler)
}
