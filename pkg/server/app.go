package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"FuseGate/internal/gate"
	"FuseGate/internal/usecase"
	pkgch "FuseGate/pkg/clickhouse"
	"FuseGate/pkg/config"
	xhttp "FuseGate/pkg/http"
	pkgkafka "FuseGate/pkg/kafka"
	applogger "FuseGate/pkg/logger"
)

// App encapsulates the entire application lifecycle.
//
// Shutdown order matters: the feed stops first so no new signals arrive, the
// gate closes next and flushes any pending signal as EXPIRED, and the journal
// drains last so that flush is persisted before its backend goes away.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	collector   *usecase.SampleCollector
	gate        *gate.Gate
	journal     *usecase.DecisionProcessor
	consumer    *pkgkafka.Consumer
	kh          pkgkafka.MessageHandler
	chClient    *pkgch.Client
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	collector *usecase.SampleCollector,
	g *gate.Gate,
	journal *usecase.DecisionProcessor,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	chClient *pkgch.Client,
	httpHandler xhttp.Handler,
) *App {
	return &App{
		cfg:         cfg,
		log:         log,
		collector:   collector,
		gate:        g,
		journal:     journal,
		consumer:    consumer,
		kh:          kh,
		chClient:    chClient,
		httpHandler: httpHandler,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	// Journal consumer drains the gate's decision stream for the whole run.
	go a.journal.Run(ctx, a.gate.Decisions())

	// Start the capture feed collector
	go func() {
		if err := a.collector.Start(ctx); err != nil {
			a.log.Error("collector error", applogger.Error(err))
		}
	}()
	a.log.Info("collector started", applogger.Strings("instruments", a.cfg.Feed.Instruments))

	// Start the kafka sample consumer if configured
	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	// Stop the feed first: no new samples, no new signals.
	if err := a.collector.Shutdown(ctx); err != nil {
		a.log.Warn("collector stop error", applogger.Error(err))
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// Stop the operator surface before resolving the gate so no approve
	// races the shutdown flush.
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	// Flush the gate: a still-pending signal becomes EXPIRED and the
	// decision channel closes.
	if err := a.gate.Close(); err != nil {
		a.log.Warn("gate close error", applogger.Error(err))
	}

	// Wait for the journal to drain everything, the flush included, then
	// release its backend.
	a.journal.Wait()
	a.journal.Close()

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.RemoveCollector()
	a.log.Info("shutdown complete")
	return nil
}
