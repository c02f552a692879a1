// Package app wires the pipeline together and owns its lifecycle:
// store, broker source, batch processor, and the observational health,
// statistics, and metrics tasks.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/grafana/dskit/signals"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JesusCabrera84/siscom-consumer/modules/consumer"
	"github.com/JesusCabrera84/siscom-consumer/modules/processor"
	"github.com/JesusCabrera84/siscom-consumer/modules/store"
	"github.com/JesusCabrera84/siscom-consumer/pkg/telemetry"
)

const (
	healthInterval = 30 * time.Second
	statsInterval  = 60 * time.Second

	// drainTimeout bounds the wait for the processor to finish draining
	// the channel after the source disconnects.
	drainTimeout = 30 * time.Second
)

// App owns the running pipeline.
type App struct {
	cfg    Config
	logger log.Logger
}

func New(cfg Config, logger log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// Run starts everything, blocks until an interrupt or a processor
// failure, then drains and stops in order: source first (stops intake,
// closes the channel), processor next (drains and flushes), background
// tasks and the store last.
func (a *App) Run() error {
	ctx := context.Background()

	level.Info(a.logger).Log("msg", "connecting to database", "url", a.cfg.DB.DisplaySafe())
	st, err := store.New(ctx, a.cfg.DB, a.logger)
	if err != nil {
		return errors.Wrap(err, "initializing store")
	}
	defer st.Close()

	source, err := a.buildSource()
	if err != nil {
		return err
	}

	observations, err := source.Start(ctx)
	if err != nil {
		return errors.Wrap(err, "starting broker source")
	}

	proc := processor.New(a.cfg.Processing, st, observations, a.logger)
	watcher := services.NewFailureWatcher()
	watcher.WatchService(proc)
	if err := services.StartAndAwaitRunning(ctx, proc); err != nil {
		_ = source.Disconnect(ctx)
		return errors.Wrap(err, "starting processor")
	}

	stopBackground := make(chan struct{})
	var background sync.WaitGroup
	background.Add(2)
	go a.healthLoop(st, stopBackground, &background)
	go a.statsLoop(proc, source, stopBackground, &background)

	metricsServer := a.startMetricsServer()

	shutdown := make(chan struct{})
	handler := signals.NewHandler(a.logger)
	go func() {
		handler.Loop()
		close(shutdown)
	}()

	var runErr error
	select {
	case <-shutdown:
		level.Info(a.logger).Log("msg", "shutdown signal received")
	case err := <-watcher.Chan():
		level.Error(a.logger).Log("msg", "processor failed", "err", err)
		runErr = err
	}

	level.Info(a.logger).Log("msg", "shutting down, draining in-flight records")
	drainCtx, cancelDrain := context.WithTimeout(ctx, drainTimeout)
	defer cancelDrain()

	// The source delivers its in-flight fetch and closes the channel;
	// the closed channel terminates the processor after its final flush.
	if err := source.Disconnect(drainCtx); err != nil {
		level.Error(a.logger).Log("msg", "error disconnecting source", "err", err)
	}
	a.stopProcessor(drainCtx, proc, runErr != nil)

	close(stopBackground)
	background.Wait()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(ctx)
	}

	level.Info(a.logger).Log("msg", "shutdown complete")
	return runErr
}

// drainable is the slice of the processor service the shutdown path
// touches.
type drainable interface {
	AwaitTerminated(ctx context.Context) error
	StopAsync()
}

// stopProcessor waits for the processor to finish draining the closed
// channel. A processor that already failed is past draining, so only
// its terminal state is confirmed; a live drain that overruns drainCtx
// is force-stopped.
func (a *App) stopProcessor(drainCtx context.Context, proc drainable, alreadyFailed bool) {
	if alreadyFailed {
		proc.StopAsync()
		_ = proc.AwaitTerminated(context.Background())
		return
	}
	if err := proc.AwaitTerminated(drainCtx); err != nil {
		level.Warn(a.logger).Log("msg", "drain timed out, stopping processor", "err", err)
		proc.StopAsync()
		_ = proc.AwaitTerminated(context.Background())
	}
}

func (a *App) buildSource() (consumer.Source, error) {
	decoder := telemetry.NewDecoder(a.logger)
	switch a.cfg.Broker.Kind {
	case consumer.KindKafka:
		return consumer.NewKafkaSource(a.cfg.Broker, a.cfg.Kafka, decoder,
			a.cfg.Processing.MessageBufferSize, a.logger, prometheus.DefaultRegisterer), nil
	case consumer.KindMQTT:
		return consumer.NewMQTTSource(a.cfg.Broker, a.cfg.MQTT, decoder,
			a.cfg.Processing.MessageBufferSize, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", a.cfg.Broker.Kind)
	}
}

func (a *App) healthLoop(st *store.Store, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if st.CheckHealth(context.Background()) {
				level.Debug(a.logger).Log("msg", "database healthy")
			} else {
				level.Warn(a.logger).Log("msg", "database unhealthy")
			}
		}
	}
}

func (a *App) statsLoop(proc *processor.Processor, source consumer.Source, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			stats := proc.Statistics()
			keyvals := []any{
				"msg", "pipeline statistics",
				"pending", stats.Pending,
				"batch_size", stats.BatchSize,
			}
			if ks, ok := source.(*consumer.KafkaSource); ok {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if lag, err := ks.Lag(ctx); err == nil {
					keyvals = append(keyvals, "consumer_lag", lag)
				} else {
					level.Warn(a.logger).Log("msg", "error fetching consumer lag", "err", err)
				}
				cancel()
			}
			level.Info(a.logger).Log(keyvals...)
		}
	}
}

func (a *App) startMetricsServer() *http.Server {
	if a.cfg.Metrics.Port == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		level.Info(a.logger).Log("msg", "metrics endpoint up", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			level.Error(a.logger).Log("msg", "metrics server failed", "err", err)
		}
	}()
	return srv
}
