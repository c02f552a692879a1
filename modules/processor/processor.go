// Package processor runs the batch loop at the center of the pipeline:
// it accumulates observations from the consumer channel and writes them
// to the store on a size-or-time trigger.
package processor

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"go.uber.org/atomic"

	"github.com/JesusCabrera84/siscom-consumer/modules/store"
	"github.com/JesusCabrera84/siscom-consumer/pkg/telemetry"
)

// shutdownFlushTimeout bounds the final flush when the loop exits.
const shutdownFlushTimeout = 5 * time.Second

// Inserter is the slice of the store the processor writes through.
type Inserter interface {
	InsertByManufacturer(ctx context.Context, suntech, queclink []*store.Row) (int, error)
}

// Stats is a point-in-time snapshot for the statistics task.
type Stats struct {
	Pending   int
	BatchSize int
}

// Processor consumes observations from the inbound channel and flushes
// them in batches. Exactly one loop runs per Processor; batches are
// processed serially so per-device arrival order reaches the history
// tables intact and current-state rows never race each other.
//
// A failed flush drops the batch: delivery upstream is at-least-once
// and the broker's offsets have already advanced, so retrying here
// would trade liveness for a guarantee the pipeline cannot keep anyway.
type Processor struct {
	services.Service

	cfg    Config
	store  Inserter
	in     <-chan *telemetry.Observation
	logger log.Logger

	batch   []*telemetry.Observation
	pending atomic.Int64
}

// New builds a processor reading from in. Run it as a dskit service;
// the loop terminates cleanly when in closes, after one final flush.
func New(cfg Config, store Inserter, in <-chan *telemetry.Observation, logger log.Logger) *Processor {
	p := &Processor{
		cfg:    cfg,
		store:  store,
		in:     in,
		logger: log.With(logger, "component", "processor"),
		batch:  make([]*telemetry.Observation, 0, cfg.BatchProcessingSize),
	}
	p.Service = services.NewBasicService(p.starting, p.running, p.stopping)
	return p
}

func (p *Processor) starting(context.Context) error {
	level.Info(p.logger).Log("msg", "processor starting",
		"batch_size", p.cfg.BatchProcessingSize, "flush_interval", p.cfg.FlushInterval)
	return nil
}

func (p *Processor) running(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Abnormal stop. Flush whatever is in flight on a fresh
			// bounded context; the service context is already dead.
			p.finalFlush()
			return nil

		case obs, ok := <-p.in:
			if !ok {
				// Channel closed by the source on shutdown. Buffered
				// observations were drained by this same receive loop.
				p.finalFlush()
				return nil
			}
			p.batch = append(p.batch, obs)
			p.pending.Store(int64(len(p.batch)))
			if len(p.batch) >= p.cfg.BatchProcessingSize {
				p.flush(ctx)
			}

		case <-ticker.C:
			if len(p.batch) > 0 {
				p.flush(ctx)
			}
		}
	}
}

func (p *Processor) stopping(error) error {
	level.Info(p.logger).Log("msg", "processor stopped")
	return nil
}

// Statistics reports the pending in-memory batch and the configured
// batch size.
func (p *Processor) Statistics() Stats {
	return Stats{
		Pending:   int(p.pending.Load()),
		BatchSize: p.cfg.BatchProcessingSize,
	}
}

func (p *Processor) finalFlush() {
	if len(p.batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	level.Info(p.logger).Log("msg", "flushing in-flight batch before stop", "records", len(p.batch))
	p.flush(ctx)
}

// flush partitions the batch by manufacturer, materializes rows, and
// writes them in one transaction. The batch is cleared whether the
// write succeeds or not.
func (p *Processor) flush(ctx context.Context) {
	metricBatchSize.Observe(float64(len(p.batch)))

	var suntech, queclink []*store.Row
	for _, obs := range p.batch {
		row := store.PrepareRow(p.logger, obs)
		switch obs.Manufacturer {
		case telemetry.Suntech:
			suntech = append(suntech, row)
		case telemetry.Queclink:
			queclink = append(queclink, row)
		default:
			metricRecordsDropped.WithLabelValues(reasonUnknownManufacturer).Inc()
			level.Warn(p.logger).Log("msg", "dropping record with unknown manufacturer",
				"manufacturer", obs.Manufacturer, "uuid", obs.UUID)
		}
	}

	inserted, err := p.store.InsertByManufacturer(ctx, suntech, queclink)
	if err != nil {
		// The store already logged per-row diagnostics.
		metricFlushes.WithLabelValues(outcomeFailed).Inc()
		metricRecordsDropped.WithLabelValues(reasonWriteFailed).Add(float64(len(p.batch)))
		level.Error(p.logger).Log("msg", "batch write failed, dropping batch",
			"records", len(p.batch), "err", err)
	} else {
		metricFlushes.WithLabelValues(outcomeSuccess).Inc()
		metricRecordsInserted.Add(float64(inserted))
		level.Debug(p.logger).Log("msg", "batch flushed",
			"suntech", len(suntech), "queclink", len(queclink))
	}

	p.batch = p.batch[:0]
	p.pending.Store(0)
}
