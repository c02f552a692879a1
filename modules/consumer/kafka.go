package consumer

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
	"github.com/twmb/franz-go/plugin/kprom"

	"github.com/JesusCabrera84/siscom-consumer/pkg/telemetry"
)

const (
	sessionTimeout     = 6 * time.Second
	autoCommitInterval = time.Second

	// retryWait paces the poll loop after a broker read error.
	retryWait = time.Second
)

// KafkaSource consumes the configured topic as part of a consumer
// group, decodes every record, and delivers observations on its out
// channel. Offsets auto-commit on the client's cadence independently of
// downstream write success, so delivery is at-least-once with
// re-delivery bounded by the commit interval.
type KafkaSource struct {
	cfg     Config
	auth    KafkaAuth
	decoder *telemetry.Decoder
	logger  log.Logger
	metrics *kprom.Metrics

	client *kgo.Client
	adm    *kadm.Client
	out    chan *telemetry.Observation

	cancelPoll  context.CancelFunc
	cancelDrain context.CancelFunc
	wg          sync.WaitGroup
}

// NewKafkaSource configures a source without touching the broker.
// bufferSize is the capacity of the delivery channel; a full channel
// blocks the poll loop, which is how backpressure reaches the broker.
func NewKafkaSource(cfg Config, auth KafkaAuth, decoder *telemetry.Decoder, bufferSize int, logger log.Logger, reg prometheus.Registerer) *KafkaSource {
	return &KafkaSource{
		cfg:     cfg,
		auth:    auth,
		decoder: decoder,
		logger:  log.With(logger, "source", "kafka"),
		metrics: kprom.NewMetrics("siscom_kafka", kprom.Registerer(reg),
			kprom.FetchAndProduceDetail(kprom.Batches, kprom.Records, kprom.CompressedBytes, kprom.UncompressedBytes)),
		out: make(chan *telemetry.Observation, bufferSize),
	}
}

// Start opens the client, joins the group, and launches the poll loop.
func (s *KafkaSource) Start(ctx context.Context) (<-chan *telemetry.Observation, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(s.cfg.Addr()),
		kgo.ConsumerGroup(s.cfg.GroupID),
		kgo.ConsumeTopics(s.cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.SessionTimeout(sessionTimeout),
		kgo.AutoCommitInterval(autoCommitInterval),
		kgo.WithLogger(newKgoLogger(s.logger)),
		kgo.WithHooks(s.metrics),
	}
	authOpts, err := s.auth.clientOpts()
	if err != nil {
		return nil, err
	}
	opts = append(opts, authOpts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating kafka client")
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "reaching kafka broker %s", s.cfg.Addr())
	}
	s.client = client
	s.adm = kadm.NewClient(client)

	pollCtx, cancelPoll := context.WithCancel(context.Background())
	drainCtx, cancelDrain := context.WithCancel(context.Background())
	s.cancelPoll = cancelPoll
	s.cancelDrain = cancelDrain
	s.wg.Add(1)
	go s.pollLoop(pollCtx, drainCtx)

	level.Info(s.logger).Log("msg", "kafka consumer started",
		"broker", s.cfg.Addr(), "topic", s.cfg.Topic, "group", s.cfg.GroupID)
	return s.out, nil
}

// Disconnect stops polling, waits for every record of the in-flight
// fetch to reach the out channel, closes the channel, and leaves the
// consumer group. The client auto-commits offsets for every polled
// record, so the fetched records must be handed downstream before the
// loop may exit. The processor keeps draining the channel until it
// closes, so the wait makes progress; records are abandoned only when
// ctx expires, which means nothing is draining anymore.
func (s *KafkaSource) Disconnect(ctx context.Context) error {
	s.cancelPoll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		level.Warn(s.logger).Log("msg", "drain deadline reached, abandoning in-flight records")
		s.cancelDrain()
		<-done
	}
	s.cancelDrain()

	s.client.Close()
	level.Info(s.logger).Log("msg", "kafka consumer disconnected")
	return nil
}

func (s *KafkaSource) pollLoop(ctx, drainCtx context.Context) {
	defer s.wg.Done()
	defer close(s.out)

	for ctx.Err() == nil {
		fetches := s.client.PollFetches(ctx)
		if err := fetches.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			metricFetchErrors.Inc()
			level.Error(s.logger).Log("msg", "error fetching from broker", "err", err)
			select {
			case <-time.After(retryWait):
			case <-ctx.Done():
				return
			}
			continue
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			obs, err := s.decoder.Decode(rec.Value)
			if err != nil {
				metricRecordsDropped.WithLabelValues(reasonDecodeError).Inc()
				level.Error(s.logger).Log("msg", "dropping undecodable record",
					"partition", rec.Partition, "offset", rec.Offset, "err", err)
				return
			}
			select {
			case s.out <- obs:
				metricRecordsConsumed.Inc()
			case <-drainCtx.Done():
				metricRecordsDropped.WithLabelValues(reasonShutdown).Inc()
			}
		})
	}
}

// Lag sums end-of-partition minus committed offset across the topic.
// Partitions the group has not committed yet report zero; the group
// starts at the end of the log.
func (s *KafkaSource) Lag(ctx context.Context) (int64, error) {
	committed, err := s.adm.FetchOffsets(ctx, s.cfg.GroupID)
	if err != nil {
		return 0, errors.Wrap(err, "fetching group offsets")
	}
	ends, err := s.adm.ListEndOffsets(ctx, s.cfg.Topic)
	if err != nil {
		return 0, errors.Wrap(err, "listing end offsets")
	}

	var total int64
	ends.Each(func(end kadm.ListedOffset) {
		c, ok := committed.Lookup(end.Topic, end.Partition)
		if !ok {
			return
		}
		if lag := end.Offset - c.At; lag > 0 {
			total += lag
		}
	})
	return total, nil
}

// clientOpts maps the SASL/SSL passthrough settings onto client
// options. Unset means plaintext without authentication.
func (a *KafkaAuth) clientOpts() ([]kgo.Opt, error) {
	var opts []kgo.Opt

	protocol := strings.ToUpper(a.SecurityProtocol)
	switch protocol {
	case "", "PLAINTEXT", "SASL_PLAINTEXT":
	case "SSL", "SASL_SSL":
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	default:
		return nil, fmt.Errorf("unsupported kafka security protocol %q", a.SecurityProtocol)
	}

	if !strings.HasPrefix(protocol, "SASL_") {
		return opts, nil
	}

	var mechanism sasl.Mechanism
	switch strings.ToUpper(a.SASLMechanism) {
	case "", "PLAIN":
		mechanism = plain.Auth{User: a.Username, Pass: a.Password}.AsMechanism()
	case "SCRAM-SHA-256":
		mechanism = scram.Auth{User: a.Username, Pass: a.Password}.AsSha256Mechanism()
	case "SCRAM-SHA-512":
		mechanism = scram.Auth{User: a.Username, Pass: a.Password}.AsSha512Mechanism()
	default:
		return nil, fmt.Errorf("unsupported kafka sasl mechanism %q", a.SASLMechanism)
	}
	return append(opts, kgo.SASL(mechanism)), nil
}

// kgoLogger bridges franz-go client logs into the gokit logger.
type kgoLogger struct {
	logger log.Logger
}

func newKgoLogger(logger log.Logger) kgo.Logger {
	return kgoLogger{logger: log.With(logger, "component", "kgo")}
}

func (l kgoLogger) Level() kgo.LogLevel {
	return kgo.LogLevelInfo
}

func (l kgoLogger) Log(lvl kgo.LogLevel, msg string, keyvals ...any) {
	keyvals = append([]any{"msg", msg}, keyvals...)
	switch lvl {
	case kgo.LogLevelError:
		level.Error(l.logger).Log(keyvals...)
	case kgo.LogLevelWarn:
		level.Warn(l.logger).Log(keyvals...)
	case kgo.LogLevelDebug:
		level.Debug(l.logger).Log(keyvals...)
	default:
		level.Info(l.logger).Log(keyvals...)
	}
}
