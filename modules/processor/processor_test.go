package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JesusCabrera84/siscom-consumer/modules/store"
	"github.com/JesusCabrera84/siscom-consumer/pkg/telemetry"
)

type insertCall struct {
	suntech  []*store.Row
	queclink []*store.Row
}

// fakeInserter records every InsertByManufacturer call and can be told
// to fail the next n calls.
type fakeInserter struct {
	mtx       sync.Mutex
	calls     []insertCall
	failCalls int
}

func (f *fakeInserter) InsertByManufacturer(_ context.Context, suntech, queclink []*store.Row) (int, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.calls = append(f.calls, insertCall{suntech: suntech, queclink: queclink})
	if f.failCalls > 0 {
		f.failCalls--
		return 0, errors.New("injected store failure")
	}
	return len(suntech) + len(queclink), nil
}

func (f *fakeInserter) callCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.calls)
}

func (f *fakeInserter) call(i int) insertCall {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.calls[i]
}

func testConfig(batchSize int, flushInterval time.Duration) Config {
	return Config{
		MessageBufferSize:   100,
		BatchProcessingSize: batchSize,
		FlushInterval:       flushInterval,
	}
}

func obs(uuid, deviceID string, m telemetry.Manufacturer) *telemetry.Observation {
	return &telemetry.Observation{
		UUID:         uuid,
		DeviceID:     deviceID,
		Manufacturer: m,
		MsgClass:     "STT",
	}
}

func startProcessor(t *testing.T, cfg Config, ins Inserter, in chan *telemetry.Observation) *Processor {
	p := New(cfg, ins, in, log.NewNopLogger())
	require.NoError(t, services.StartAndAwaitRunning(context.Background(), p))
	t.Cleanup(func() {
		p.StopAsync()
		_ = p.AwaitTerminated(context.Background())
	})
	return p
}

func TestFlushOnBatchSize(t *testing.T) {
	ins := &fakeInserter{}
	in := make(chan *telemetry.Observation, 10)
	startProcessor(t, testConfig(3, time.Hour), ins, in)

	in <- obs("u1", "A", telemetry.Suntech)
	in <- obs("u2", "B", telemetry.Suntech)
	in <- obs("u3", "A", telemetry.Suntech)

	require.Eventually(t, func() bool { return ins.callCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	call := ins.call(0)
	require.Len(t, call.suntech, 3)
	assert.Empty(t, call.queclink)
	// Arrival order is preserved into the history rows.
	assert.Equal(t, "u1", call.suntech[0].UUID)
	assert.Equal(t, "u3", call.suntech[2].UUID)
}

func TestFlushBelowThresholdWaitsForTimer(t *testing.T) {
	ins := &fakeInserter{}
	in := make(chan *telemetry.Observation, 10)
	startProcessor(t, testConfig(100, 200*time.Millisecond), ins, in)

	for i := 0; i < 5; i++ {
		in <- obs("u", "A", telemetry.Suntech)
	}

	require.Eventually(t, func() bool { return ins.callCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, ins.call(0).suntech, 5)
}

func TestEmptyTimerTickOpensNoTransaction(t *testing.T) {
	ins := &fakeInserter{}
	in := make(chan *telemetry.Observation, 10)
	startProcessor(t, testConfig(100, 20*time.Millisecond), ins, in)

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, ins.callCount())
}

func TestMixedManufacturersPartition(t *testing.T) {
	ins := &fakeInserter{}
	in := make(chan *telemetry.Observation, 10)
	startProcessor(t, testConfig(4, time.Hour), ins, in)

	in <- obs("s1", "A", telemetry.Suntech)
	in <- obs("q1", "B", telemetry.Queclink)
	in <- obs("s2", "C", telemetry.Suntech)
	in <- obs("q2", "D", telemetry.Queclink)

	require.Eventually(t, func() bool { return ins.callCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	call := ins.call(0)
	assert.Len(t, call.suntech, 2)
	assert.Len(t, call.queclink, 2)
}

func TestChannelCloseFlushesAndTerminates(t *testing.T) {
	ins := &fakeInserter{}
	in := make(chan *telemetry.Observation, 10)
	p := startProcessor(t, testConfig(100, time.Hour), ins, in)

	for i := 0; i < 7; i++ {
		in <- obs("u", "A", telemetry.Suntech)
	}
	close(in)

	require.NoError(t, p.AwaitTerminated(context.Background()))
	require.Equal(t, 1, ins.callCount())
	assert.Len(t, ins.call(0).suntech, 7)
}

func TestStoreFailureDropsBatchAndContinues(t *testing.T) {
	ins := &fakeInserter{failCalls: 1}
	in := make(chan *telemetry.Observation, 10)
	startProcessor(t, testConfig(2, time.Hour), ins, in)

	in <- obs("u1", "A", telemetry.Suntech)
	in <- obs("u2", "B", telemetry.Suntech)
	require.Eventually(t, func() bool { return ins.callCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	// The failed batch is gone; the next one goes through untainted.
	in <- obs("u3", "C", telemetry.Queclink)
	in <- obs("u4", "D", telemetry.Queclink)
	require.Eventually(t, func() bool { return ins.callCount() == 2 }, 5*time.Second, 10*time.Millisecond)

	call := ins.call(1)
	assert.Empty(t, call.suntech)
	require.Len(t, call.queclink, 2)
	assert.Equal(t, "u3", call.queclink[0].UUID)
}

func TestStatistics(t *testing.T) {
	ins := &fakeInserter{}
	in := make(chan *telemetry.Observation, 10)
	p := startProcessor(t, testConfig(10, time.Hour), ins, in)

	in <- obs("u1", "A", telemetry.Suntech)
	in <- obs("u2", "B", telemetry.Suntech)

	require.Eventually(t, func() bool { return p.Statistics().Pending == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 10, p.Statistics().BatchSize)
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig(100, 5*time.Second)
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.BatchProcessingSize = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.MessageBufferSize = -1
	require.Error(t, bad.Validate())

	bad = cfg
	bad.FlushInterval = 0
	require.Error(t, bad.Validate())
}
