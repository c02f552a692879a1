// Package consumer delivers device observations from a message broker
// into an in-process channel. Two sources exist behind the same
// interface: the Kafka group consumer that carries production traffic
// and a legacy MQTT subscriber.
package consumer

import (
	"context"

	"github.com/JesusCabrera84/siscom-consumer/pkg/telemetry"
)

// Source is the capability set of a broker consumer. Start subscribes
// and returns the channel observations are delivered on; it must be
// called exactly once. Disconnect is cooperative: it stops intake,
// delivers every observation already fetched from the broker (bounded
// by ctx), closes the channel, and releases the client. Observations
// buffered on the channel stay drainable after Disconnect returns.
type Source interface {
	Start(ctx context.Context) (<-chan *telemetry.Observation, error)
	Disconnect(ctx context.Context) error
}
