package redis

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"annotation-ml-controller/internal/domain/ports/broker"
)

var _ broker.WorkerFeed = (*WorkerFeed)(nil)

// WorkerFeed consumes worker registration/heartbeat announcements published
// on the `<ns>:workers` pub/sub channel.
type WorkerFeed struct {
	cli RedisClient
	ns  string
	log *zerolog.Logger
}

func NewWorkerFeed(cli RedisClient, namespace string, logger *zerolog.Logger) *WorkerFeed {
	if namespace == "" {
		namespace = "mlctl"
	}
	l := logger.With().Str("component", "worker_feed").Logger()
	return &WorkerFeed{cli: cli, ns: namespace, log: &l}
}

func (f *WorkerFeed) channel() string { return f.ns + ":workers" }

func (f *WorkerFeed) Events(ctx context.Context) (<-chan broker.WorkerEvent, error) {
	sub := f.cli.Subscribe(ctx, f.channel())
	out := make(chan broker.WorkerEvent, 16)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-sub.Messages():
				if !ok {
					return
				}
				var ev broker.WorkerEvent
				if err := json.Unmarshal([]byte(payload), &ev); err != nil {
					f.log.Warn().Err(err).Msg("bad worker announcement dropped")
					continue
				}
				if ev.WorkerID == "" {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
