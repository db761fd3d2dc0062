package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"annotation-ml-controller/internal/domain/ports/broker"
)

const resultPollTimeout = time.Second

// Broker carries task dispatch over per-worker redis lists: each worker
// BRPOPs its own `<ns>:tasks:<workerID>` list and pushes completions onto the
// shared `<ns>:results` list.
type Broker struct {
	cli RedisClient
	ns  string
}

var (
	_ broker.TaskPublisher = (*Broker)(nil)
	_ broker.ResultSource  = (*Broker)(nil)
)

func NewBroker(cli RedisClient, namespace string) *Broker {
	if namespace == "" {
		namespace = "mlctl"
	}
	return &Broker{cli: cli, ns: namespace}
}

func (b *Broker) taskKey(workerID string) string { return b.ns + ":tasks:" + workerID }
func (b *Broker) resultsKey() string             { return b.ns + ":results" }

func (b *Broker) Publish(ctx context.Context, workerID string, msg broker.TaskMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.cli.LPush(ctx, b.taskKey(workerID), raw)
}

// Next blocks for up to one poll interval and returns nil when nothing
// arrived, so callers can re-check their context.
func (b *Broker) Next(ctx context.Context) (*broker.ResultMessage, error) {
	res, err := b.cli.BRPop(ctx, resultPollTimeout, b.resultsKey())
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	var msg broker.ResultMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("decode result message: %w", err)
	}
	return &msg, nil
}
