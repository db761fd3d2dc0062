package broker

import (
	"context"
	"time"
)

// TaskMessage is the minimal wire schema published per task. The payload the
// worker actually trains or infers on is behind ConfigRef/DataRef and is
// opaque to the scheduling core.
type TaskMessage struct {
	TaskID    string `json:"task_id"`
	JobID     string `json:"job_id"`
	Kind      string `json:"kind"`
	ConfigRef string `json:"config_ref"`
	DataRef   string `json:"data_ref"`
	Seed      int64  `json:"seed,omitempty"`
	Attempt   int    `json:"attempt"`
}

type ResultStatus string

const (
	ResultAck       ResultStatus = "ack"
	ResultSucceeded ResultStatus = "succeeded"
	ResultFailed    ResultStatus = "failed"
)

// ResultMessage is what workers post to the result store, keyed by task id.
type ResultMessage struct {
	TaskID    string       `json:"task_id"`
	JobID     string       `json:"job_id"`
	WorkerID  string       `json:"worker_id"`
	Status    ResultStatus `json:"status"`
	ResultRef string       `json:"result_ref,omitempty"`
	ErrorInfo string       `json:"error_info,omitempty"`
}

// TaskPublisher publishes one task message to the named worker's dispatch
// channel.
type TaskPublisher interface {
	Publish(ctx context.Context, workerID string, msg TaskMessage) error
}

// ResultSource yields completion notifications in arrival order. Next blocks
// until a message arrives, the poll interval elapses, or ctx is done.
type ResultSource interface {
	Next(ctx context.Context) (*ResultMessage, error)
}

// WorkerEvent announces a worker registration or heartbeat (Gone=false) or an
// explicit deregistration (Gone=true). A heartbeat may omit Tags, in which
// case the tags from the worker's registration stay in effect.
type WorkerEvent struct {
	WorkerID string    `json:"worker_id"`
	Tags     []string  `json:"tags,omitempty"`
	InFlight int       `json:"in_flight,omitempty"`
	Gone     bool      `json:"gone,omitempty"`
	SentAt   time.Time `json:"sent_at,omitempty"`
}

// WorkerFeed streams worker announcements from the broker. The channel is
// closed when ctx is done or the underlying subscription drops.
type WorkerFeed interface {
	Events(ctx context.Context) (<-chan WorkerEvent, error)
}
