package messaging

import (
	"context"
	"time"
)

const (
	ReconcileQueue  = "reconcile_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// ReconcileTaskPayload asks the worker to refresh one model's status from
// the provider. Attempt counts re-queues so polling can back off.
type ReconcileTaskPayload struct {
	ModelId string
	Attempt int
}

type Publisher interface {
	PublishReconcileTask(ctx context.Context, payload ReconcileTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
