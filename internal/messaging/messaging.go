package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	DeployQueue     = "deploy_queue"
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

// DeployTaskPayload is the unit of work handed to the deployment worker. The
// JobId is minted by the publisher when the task is enqueued; the worker's
// lifecycle handlers key every state transition on it.
type DeployTaskPayload struct {
	JobId   uuid.UUID
	UserId  uuid.UUID
	ModelId uuid.UUID
}

type Publisher interface {
	// PublishDeployTask enqueues a deployment task and returns the job id
	// assigned to it. The task is durably enqueued before this returns; it
	// never waits on the deployment itself.
	PublishDeployTask(ctx context.Context, userId, modelId uuid.UUID) (uuid.UUID, error)

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
