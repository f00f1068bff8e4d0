package messaging

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

type inMemoryTask struct {
	queue   string
	payload []byte
}

func (t *inMemoryTask) Type() string {
	return t.queue
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	return nil
}

func (t *inMemoryTask) Nack() error {
	return nil
}

func (t *inMemoryTask) Reject() error {
	return nil
}

// InMemoryQueue backs single-process deployments and tests. Unlike RabbitMQ it
// delivers exactly once and loses tasks on restart; cmd/local compensates by
// republishing PENDING jobs from the database at boot.
type InMemoryQueue struct {
	tasks chan Task
}

var (
	_ Publisher = (*InMemoryQueue)(nil)
	_ Reciever  = (*InMemoryQueue)(nil)
)

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		tasks: make(chan Task, 100),
	}
}

func (q *InMemoryQueue) PublishDeployTask(ctx context.Context, userId, modelId uuid.UUID) (uuid.UUID, error) {
	payload := DeployTaskPayload{
		JobId:   uuid.New(),
		UserId:  userId,
		ModelId: modelId,
	}
	if err := q.republish(payload); err != nil {
		return uuid.Nil, err
	}
	return payload.JobId, nil
}

// RepublishDeployTask re-enqueues a task for a job that already has an id,
// used to resume PENDING jobs found in the database after a restart.
func (q *InMemoryQueue) RepublishDeployTask(ctx context.Context, payload DeployTaskPayload) error {
	return q.republish(payload)
}

func (q *InMemoryQueue) republish(payload DeployTaskPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.tasks <- &inMemoryTask{queue: DeployQueue, payload: data}

	return nil
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

func (q *InMemoryQueue) Close() {
	if q.tasks != nil {
		close(q.tasks)
		q.tasks = nil
	}
}
