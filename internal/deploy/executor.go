package deploy

import (
	"context"
	"fmt"

	"modelhub-backend/internal/database"

	"github.com/google/uuid"
)

// DeploymentError wraps any failure in the remote deployment sequence: a
// rejected model build, a failed or timed-out endpoint rollout. The lifecycle
// processor records it on the job and does not retry.
type DeploymentError struct {
	Stage string
	Err   error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deployment failed during %s: %v", e.Stage, e.Err)
}

func (e *DeploymentError) Unwrap() error {
	return e.Err
}

// Executor performs the remote call sequence that turns a stored model
// artifact into a live endpoint. Deploy can take minutes and must run off the
// request-handling path.
type Executor interface {
	Deploy(ctx context.Context, artifact database.ModelArtifact) (modelRef string, endpointId string, err error)
}

type ProviderExecutor struct {
	provider *ProviderClient
}

var _ Executor = (*ProviderExecutor)(nil)

func NewProviderExecutor(provider *ProviderClient) *ProviderExecutor {
	return &ProviderExecutor{provider: provider}
}

func (e *ProviderExecutor) Deploy(ctx context.Context, artifact database.ModelArtifact) (string, string, error) {
	modelRef, err := e.provider.CreateModel(ctx, artifact.Name, artifact.StorageLocation, artifact.Type)
	if err != nil {
		return "", "", &DeploymentError{Stage: "model creation", Err: err}
	}

	// Endpoint names must be unique provider-side; a fresh suffix per attempt
	// keeps repeated deployments of the same artifact from colliding.
	endpointName := fmt.Sprintf("%s-%s", artifact.Name, uuid.New())

	endpointId, err := e.provider.CreateEndpoint(ctx, modelRef, endpointName)
	if err != nil {
		return "", "", &DeploymentError{Stage: "endpoint rollout", Err: err}
	}

	return modelRef, endpointId, nil
}
