package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// ProviderClient talks to the remote hosting provider that turns uploaded
// model artifacts into live inference endpoints. Endpoint creation is a
// long-running provider-side operation; CreateEndpoint polls until the
// endpoint is in service or the provider reports failure.
type ProviderClient struct {
	client *resty.Client

	pollInterval time.Duration
	pollDeadline time.Duration
}

const (
	endpointStatusCreating  = "creating"
	endpointStatusInService = "in_service"
	endpointStatusFailed    = "failed"
)

const (
	defaultPollInterval = 15 * time.Second
	defaultPollDeadline = 20 * time.Minute
)

func NewProviderClient(baseURL, apiKey string) *ProviderClient {
	return &ProviderClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetAuthToken(apiKey).
			SetHeader("Content-Type", "application/json"),
		pollInterval: defaultPollInterval,
		pollDeadline: defaultPollDeadline,
	}
}

type createModelResponse struct {
	ModelRef string `json:"model_ref"`
}

func (p *ProviderClient) CreateModel(ctx context.Context, name, artifactLocation, framework string) (string, error) {
	rb := map[string]string{
		"name":         name,
		"artifact_url": artifactLocation,
		"framework":    framework,
	}

	res, err := p.client.R().
		SetContext(ctx).
		SetBody(rb).
		Post("/v1/models")
	if err != nil {
		return "", fmt.Errorf("error creating provider model: %w", err)
	}
	if !res.IsSuccess() {
		return "", fmt.Errorf("provider rejected model creation: status %d: %s", res.StatusCode(), res.String())
	}

	var created createModelResponse
	if err := json.Unmarshal(res.Body(), &created); err != nil {
		return "", fmt.Errorf("error parsing provider model response: %w", err)
	}
	if created.ModelRef == "" {
		return "", fmt.Errorf("provider returned empty model ref")
	}

	return created.ModelRef, nil
}

type endpointResponse struct {
	EndpointId string `json:"endpoint_id"`
	Status     string `json:"status"`
	Detail     string `json:"detail"`
}

// CreateEndpoint requests an endpoint for the given model ref and blocks until
// the provider reports it in service. This takes minutes and must only run in
// a worker process.
func (p *ProviderClient) CreateEndpoint(ctx context.Context, modelRef, endpointName string) (string, error) {
	rb := map[string]string{
		"model_ref":     modelRef,
		"endpoint_name": endpointName,
	}

	res, err := p.client.R().
		SetContext(ctx).
		SetBody(rb).
		Post("/v1/endpoints")
	if err != nil {
		return "", fmt.Errorf("error creating endpoint: %w", err)
	}
	if !res.IsSuccess() {
		return "", fmt.Errorf("provider rejected endpoint creation: status %d: %s", res.StatusCode(), res.String())
	}

	var ep endpointResponse
	if err := json.Unmarshal(res.Body(), &ep); err != nil {
		return "", fmt.Errorf("error parsing endpoint response: %w", err)
	}
	if ep.EndpointId == "" {
		return "", fmt.Errorf("provider returned empty endpoint id")
	}

	if err := p.awaitEndpoint(ctx, ep.EndpointId); err != nil {
		return "", err
	}

	return ep.EndpointId, nil
}

func (p *ProviderClient) awaitEndpoint(ctx context.Context, endpointId string) error {
	deadline := time.NewTimer(p.pollDeadline)
	defer deadline.Stop()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		ep, err := p.getEndpoint(ctx, endpointId)
		if err != nil {
			return err
		}

		switch ep.Status {
		case endpointStatusInService:
			return nil
		case endpointStatusFailed:
			return fmt.Errorf("provider reported endpoint %s failed: %s", endpointId, ep.Detail)
		default:
			slog.Info("waiting for endpoint to come in service", "endpoint_id", endpointId, "status", ep.Status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for endpoint %s after %s", endpointId, p.pollDeadline)
		case <-ticker.C:
		}
	}
}

func (p *ProviderClient) getEndpoint(ctx context.Context, endpointId string) (endpointResponse, error) {
	res, err := p.client.R().
		SetContext(ctx).
		Get("/v1/endpoints/" + endpointId)
	if err != nil {
		return endpointResponse{}, fmt.Errorf("error getting endpoint %s: %w", endpointId, err)
	}
	if !res.IsSuccess() {
		return endpointResponse{}, fmt.Errorf("provider returned status %d for endpoint %s: %s", res.StatusCode(), endpointId, res.String())
	}

	var ep endpointResponse
	if err := json.Unmarshal(res.Body(), &ep); err != nil {
		return endpointResponse{}, fmt.Errorf("error parsing endpoint response: %w", err)
	}
	return ep, nil
}

func (p *ProviderClient) DeleteEndpoint(ctx context.Context, endpointId string) error {
	res, err := p.client.R().
		SetContext(ctx).
		Delete("/v1/endpoints/" + endpointId)
	if err != nil {
		return fmt.Errorf("error deleting endpoint %s: %w", endpointId, err)
	}
	if !res.IsSuccess() && res.StatusCode() != 404 {
		return fmt.Errorf("provider rejected endpoint deletion: status %d: %s", res.StatusCode(), res.String())
	}
	return nil
}

// Invoke runs inference against a live endpoint and returns the raw provider
// response body.
func (p *ProviderClient) Invoke(ctx context.Context, endpointId string, payload []byte) ([]byte, error) {
	res, err := p.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/v1/endpoints/" + endpointId + "/invocations")
	if err != nil {
		return nil, fmt.Errorf("error invoking endpoint %s: %w", endpointId, err)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("endpoint %s returned status %d: %s", endpointId, res.StatusCode(), res.String())
	}
	return res.Body(), nil
}
