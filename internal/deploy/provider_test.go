package deploy_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"modelhub-backend/internal/database"
	"modelhub-backend/internal/deploy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	endpointStatus string
	detail         string

	deletedEndpoints []string
	invocations      [][]byte
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/models", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"model_ref": "ref-1"}) //nolint:errcheck
	})

	mux.HandleFunc("POST /v1/endpoints", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"endpoint_id": "ep-1", "status": "creating"}) //nolint:errcheck
	})

	mux.HandleFunc("GET /v1/endpoints/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
			"endpoint_id": r.PathValue("id"),
			"status":      f.endpointStatus,
			"detail":      f.detail,
		})
	})

	mux.HandleFunc("DELETE /v1/endpoints/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.deletedEndpoints = append(f.deletedEndpoints, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /v1/endpoints/{id}/invocations", func(w http.ResponseWriter, r *http.Request) {
		var body json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.invocations = append(f.invocations, body)
		json.NewEncoder(w).Encode(map[string]string{"label": "positive"}) //nolint:errcheck
	})

	return mux
}

func TestProviderExecutorDeploy(t *testing.T) {
	fake := &fakeProvider{endpointStatus: "in_service"}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	executor := deploy.NewProviderExecutor(deploy.NewProviderClient(server.URL, "test-key"))

	artifact := database.ModelArtifact{
		Name:            "sentiment",
		Type:            database.ModelTypePytorch,
		StorageLocation: "s3://models/sentiment",
		UploadTime:      time.Now().UTC(),
	}

	modelRef, endpointId, err := executor.Deploy(context.Background(), artifact)
	require.NoError(t, err)
	assert.Equal(t, "ref-1", modelRef)
	assert.Equal(t, "ep-1", endpointId)
}

func TestProviderExecutorDeployRolloutFailure(t *testing.T) {
	fake := &fakeProvider{endpointStatus: "failed", detail: "image pull error"}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	executor := deploy.NewProviderExecutor(deploy.NewProviderClient(server.URL, "test-key"))

	_, _, err := executor.Deploy(context.Background(), database.ModelArtifact{Name: "sentiment", Type: database.ModelTypePytorch})
	require.Error(t, err)

	var deployErr *deploy.DeploymentError
	require.ErrorAs(t, err, &deployErr)
	assert.Equal(t, "endpoint rollout", deployErr.Stage)
	assert.Contains(t, err.Error(), "image pull error")
}

func TestProviderDeleteEndpoint(t *testing.T) {
	fake := &fakeProvider{endpointStatus: "in_service"}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	provider := deploy.NewProviderClient(server.URL, "test-key")

	require.NoError(t, provider.DeleteEndpoint(context.Background(), "ep-1"))
	assert.Equal(t, []string{"ep-1"}, fake.deletedEndpoints)

	// Deleting an endpoint the provider no longer knows about is not an error.
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer gone.Close()

	require.NoError(t, deploy.NewProviderClient(gone.URL, "test-key").DeleteEndpoint(context.Background(), "ep-2"))
}

func TestProviderInvoke(t *testing.T) {
	fake := &fakeProvider{endpointStatus: "in_service"}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	provider := deploy.NewProviderClient(server.URL, "test-key")

	result, err := provider.Invoke(context.Background(), "ep-1", []byte(`{"text": "great product"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"label": "positive"}`, string(result))
	require.Len(t, fake.invocations, 1)
	assert.JSONEq(t, `{"text": "great product"}`, string(fake.invocations[0]))
}
