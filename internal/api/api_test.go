package api_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	backend "modelhub-backend/internal/api"
	"modelhub-backend/internal/auth"
	"modelhub-backend/internal/database"
	"modelhub-backend/internal/deploy"
	"modelhub-backend/internal/messaging"
	"modelhub-backend/internal/storage"
	"modelhub-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testBackend struct {
	router chi.Router
	db     *gorm.DB
	queue  *messaging.InMemoryQueue
	tokens *auth.TokenIssuer
}

func setupBackend(t *testing.T, providerURL string) *testBackend {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()
	tokens := auth.NewTokenIssuer([]byte("test-secret"), time.Hour)

	service := backend.NewBackendService(
		db,
		store,
		deploy.NewOrchestrator(db, queue),
		deploy.NewStatusService(db),
		deploy.NewProviderClient(providerURL, "test-key"),
		tokens,
	)

	router := chi.NewRouter()
	service.AddRoutes(router)

	return &testBackend{router: router, db: db, queue: queue, tokens: tokens}
}

func (b *testBackend) signup(t *testing.T, username, email, password string) api.AuthResponse {
	t.Helper()

	body, err := json.Marshal(api.SignupRequest{Username: username, Email: email, Password: password})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/users/signup", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res api.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func (b *testBackend) request(t *testing.T, method, endpoint, token string, payload, dest any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, endpoint, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)

	if dest != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
	}
	return rec
}

func (b *testBackend) uploadModel(t *testing.T, token, name, modelType string) api.UploadModelResponse {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("model_name", name))
	require.NoError(t, writer.WriteField("model_type", modelType))
	part, err := writer.CreateFormFile("model_file", "model.pt")
	require.NoError(t, err)
	_, err = part.Write([]byte("model weights"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/models", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res api.UploadModelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestSignupAndLogin(t *testing.T) {
	b := setupBackend(t, "http://provider.invalid")

	signup := b.signup(t, "alice", "alice@example.com", "hunter2")
	assert.NotEmpty(t, signup.Token)

	t.Run("DuplicateSignup", func(t *testing.T) {
		body, err := json.Marshal(api.SignupRequest{Username: "alice", Email: "alice@example.com", Password: "other"})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/users/signup", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		b.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Login", func(t *testing.T) {
		var res api.AuthResponse
		rec := b.request(t, http.MethodPost, "/users/login", "", api.LoginRequest{Email: "alice@example.com", Password: "hunter2"}, &res)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, signup.UserId, res.UserId)
		assert.NotEmpty(t, res.Token)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		rec := b.request(t, http.MethodPost, "/users/login", "", api.LoginRequest{Email: "alice@example.com", Password: "wrong"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("UnknownEmail", func(t *testing.T) {
		rec := b.request(t, http.MethodPost, "/users/login", "", api.LoginRequest{Email: "bob@example.com", Password: "hunter2"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestModelsRequireAuth(t *testing.T) {
	b := setupBackend(t, "http://provider.invalid")

	rec := b.request(t, http.MethodGet, "/models", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadAndListModels(t *testing.T) {
	b := setupBackend(t, "http://provider.invalid")
	user := b.signup(t, "alice", "alice@example.com", "hunter2")

	uploaded := b.uploadModel(t, user.Token, "sentiment", database.ModelTypePytorch)
	assert.NotEmpty(t, uploaded.StorageLocation)

	var models []api.Model
	rec := b.request(t, http.MethodGet, "/models", user.Token, nil, &models)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, models, 1)
	assert.Equal(t, uploaded.ModelId, models[0].Id)
	assert.Equal(t, "sentiment", models[0].Name)
	assert.Equal(t, database.ModelTypePytorch, models[0].Type)

	t.Run("FilterByName", func(t *testing.T) {
		b.uploadModel(t, user.Token, "classifier", database.ModelTypeTensorflow)

		var filtered []api.Model
		rec := b.request(t, http.MethodGet, "/models?name=classifier", user.Token, nil, &filtered)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, filtered, 1)
		assert.Equal(t, "classifier", filtered[0].Name)
	})

	t.Run("GetModel", func(t *testing.T) {
		var model api.Model
		rec := b.request(t, http.MethodGet, "/models/"+uploaded.ModelId.String(), user.Token, nil, &model)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, uploaded.ModelId, model.Id)
	})

	t.Run("OtherUserCannotSeeModel", func(t *testing.T) {
		other := b.signup(t, "bob", "bob@example.com", "hunter2")
		rec := b.request(t, http.MethodGet, "/models/"+uploaded.ModelId.String(), other.Token, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("InvalidModelType", func(t *testing.T) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		require.NoError(t, writer.WriteField("model_name", "badtype"))
		require.NoError(t, writer.WriteField("model_type", "caffe"))
		part, err := writer.CreateFormFile("model_file", "model.pt")
		require.NoError(t, err)
		_, err = part.Write([]byte("weights"))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/models", &buf)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+user.Token)
		rec := httptest.NewRecorder()
		b.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUpdateModelVersionGuard(t *testing.T) {
	b := setupBackend(t, "http://provider.invalid")
	user := b.signup(t, "alice", "alice@example.com", "hunter2")
	uploaded := b.uploadModel(t, user.Token, "sentiment", database.ModelTypePytorch)

	var updated api.Model
	rec := b.request(t, http.MethodPatch, "/models/"+uploaded.ModelId.String(), user.Token,
		api.UpdateModelRequest{Type: database.ModelTypeTensorflow, Version: 0}, &updated)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, database.ModelTypeTensorflow, updated.Type)
	assert.Equal(t, 1, updated.Version)

	// A second write against the stale version is rejected.
	rec = b.request(t, http.MethodPatch, "/models/"+uploaded.ModelId.String(), user.Token,
		api.UpdateModelRequest{Type: database.ModelTypePytorch, Version: 0}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var current api.Model
	rec = b.request(t, http.MethodGet, "/models/"+uploaded.ModelId.String(), user.Token, nil, &current)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, database.ModelTypeTensorflow, current.Type)
}

func TestDeployAndJobStatus(t *testing.T) {
	fakeProvider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/models":
			json.NewEncoder(w).Encode(map[string]string{"model_ref": "ref-1"}) //nolint:errcheck
		case r.Method == http.MethodPost && r.URL.Path == "/v1/endpoints":
			json.NewEncoder(w).Encode(map[string]string{"endpoint_id": "ep-1", "status": "in_service"}) //nolint:errcheck
		default:
			json.NewEncoder(w).Encode(map[string]string{"endpoint_id": "ep-1", "status": "in_service"}) //nolint:errcheck
		}
	}))
	defer fakeProvider.Close()

	b := setupBackend(t, fakeProvider.URL)
	user := b.signup(t, "alice", "alice@example.com", "hunter2")
	uploaded := b.uploadModel(t, user.Token, "sentiment", database.ModelTypePytorch)

	var deployed api.DeployResponse
	rec := b.request(t, http.MethodPost, "/registry/"+uploaded.ModelId.String(), user.Token, nil, &deployed)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEqual(t, uuid.Nil, deployed.JobId)

	var status api.JobStatusResponse
	rec = b.request(t, http.MethodGet, "/registry/status/"+deployed.JobId.String(), user.Token, nil, &status)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, database.JobPending, status.Status)
	assert.Nil(t, status.ReferenceId)

	// Run the worker over the queued task, then poll again.
	processor := deploy.NewTaskProcessor(b.db, deploy.NewProviderExecutor(deploy.NewProviderClient(fakeProvider.URL, "test-key")), b.queue, time.Hour)
	processor.ProcessTask(<-b.queue.Tasks())

	rec = b.request(t, http.MethodGet, "/registry/status/"+deployed.JobId.String(), user.Token, nil, &status)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, database.JobSuccess, status.Status)
	require.NotNil(t, status.ReferenceId)

	t.Run("RegistryEntryVisible", func(t *testing.T) {
		var entry api.RegistryEntry
		rec := b.request(t, http.MethodGet, "/registry/"+status.ReferenceId.String(), user.Token, nil, &entry)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, uploaded.ModelId, entry.ModelId)
		assert.Equal(t, "ep-1", entry.Endpoint)

		var entries []api.RegistryEntry
		rec = b.request(t, http.MethodGet, "/registry", user.Token, nil, &entries)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, entries, 1)
	})

	t.Run("StatusOfUnknownJob", func(t *testing.T) {
		rec := b.request(t, http.MethodGet, "/registry/status/"+uuid.NewString(), user.Token, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("OtherUserCannotSeeJob", func(t *testing.T) {
		other := b.signup(t, "bob", "bob@example.com", "hunter2")
		rec := b.request(t, http.MethodGet, "/registry/status/"+deployed.JobId.String(), other.Token, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDeployUnknownModel(t *testing.T) {
	b := setupBackend(t, "http://provider.invalid")
	user := b.signup(t, "alice", "alice@example.com", "hunter2")

	rec := b.request(t, http.MethodPost, "/registry/"+uuid.NewString(), user.Token, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRegistryEntry(t *testing.T) {
	var deleted []string
	fakeProvider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleted = append(deleted, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer fakeProvider.Close()

	b := setupBackend(t, fakeProvider.URL)
	user := b.signup(t, "alice", "alice@example.com", "hunter2")
	uploaded := b.uploadModel(t, user.Token, "sentiment", database.ModelTypePytorch)

	entry := database.RegistryEntry{
		Id: uuid.New(), ModelId: uploaded.ModelId, ModelVersion: "1.0",
		Status: database.JobSuccess, Endpoint: "ep-1", CreationTime: time.Now().UTC(),
	}
	require.NoError(t, b.db.Create(&entry).Error)

	rec := b.request(t, http.MethodDelete, "/registry/"+entry.Id.String(), user.Token, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"/v1/endpoints/ep-1"}, deleted)

	rec = b.request(t, http.MethodGet, "/registry/"+entry.Id.String(), user.Token, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvokeAndStats(t *testing.T) {
	fakeProvider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"label": "positive"}) //nolint:errcheck
	}))
	defer fakeProvider.Close()

	b := setupBackend(t, fakeProvider.URL)
	user := b.signup(t, "alice", "alice@example.com", "hunter2")
	uploaded := b.uploadModel(t, user.Token, "sentiment", database.ModelTypePytorch)

	entry := database.RegistryEntry{
		Id: uuid.New(), ModelId: uploaded.ModelId, ModelVersion: "1.0",
		Status: database.JobSuccess, Endpoint: "ep-1", CreationTime: time.Now().UTC(),
	}
	require.NoError(t, b.db.Create(&entry).Error)

	var res api.InferenceResponse
	rec := b.request(t, http.MethodPost, "/inference/"+entry.Id.String(), user.Token,
		map[string]string{"text": "great product"}, &res)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", res.Status)
	assert.JSONEq(t, `{"label": "positive"}`, string(res.Result))

	var stats []api.InferenceStats
	rec = b.request(t, http.MethodGet, "/inference/stats", user.Token, nil, &stats)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, stats, 1)
	assert.Equal(t, entry.Id, stats[0].RegistryEntryId)
	assert.Equal(t, "sentiment", stats[0].ModelName)
	assert.Equal(t, int64(1), stats[0].RunCount)
}
