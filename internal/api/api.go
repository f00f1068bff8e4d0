package api

import (
	"net/http"

	"modelhub-backend/internal/auth"
	"modelhub-backend/internal/deploy"
	"modelhub-backend/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BackendService struct {
	db           *gorm.DB
	storage      storage.ObjectStore
	orchestrator *deploy.Orchestrator
	status       *deploy.StatusService
	provider     *deploy.ProviderClient
	tokens       *auth.TokenIssuer
}

func NewBackendService(
	db *gorm.DB,
	store storage.ObjectStore,
	orchestrator *deploy.Orchestrator,
	status *deploy.StatusService,
	provider *deploy.ProviderClient,
	tokens *auth.TokenIssuer,
) *BackendService {
	return &BackendService{
		db:           db,
		storage:      store,
		orchestrator: orchestrator,
		status:       status,
		provider:     provider,
		tokens:       tokens,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	r.Route("/users", func(r chi.Router) {
		r.Post("/signup", RestHandler(s.Signup))
		r.Post("/login", RestHandler(s.Login))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.tokens.Middleware)

		r.Route("/models", func(r chi.Router) {
			r.Post("/", RestHandler(s.UploadModel))
			r.Get("/", RestHandler(s.ListModels))
			r.Get("/{model_id}", RestHandler(s.GetModel))
			r.Patch("/{model_id}", RestHandler(s.UpdateModel))
			r.Delete("/{model_id}", RestHandler(s.DeleteModel))
		})

		r.Route("/registry", func(r chi.Router) {
			r.Post("/{model_id}", RestHandler(s.DeployModel))
			r.Get("/", RestHandler(s.ListRegistryEntries))
			r.Get("/status/{job_id}", RestHandler(s.GetJobStatus))
			r.Get("/{registry_id}", RestHandler(s.GetRegistryEntry))
			r.Delete("/{registry_id}", RestHandler(s.DeleteRegistryEntry))
		})

		r.Route("/inference", func(r chi.Router) {
			r.Post("/{registry_id}", RestHandler(s.Invoke))
			r.Get("/stats", RestHandler(s.GetInferenceStats))
		})
	})
}

// callerId returns the authenticated user's id set by the auth middleware.
// Owner ids always come from here, never from request bodies.
func callerId(r *http.Request) (uuid.UUID, error) {
	userId, ok := auth.UserId(r.Context())
	if !ok {
		return uuid.Nil, CodedErrorf(http.StatusUnauthorized, "missing authenticated user")
	}
	return userId, nil
}
