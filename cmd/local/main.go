package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"modelhub-backend/cmd"
	"modelhub-backend/internal/api"
	"modelhub-backend/internal/auth"
	"modelhub-backend/internal/database"
	"modelhub-backend/internal/deploy"
	"modelhub-backend/internal/messaging"
	"modelhub-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// cmd/local runs the API server and the deployment worker in one process,
// with sqlite, filesystem artifact storage, and an in-memory task queue
// standing in for postgres, S3, and RabbitMQ.

type Config struct {
	Root           string        `env:"ROOT" envDefault:"./modelhub"`
	Port           int           `env:"PORT" envDefault:"3001"`
	ProviderURL    string        `env:"PROVIDER_URL,notEmpty,required"`
	ProviderAPIKey string        `env:"PROVIDER_API_KEY"`
	JWTSecret      string        `env:"JWT_SECRET" envDefault:"local-dev-secret"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	JobDeadline    time.Duration `env:"JOB_DEADLINE" envDefault:"30m"`
	ReapInterval   time.Duration `env:"REAP_INTERVAL" envDefault:"1m"`
}

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "modelhub.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

// createQueue rebuilds the in-memory queue from the database. The queue does
// not survive restarts, so any job still PENDING is re-enqueued; the worker's
// guarded transitions make a duplicate dispatch harmless.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var pending []database.Job
	if err := db.Where("status = ? AND type = ?", database.JobPending, database.JobTypeModelRegistry).Find(&pending).Error; err != nil {
		log.Fatalf("Failed to fetch pending jobs from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, job := range pending {
		if err := queue.RepublishDeployTask(context.Background(), messaging.DeployTaskPayload{
			JobId:   job.Id,
			UserId:  job.UserId,
			ModelId: job.ModelId,
		}); err != nil {
			log.Fatalf("Failed to republish deploy task: %v", err)
		}
	}

	if len(pending) > 0 {
		slog.Info("resumed pending deployment jobs", "count", len(pending))
	}

	return queue
}

func createServer(db *gorm.DB, store storage.ObjectStore, queue messaging.Publisher, provider *deploy.ProviderClient, tokens *auth.TokenIssuer, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(
		db,
		store,
		deploy.NewOrchestrator(db, queue),
		deploy.NewStatusService(db),
		provider,
		tokens,
	)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()
	cmd.SetupLogging()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	slog.Info("starting local backend", "root", cfg.Root, "port", cfg.Port)

	db := createDatabase(cfg.Root)

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}

	queue := createQueue(db)

	provider := deploy.NewProviderClient(cfg.ProviderURL, cfg.ProviderAPIKey)
	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)

	worker := deploy.NewTaskProcessor(db, deploy.NewProviderExecutor(provider), queue, cfg.JobDeadline)

	server := createServer(db, store, queue, provider, tokens, cfg.Port)

	slog.Info("starting worker")
	go worker.Start()
	worker.StartReaper(cfg.ReapInterval)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
