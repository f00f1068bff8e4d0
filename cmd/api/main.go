package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
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
)

type APIConfig struct {
	DatabaseURL       string        `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL       string        `env:"RABBITMQ_URL,notEmpty,required"`
	S3EndpointURL     string        `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string        `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string        `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string        `env:"AWS_REGION" envDefault:"us-east-1"`
	ModelBucketName   string        `env:"MODEL_BUCKET_NAME" envDefault:"model-artifacts"`
	ProviderURL       string        `env:"PROVIDER_URL,notEmpty,required"`
	ProviderAPIKey    string        `env:"PROVIDER_API_KEY"`
	JWTSecret         string        `env:"JWT_SECRET,notEmpty,required"`
	TokenTTL          time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	APIPort           string        `env:"API_PORT" envDefault:"8001"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS" envDefault:"*"`
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()
	cmd.SetupLogging()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Bucket:          cfg.ModelBucketName,
	})
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}
	if err := store.CreateBucket(context.Background()); err != nil {
		log.Fatalf("Failed to create artifact bucket: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	provider := deploy.NewProviderClient(cfg.ProviderURL, cfg.ProviderAPIKey)
	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(
		db,
		store,
		deploy.NewOrchestrator(db, publisher),
		deploy.NewStatusService(db),
		provider,
		tokens,
	)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
