package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"modelhub-backend/cmd"
	"modelhub-backend/internal/database"
	"modelhub-backend/internal/deploy"
	"modelhub-backend/internal/messaging"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	DatabaseURL    string        `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL    string        `env:"RABBITMQ_URL,notEmpty,required"`
	ProviderURL    string        `env:"PROVIDER_URL,notEmpty,required"`
	ProviderAPIKey string        `env:"PROVIDER_API_KEY"`
	JobDeadline    time.Duration `env:"JOB_DEADLINE" envDefault:"30m"`
	ReapInterval   time.Duration `env:"REAP_INTERVAL" envDefault:"1m"`
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()
	cmd.SetupLogging()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer reciever.Close()

	executor := deploy.NewProviderExecutor(deploy.NewProviderClient(cfg.ProviderURL, cfg.ProviderAPIKey))

	processor := deploy.NewTaskProcessor(db, executor, reciever, cfg.JobDeadline)

	go processor.Start()
	processor.StartReaper(cfg.ReapInterval)

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, stopping worker...")
	processor.Stop()

	log.Println("Worker process stopped.")
}
