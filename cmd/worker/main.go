package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"visiona-backend/cmd"
	"visiona-backend/internal/database"
	"visiona-backend/internal/messaging"

	"github.com/caarlos0/env/v11"
)

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg cmd.Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := cfg.ObjectStore()
	if err != nil {
		log.Fatalf("Worker: Failed to create object store: %v", err)
	}

	trainer := cfg.Trainer(db, store)

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to start RabbitMQ consumer: %v", err)
	}
	defer reciever.Close()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutdown signal received, stopping worker...")
		cancel()
	}()

	worker := messaging.NewWorker(trainer, publisher, reciever)
	worker.Run(ctx)

	log.Println("Worker process stopped.")
}
