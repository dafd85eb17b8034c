package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fintrack-api/internal/application/dispatcher"
	"github.com/fintrack-api/internal/config"
	"github.com/fintrack-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/fintrack-api/internal/infrastructure/jwt"
	s3infra "github.com/fintrack-api/internal/infrastructure/s3"
	"github.com/fintrack-api/internal/infrastructure/smtp"
	"github.com/fintrack-api/internal/infrastructure/sns"
	transporthttp "github.com/fintrack-api/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)

	// JWT provider (optional — graceful fallback if keys are missing).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	// S3 report store.
	s3Client := s3infra.NewClient(cfg)
	s3Store := s3infra.NewStore(s3Client, cfg.ReportsBucket)

	// SMTP mailer.
	mailer := smtp.NewMailer(cfg)

	// SNS SMS sender (optional — graceful fallback).
	var smsSender sns.SMSSender
	if sender, err := sns.NewSender(cfg); err == nil {
		smsSender = sender
	} else {
		log.Printf("WARN: SNS sender not available: %v", err)
	}

	userRepo := dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users)
	eventRepo := dynamo.NewEventRepo(dynamoClient, cfg.DynamoTables.Events)
	queueRepo := dynamo.NewQueueRepo(dynamoClient, cfg.DynamoTables.Queue)
	deliveryLogRepo := dynamo.NewDeliveryLogRepo(dynamoClient, cfg.DynamoTables.DeliveryLog)
	preferenceRepo := dynamo.NewPreferenceRepo(dynamoClient, cfg.DynamoTables.Preferences)
	templateRepo := dynamo.NewTemplateRepo(dynamoClient, cfg.DynamoTables.EmailTemplates)

	deps := &transporthttp.Deps{
		UserRepo:        userRepo,
		EventRepo:       eventRepo,
		QueueRepo:       queueRepo,
		DeliveryLogRepo: deliveryLogRepo,
		PreferenceRepo:  preferenceRepo,
		TemplateRepo:    templateRepo,
		S3Store:         s3Store,
		SMSSender:       smsSender,
		JWTProvider:     jwtProvider,
	}

	router := transporthttp.NewRouter(cfg, deps)

	// Background dispatcher: drains the queue on a fixed interval.
	disp := dispatcher.New(dispatcher.Deps{
		QueueRepo:         queueRepo,
		EventRepo:         eventRepo,
		DeliveryLogRepo:   deliveryLogRepo,
		Transport:         mailer,
		BatchSize:         cfg.DispatchBatchSize,
		TransportTimeout:  cfg.TransportTimeout,
		SendRatePerMinute: cfg.SendRatePerMinute,
		StalledAfter:      cfg.StalledAfter,
	})
	scheduler := dispatcher.NewScheduler(disp, cfg.DispatchInterval, cfg.EventRetention)
	scheduler.Start(context.Background())
	log.Printf("Dispatcher started (interval=%s, batch=%d)", cfg.DispatchInterval, cfg.DispatchBatchSize)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
