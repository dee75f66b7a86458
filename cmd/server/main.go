package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tabimport/internal/config"
	"tabimport/internal/db"
	"tabimport/internal/importer"
	"tabimport/internal/middleware"
	"tabimport/internal/persist"
	"tabimport/internal/queue"
	"tabimport/internal/reconcile"
	"tabimport/internal/storage/postgres"
	"tabimport/internal/storage/s3blob"

	"github.com/rs/cors"
)

func main() {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create storage ports
	store := postgres.NewDocumentStore(conn.Pool)
	blobs, err := s3blob.New(ctx, cfg.Blob)
	if err != nil {
		log.Fatalf("Failed to create blob store: %v", err)
	}

	// Create the import pipeline
	engine := persist.NewEngine(store, cfg.Ingest.Policy)
	service := importer.NewService(store, blobs, engine)

	// Create the reconciliation engine and background sweeper
	recEngine := reconcile.NewEngine(store)
	sweeper := reconcile.NewSweeper(recEngine, cfg.Reconcile.Schedule)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start reconciliation sweeper: %v", err)
	}

	// Create the processing queue
	var q *queue.Manager
	if cfg.Queue.Enabled {
		q = queue.NewManager(cfg.Queue.Concurrency, cfg.Queue.PollInterval, service.RunQueued)
		q.Start()
	}

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	apiHandler := importer.NewHTTPHandler(service, recEngine, q, cfg.Ingest.TempDir)

	mux := http.NewServeMux()
	mux.Handle("/", corsHandler.Handler(middleware.LoggingMiddleware(apiHandler)))

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting import server on %s", cfg.Server.Addr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Drain background work before exit
	if q != nil {
		q.Stop()
	}
	sweeper.Stop()
	service.Wait()

	log.Println("Server exited")
}
