package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CodeBTHS/app/clients"
	"github.com/CodeBTHS/app/config"
	"github.com/CodeBTHS/app/handlers"
	"github.com/CodeBTHS/app/logging"
	"github.com/CodeBTHS/app/middleware"
	"github.com/CodeBTHS/app/repositories"
	"github.com/CodeBTHS/app/services"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type taskBackend interface {
	repositories.TaskStore
	repositories.EventDirectory
}

func enableCORS(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logging.Logger.Fatalf("Event ID: CONFIG_ERROR, Description: %v", err)
	}
	logging.InitLogger(logging.Options{SystemName: "tasks-service", File: cfg.LogFile, Level: cfg.LogLevel})
	logging.Logger.WithField(logging.EventField, "SERVICE_START").Info("Starting Tasks Service...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend := openBackend(ctx, cfg)
	defer closeBackend()

	var events repositories.EventDirectory = backend
	if cfg.EventsServiceURL != "" {
		events = clients.NewEventsClient(cfg.EventsServiceURL, nil, clients.NewEventsBreaker("EventsServiceCB"))
		logging.Logger.WithField(logging.EventField, "EVENTS_REMOTE").
			Infof("Event lookups go to %s", cfg.EventsServiceURL)
	}

	taskService := services.NewTaskService(backend, events, services.Options{MaxDepth: cfg.MaxTreeDepth})
	taskHandler := handlers.NewTaskHandler(taskService, cfg.RequestTimeout)
	tokens := middleware.NewTokenManager(cfg.JWTSecret, 24*time.Hour)
	router := handlers.NewRouter(taskHandler, tokens, cfg.AllowedRoles)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      enableCORS(cfg.CORSOrigin, router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logging.Logger.WithField(logging.EventField, "SERVER_START_INFO").
			Infof("Server running on http://localhost%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger.Fatalf("Event ID: SERVER_FATAL_ERROR, Description: Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	logging.Logger.WithField(logging.EventField, "SERVICE_STOP").Info("Shutting down Tasks Service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.WithField(logging.EventField, "SERVER_SHUTDOWN_ERROR").Errorf("graceful shutdown failed: %v", err)
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (taskBackend, func()) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		db, err := repositories.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			logging.Logger.Fatalf("Event ID: DB_CONNECTION_FAILED, Description: SQLite open failed: %v", err)
		}
		logging.Logger.WithField(logging.EventField, "DB_CONNECTED").Infof("Using SQLite database %s", cfg.SQLitePath)
		return repositories.NewSQLiteTaskRepository(db), func() { db.Close() }

	case config.DriverMemory:
		logging.Logger.WithField(logging.EventField, "DB_MEMORY").Warn("Using in-memory store, data is lost on exit")
		return repositories.NewMemoryTaskRepository(), func() {}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logging.Logger.Fatalf("Event ID: DB_CONNECTION_FAILED, Description: Database connection for MongoDB failed: %v", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		logging.Logger.Fatalf("Event ID: DB_PING_FAILED, Description: MongoDB connection ping error: %v", err)
	}
	logging.Logger.WithField(logging.EventField, "DB_CONNECTED").Infof("Successfully connected to MongoDB at %s", cfg.MongoURI)

	repo, err := repositories.NewMongoTaskRepository(connectCtx, client, cfg.MongoDBName, cfg.MongoTransactions)
	if err != nil {
		logging.Logger.Fatalf("Event ID: DB_SETUP_FAILED, Description: %v", err)
	}
	return repo, func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.Disconnect(disconnectCtx)
	}
}
