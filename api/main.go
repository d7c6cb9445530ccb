package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hybrid-ids/api/internal/handlers"
	"hybrid-ids/internal/alert"
	"hybrid-ids/internal/model"
	"hybrid-ids/internal/storage"
	"hybrid-ids/internal/utils"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configFile = flag.String("config", utils.DefaultConfigPath, "Configuration file path (YAML)")
		port       = flag.String("port", "", "API server port (overrides api.port)")
	)
	flag.Parse()

	config, err := utils.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		config.API.Port = *port
	}

	logger, err := utils.NewLogger(config.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, streamer, err := openStore(ctx, config, logger)
	if err != nil {
		logger.Fatalf("Failed to open %s store: %v", config.Storage.Type, err)
	}
	defer store.Close()

	if config.API.Subscribe {
		sub, err := subscribeAlerts(config, store, streamer, logger)
		if err != nil {
			logger.Warnf("Alert subscription unavailable: %v", err)
		} else {
			defer sub.Close()
		}
	}

	h := handlers.NewHandlers(store, streamer, config.Rules, logger)

	router := mux.NewRouter()
	router.Use(corsMiddleware)
	h.Routes(router)

	addr := fmt.Sprintf(":%s", config.API.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
	}

	logger.Infof("API server starting on port %s (storage: %s)", config.API.Port, config.Storage.Type)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down API server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}

// openStore returns the configured store and the source of live alerts for
// websocket clients. The memory store broadcasts its own inserts; a database
// store is paired with a standalone broadcaster fed by the NATS subscriber.
func openStore(ctx context.Context, config *utils.Config, logger *logrus.Logger) (storage.Store, *storage.Broadcaster, error) {
	switch config.Storage.Type {
	case utils.StorageTypePostgres:
		pg := config.Storage.Postgres
		store, err := storage.NewPostgresStore(ctx, storage.PostgresConfig{
			URL:            pg.URL,
			MaxConnections: pg.MaxConnections,
			MinConnections: pg.MinConnections,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, storage.NewBroadcaster(), nil
	default:
		store := storage.NewMemoryStore(logger)
		return store, store.Broadcaster, nil
	}
}

func subscribeAlerts(config *utils.Config, store storage.Store, streamer *storage.Broadcaster, logger *logrus.Logger) (*alert.Subscriber, error) {
	sub, err := alert.NewSubscriber(config.Alerting.NATS.URL, config.Alerting.NATS.Subject, logger)
	if err != nil {
		return nil, err
	}

	handler := func(a model.Alert) {
		// the detector already wrote this alert to the shared database
		streamer.Publish(storage.StoredAlert{Alert: a})
	}
	if memory, ok := store.(*storage.MemoryStore); ok {
		handler = func(a model.Alert) {
			if _, err := memory.AddAlert(context.Background(), a); err != nil {
				logger.Errorf("Failed to store alert from NATS: %v", err)
			}
		}
	}

	if err := sub.Start(handler); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowedOrigins := []string{
			"http://localhost:5000",
			"http://localhost:3000",
			"http://127.0.0.1:5000",
			"http://127.0.0.1:3000",
		}

		allowOrigin := "*"
		if origin != "" {
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					allowOrigin = origin
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if allowOrigin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
