package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chepyr/taskmaster/internal/auth"
	"github.com/chepyr/taskmaster/internal/config"
	"github.com/chepyr/taskmaster/internal/db"
	"github.com/chepyr/taskmaster/internal/handlers"
	"github.com/chepyr/taskmaster/internal/session"
	"github.com/chepyr/taskmaster/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	dbConn, dialect := initDB(cfg)
	defer func() {
		if err := dbConn.Close(); err != nil {
			log.Printf("Error closing database connection: %v", err)
		}
	}()

	handler := initHandlers(cfg, dbConn, dialect)
	defer handler.RateLimiter.Stop()

	server := initServer(cfg, handler.Routes())
	startServer(server, cfg.ShutdownDeadline, handler.WSHub)
}

func initDB(cfg *config.Config) (*sql.DB, db.Dialect) {
	dbConn, err := db.Connect(cfg.DBDriver, cfg.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	dbConn.SetMaxOpenConns(cfg.DBMaxOpenConns)

	dialect, err := db.DialectFor(cfg.DBDriver)
	if err != nil {
		log.Fatalf("Unsupported database driver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Migrate(ctx, dbConn, dialect); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Printf("Connected to %s database", cfg.DBDriver)
	return dbConn, dialect
}

func initHandlers(cfg *config.Config, dbConn *sql.DB, dialect db.Dialect) *handlers.Handler {
	authService := auth.NewService(db.NewUserRepository(dbConn, dialect))
	sessions := session.NewManager(
		db.NewSessionRepository(dbConn, dialect), authService,
		cfg.SessionSecret, cfg.SessionTTL, cfg.CookieSecure)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if removed, err := sessions.CleanupExpired(ctx); err != nil {
		log.Printf("Failed to purge expired sessions: %v", err)
	} else if removed > 0 {
		log.Printf("Purged %d expired sessions", removed)
	}

	templates, err := handlers.LoadTemplates()
	if err != nil {
		log.Fatalf("Failed to load templates: %v", err)
	}

	return &handlers.Handler{
		Auth:           authService,
		Sessions:       sessions,
		Tasks:          tasks.NewService(db.NewTaskRepository(dbConn, dialect)),
		RateLimiter:    handlers.NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateWindow),
		WSHub:          handlers.NewWSHub(),
		Templates:      templates,
		DB:             dbConn,
		AllowedOrigins: cfg.CORSOrigins,
		TrustedProxies: cfg.TrustedProxies,
	}
}

func initServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func startServer(server *http.Server, deadline time.Duration, hub *handlers.WSHub) {
	log.Printf("Starting server on %s", server.Addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server")

	// hijacked websocket connections are not tracked by Shutdown
	hub.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
