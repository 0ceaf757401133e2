package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/chatgame/service-auth/internal/config"
	crmrepo "github.com/chatgame/service-auth/internal/crm/repo"
	"github.com/chatgame/service-auth/internal/router"
	userrepo "github.com/chatgame/service-auth/internal/user/repo"
	"github.com/chatgame/service-auth/pkg/database"
	"github.com/chatgame/service-auth/pkg/utilities"
)

func main() {
	// load .env file if present so env parsing picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// config is loaded once; a missing JWT secret or CRM credentials is a
	// startup failure, not something to paper over with defaults
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// init logger
	lg, err := utilities.InitLogger(utilities.LogConfig{Level: cfg.LogLevel, Dev: cfg.LogDev, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting service-auth", "environment", cfg.Environment)

	// init db
	sqlDB, err := database.Connect(database.Config{DSN: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns})
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlDB.Close()

	// wrap with sqlx for convenience in repos/services
	sqlxDB := sqlx.NewDb(sqlDB, "postgres")
	defer sqlxDB.Close()

	// make sure tables exist before serving; users first, connections
	// reference it
	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 10*time.Second)
	if err := userrepo.NewUserRepo(sqlxDB).EnsureTable(setupCtx); err != nil {
		sugar.Fatalf("ensure users table: %v", err)
	}
	if err := crmrepo.NewConnectionRepo(sqlxDB).EnsureTable(setupCtx); err != nil {
		sugar.Fatalf("ensure crm_connections table: %v", err)
	}
	cancelSetup()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// mount http server
	handler, err := router.RegisterRoutes(cfg, sugar, sqlxDB)
	if err != nil {
		sugar.Fatalf("register routes: %v", err)
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Port,
		Handler: handler,
	}

	sugar.Infow("service is running", "port", cfg.Port)

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
