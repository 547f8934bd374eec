package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/patrimonio/internal/backup"
	"github.com/dukerupert/patrimonio/internal/config"
	"github.com/dukerupert/patrimonio/internal/database"
	"github.com/dukerupert/patrimonio/internal/logging"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/push"
	"github.com/dukerupert/patrimonio/internal/server"
	"github.com/dukerupert/patrimonio/internal/store"
	"github.com/dukerupert/patrimonio/internal/supervisor"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "vapid-keys" {
		if err := printVAPIDKeys(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if err := run(); err != nil {
		slog.Error("patrimonio stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	dbPath, err := backup.ResolveSQLitePath(cfg.Database.URL)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	db, err := database.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	srv, err := server.New(cfg, db, logger)
	if err != nil {
		return err
	}

	if err := bootstrapAdmin(srv.UserStore(), cfg.Auth, logger); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Backup downloads and spreadsheet exports stream large bodies.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	tree.AddJob(srv.Scheduler())
	tree.AddJob(supervisor.NewSessionSweeper(srv.SessionStore(), time.Hour, logger))
	tree.AddAPI(supervisor.NewHTTPService(httpServer, 10*time.Second))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("patrimonio running", "port", cfg.Server.Port, "base_url", cfg.Server.BaseURL, "backup_state", srv.BackupManager().Status().State)
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shut down")
	return nil
}

// printVAPIDKeys prints a fresh key pair as environment assignments.
func printVAPIDKeys() error {
	pub, priv, err := push.GenerateVAPIDKeys()
	if err != nil {
		return err
	}
	fmt.Printf("%sPUSH_VAPID_PUBLIC_KEY=%s\n", config.EnvPrefix, pub)
	fmt.Printf("%sPUSH_VAPID_PRIVATE_KEY=%s\n", config.EnvPrefix, priv)
	return nil
}

// bootstrapAdmin creates the first ADMIN account when the users table is
// empty and credentials are configured.
func bootstrapAdmin(users *store.UserStore, cfg config.AuthConfig, logger *slog.Logger) error {
	count, err := users.Count()
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}
	if cfg.AdminUsername == "" {
		logger.Warn("no users exist and no admin credentials configured; set PATRIMONIO_AUTH_ADMIN_USERNAME and PATRIMONIO_AUTH_ADMIN_PASSWORD")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	username := strings.ToLower(strings.TrimSpace(cfg.AdminUsername))
	if _, err := users.Create(username, "Administrador", "", string(hash), model.RoleAdmin, ""); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	logger.Info("created bootstrap admin", "username", username)
	return nil
}
