package server

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/patrimonio/internal/authz"
	"github.com/dukerupert/patrimonio/internal/backup"
	"github.com/dukerupert/patrimonio/internal/config"
	"github.com/dukerupert/patrimonio/internal/handler"
	"github.com/dukerupert/patrimonio/internal/maintenance"
	"github.com/dukerupert/patrimonio/internal/middleware"
	"github.com/dukerupert/patrimonio/internal/notify"
	"github.com/dukerupert/patrimonio/internal/push"
	"github.com/dukerupert/patrimonio/internal/report"
	"github.com/dukerupert/patrimonio/internal/scheduler"
	"github.com/dukerupert/patrimonio/internal/store"
	ws "github.com/dukerupert/patrimonio/internal/websocket"
)

const (
	loginLimit = 10
	jobsLimit  = 5
)

type Server struct {
	db       *sql.DB
	hub      *ws.Hub
	enforcer *authz.Enforcer
	origins  []string

	authH         *handler.AuthHandler
	equipmentH    *handler.EquipmentHandler
	loanH         *handler.LoanHandler
	maintenanceH  *handler.MaintenanceHandler
	notificationH *handler.NotificationHandler
	backupH       *handler.BackupHandler
	jobsH         *handler.JobsHandler
	auditH        *handler.AuditHandler
	userH         *handler.UserHandler
	settingsH     *handler.SettingsHandler
	pushH         *handler.PushHandler
	reportH       *handler.ReportHandler

	userStore     *store.UserStore
	sessionStore  *store.SessionStore
	backupManager *backup.Manager
	engine        *notify.Engine
	scheduler     *scheduler.Scheduler
	logger        *slog.Logger
}

// New builds every store, service and handler on top of an open database.
func New(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*Server, error) {
	enforcer, err := authz.NewEnforcer()
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(logger)

	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	equipmentStore := store.NewEquipmentStore(db)
	loanStore := store.NewLoanStore(db)
	maintenanceStore := store.NewMaintenanceStore(db)
	notificationStore := store.NewNotificationStore(db)
	backupStore := store.NewBackupStore(db)
	settingsStore := store.NewSettingsStore(db)
	auditStore := store.NewAuditStore(db)
	pushStore := store.NewPushStore(db)

	backupMgr := backup.NewManager(backup.Config{
		DatabaseURL: cfg.Database.URL,
		Dir:         cfg.Backup.Dir,
		Retention:   cfg.Backup.Retention,
		Passphrase:  cfg.Backup.Passphrase,
		S3: backup.S3Config{
			Endpoint:  cfg.Backup.S3.Endpoint,
			Bucket:    cfg.Backup.S3.Bucket,
			Region:    cfg.Backup.S3.Region,
			AccessKey: cfg.Backup.S3.AccessKey,
			SecretKey: cfg.Backup.S3.SecretKey,
		},
		ExitAfterRestore: true,
	}, db, backupStore, logger, BackupStatusBroadcaster(hub))

	engine := notify.NewEngine(loanStore, notificationStore, logger)
	engine.OnCreated(hub.NotifyCreated)

	var pushSvc *push.Service
	var notifier *push.Notifier
	if cfg.PushEnabled() {
		pushSvc = push.NewService(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, push.DefaultSubscriber)
		notifier = push.NewNotifier(pushSvc, pushStore, logger)
		engine.OnCreated(notifier.Notify)
	}

	sched := scheduler.New(scheduler.Config{
		Interval:    cfg.Scheduler.Interval,
		Backoff:     cfg.Scheduler.Backoff,
		StopTimeout: cfg.Scheduler.StopTimeout,
		BackupTime:  cfg.Backup.Time,
	}, engine, backupMgr, settingsStore, logger)

	maintenanceSvc := maintenance.NewService(equipmentStore, maintenanceStore)
	reportSvc := report.NewService(store.NewReportStore(db), equipmentStore)
	auditor := handler.NewAuditor(auditStore, logger.With("component", "audit"))

	return &Server{
		db:       db,
		hub:      hub,
		enforcer: enforcer,
		origins:  originPatterns(cfg.Server.BaseURL),

		authH:         handler.NewAuthHandler(userStore, sessionStore, enforcer, auditor, cfg.Server.BaseURL, logger.With("component", "auth")),
		equipmentH:    handler.NewEquipmentHandler(equipmentStore, maintenanceSvc, hub, auditor, logger.With("component", "equipment")),
		loanH:         handler.NewLoanHandler(loanStore, userStore, hub, auditor, logger.With("component", "loan")),
		maintenanceH:  handler.NewMaintenanceHandler(maintenanceSvc, maintenanceStore, hub, auditor, cfg.Notify.UpcomingDays, logger.With("component", "maintenance")),
		notificationH: handler.NewNotificationHandler(notificationStore, logger.With("component", "notification")),
		backupH:       handler.NewBackupHandler(backupMgr, backupStore, sched, auditor, logger.With("component", "backup_handler")),
		jobsH:         handler.NewJobsHandler(sched, auditor, logger.With("component", "jobs")),
		auditH:        handler.NewAuditHandler(auditStore, logger.With("component", "audit_handler")),
		userH:         handler.NewUserHandler(userStore, auditor, logger.With("component", "user")),
		settingsH:     handler.NewSettingsHandler(settingsStore, hub, auditor, logger.With("component", "settings")),
		pushH:         handler.NewPushHandler(pushStore, pushSvc, notifier, logger.With("component", "push_handler")),
		reportH:       handler.NewReportHandler(reportSvc, auditor, logger.With("component", "report")),

		userStore:     userStore,
		sessionStore:  sessionStore,
		backupManager: backupMgr,
		engine:        engine,
		scheduler:     sched,
		logger:        logger,
	}, nil
}

// BackupStatusBroadcaster pushes backup manager state changes to every
// connected websocket client.
func BackupStatusBroadcaster(hub *ws.Hub) backup.StatusCallback {
	return func(s backup.Status) {
		hub.Broadcast(ws.Message{
			Type:   "backup_status",
			Entity: "backup",
			Action: string(s.State),
			Extra: map[string]any{
				"in_progress": s.InProgress,
				"error":       s.Error,
			},
		})
	}
}

// originPatterns allows websocket upgrades from the public host.
func originPatterns(baseURL string) []string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

// Scheduler returns the periodic job runner for supervision.
func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// UserStore returns the user store for the admin bootstrap.
func (s *Server) UserStore() *store.UserStore {
	return s.userStore
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger(s.logger))

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.With(middleware.RateLimit(loginLimit, time.Minute)).Post("/login", s.authH.Login)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(s.sessionStore, s.userStore))

		r.Post("/logout", s.authH.Logout)
		r.Get("/ws", ws.HandleWebSocket(s.hub, s.origins))

		r.Route("/api", s.registerAPIRoutes)
	})

	return r
}

func (s *Server) can(resource, action string) func(http.Handler) http.Handler {
	return middleware.Require(s.enforcer, resource, action)
}

func (s *Server) registerAPIRoutes(r chi.Router) {
	read, create, update, del := authz.ActionRead, authz.ActionCreate, authz.ActionUpdate, authz.ActionDelete

	r.Get("/me", s.authH.Me)

	r.Route("/equipment", func(r chi.Router) {
		r.With(s.can("equipment", read)).Get("/", s.equipmentH.List)
		r.With(s.can("equipment", read)).Get("/counts", s.equipmentH.Counts)
		r.With(s.can("equipment", read)).Get("/export", s.equipmentH.Export)
		r.With(s.can("equipment", create)).Post("/import", s.equipmentH.Import)
		r.With(s.can("equipment", create)).Post("/", s.equipmentH.Create)
		r.With(s.can("equipment", read)).Get("/{id}", s.equipmentH.Get)
		r.With(s.can("equipment", update)).Put("/{id}", s.equipmentH.Update)
		r.With(s.can("equipment", del)).Delete("/{id}", s.equipmentH.Delete)
		r.With(s.can("maintenance", read)).Get("/{id}/maintenance", s.maintenanceH.ListByEquipment)
		r.With(s.can("maintenance", read)).Get("/{id}/maintenance-forecast", s.equipmentH.Forecast)
	})

	r.Route("/loans", func(r chi.Router) {
		r.With(s.can("loans", read)).Get("/", s.loanH.List)
		r.With(s.can("loans", create)).Post("/", s.loanH.Create)
		r.With(s.can("loans", read)).Get("/{id}", s.loanH.Get)
		r.With(s.can("loans", update)).Post("/{id}/return", s.loanH.Return)
	})

	r.Route("/maintenance", func(r chi.Router) {
		r.With(s.can("maintenance", read)).Get("/", s.maintenanceH.ListOpen)
		r.With(s.can("maintenance", read)).Get("/overdue", s.maintenanceH.Overdue)
		r.With(s.can("maintenance", read)).Get("/upcoming", s.maintenanceH.Upcoming)
		r.With(s.can("maintenance", read)).Get("/calendar", s.reportH.Calendar)
		r.With(s.can("maintenance", create)).Post("/", s.maintenanceH.Schedule)
		r.With(s.can("maintenance", update)).Post("/{id}/start", s.maintenanceH.Start)
		r.With(s.can("maintenance", update)).Post("/{id}/complete", s.maintenanceH.Complete)
		r.With(s.can("maintenance", update)).Post("/{id}/cancel", s.maintenanceH.Cancel)
	})

	// Notifications are scoped to the caller, so any role may manage its own.
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", s.notificationH.List)
		r.Get("/unread-count", s.notificationH.UnreadCount)
		r.Post("/read-all", s.notificationH.MarkAllRead)
		r.Post("/{id}/read", s.notificationH.MarkRead)
	})

	r.Route("/backups", func(r chi.Router) {
		r.With(s.can("backups", read)).Get("/", s.backupH.List)
		r.With(s.can("backups", read)).Get("/status", s.backupH.Status)
		r.With(s.can("backups", create), middleware.RateLimit(jobsLimit, time.Minute)).Post("/", s.backupH.Create)
		r.With(s.can("backups", read)).Get("/{id}", s.backupH.Get)
		r.With(s.can("backups", read)).Get("/{id}/download", s.backupH.Download)
		r.With(s.can("backups", del)).Delete("/{id}", s.backupH.Delete)
		r.With(s.can("backups", authz.ActionManageUsers)).Post("/{id}/restore", s.backupH.Restore)
	})

	// Views are limited to the caller's sector unless the caller is ADMIN.
	r.Route("/reports", func(r chi.Router) {
		r.With(s.can("reports", read)).Get("/analytics", s.reportH.Analytics)
		r.With(s.can("reports", read)).Get("/inventory", s.reportH.Inventory)
		r.With(s.can("reports", read)).Get("/loans", s.reportH.Loans)
		r.With(s.can("reports", authz.ActionReport)).Get("/maintenance", s.reportH.Maintenance)
		r.With(s.can("reports", authz.ActionReport)).Get("/audit", s.reportH.Audit)
	})

	r.Route("/audit", func(r chi.Router) {
		r.Use(s.can("audit", read))
		r.Get("/", s.auditH.List)
		r.Get("/summary", s.auditH.Summary)
	})

	r.Route("/users", func(r chi.Router) {
		r.Use(s.can("users", authz.ActionManageUsers))
		r.Get("/", s.userH.List)
		r.Post("/", s.userH.Create)
		r.Put("/{id}", s.userH.Update)
		r.Put("/{id}/password", s.userH.SetPassword)
		r.Delete("/{id}", s.userH.Delete)
	})

	r.With(s.can("settings", read)).Get("/settings", s.settingsH.Get)
	r.With(s.can("settings", authz.ActionManageUsers)).Put("/settings", s.settingsH.Update)

	r.Route("/push", func(r chi.Router) {
		r.Get("/vapid-key", s.pushH.GetVAPIDKey)
		r.Get("/subscriptions", s.pushH.ListSubscriptions)
		r.Post("/subscribe", s.pushH.Subscribe)
		r.Delete("/subscriptions/{id}", s.pushH.Unsubscribe)
		r.Post("/test", s.pushH.TestNotification)
	})

	r.Route("/jobs", func(r chi.Router) {
		r.With(s.can("jobs", read)).Get("/", s.jobsH.Status)
		r.With(s.can("jobs", create), middleware.RateLimit(jobsLimit, time.Minute)).Post("/notifications", s.jobsH.RunNotifications)
		r.With(s.can("backups", create), middleware.RateLimit(jobsLimit, time.Minute)).Post("/backup", s.backupH.Create)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"unavailable"}`)
		return
	}
	fmt.Fprint(w, `{"status":"ok"}`)
}
