package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsCreated counts notifications inserted per rule pass.
	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patrimonio_notifications_created_total",
		Help: "Notifications created by the rule engine, by pass",
	}, []string{"pass"})

	// NotificationPassErrors counts rule passes that failed.
	NotificationPassErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patrimonio_notification_pass_errors_total",
		Help: "Failed rule engine passes, by pass",
	}, []string{"pass"})

	NotificationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "patrimonio_notifications_expired_total",
		Help: "Expired notifications removed by the sweep",
	})

	// BackupsTotal counts finished backups by kind and outcome.
	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patrimonio_backups_total",
		Help: "Finished backups, by kind and status",
	}, []string{"kind", "status"})

	BackupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patrimonio_backup_duration_seconds",
		Help:    "Time spent creating a backup",
		Buckets: prometheus.DefBuckets,
	})

	BackupsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "patrimonio_backups_pruned_total",
		Help: "Backups removed by retention",
	})

	// OffsiteUploads counts off-site copy attempts by result.
	OffsiteUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patrimonio_backup_offsite_uploads_total",
		Help: "Off-site backup uploads, by result",
	}, []string{"result"})

	SchedulerIterations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patrimonio_scheduler_iterations_total",
		Help: "Scheduler iterations, by result",
	}, []string{"result"})

	SchedulerRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "patrimonio_scheduler_running",
		Help: "1 while the scheduler loop is running",
	})

	PushDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patrimonio_push_deliveries_total",
		Help: "Web push deliveries, by result",
	}, []string{"result"})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "patrimonio_websocket_clients",
		Help: "Connected websocket clients",
	})

	// HTTPRequests counts handled requests by method and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patrimonio_http_requests_total",
		Help: "HTTP requests, by method and status",
	}, []string{"method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "patrimonio_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)
