// Package app opens the shared infrastructure every binary needs: the
// bridge's Postgres, Redis, AWS clients, persistence stores, and the
// tenant registry.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/exigo-bridge/internal/alert"
	"github.com/ignite/exigo-bridge/internal/archive"
	"github.com/ignite/exigo-bridge/internal/awsx"
	"github.com/ignite/exigo-bridge/internal/config"
	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/fanout"
	"github.com/ignite/exigo-bridge/internal/pkg/distlock"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
	"github.com/ignite/exigo-bridge/internal/reconcile"
	"github.com/ignite/exigo-bridge/internal/repository/dynamo"
	"github.com/ignite/exigo-bridge/internal/repository/postgres"
	"github.com/ignite/exigo-bridge/internal/tenant"
)

// SnapshotStore is a snapshot backend that can also list.
type SnapshotStore interface {
	reconcile.SnapshotStore
	ListSnapshots(ctx context.Context, companyID string, limit int) ([]domain.SnapshotSummary, error)
}

// App is the opened infrastructure. Redis and the AWS clients are nil
// when not configured.
type App struct {
	Config      *config.Config
	DB          *sql.DB
	Redis       *redis.Client
	AWS         *aws.Config
	Snapshots   SnapshotStore
	Transitions *postgres.TransitionRepo
	Registry    *tenant.Registry
	Locker      *distlock.Locker
	Alerter     alert.Alerter
	SQS         *sqs.Client
}

// ConfigureLogger applies the log section of cfg.
func ConfigureLogger(cfg config.LogConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	if cfg.RedactPII != nil {
		logger.SetRedactPII(*cfg.RedactPII)
	}
}

// Open connects everything cfg describes and builds the tenant registry.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url (or DATABASE_URL) is required")
	}
	a := &App{Config: cfg}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	a.DB = db

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("connected to database")

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.Redis = redis.NewClient(opts)
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to postgres advisory locks", "error", err)
			_ = a.Redis.Close()
			a.Redis = nil
		}
	}
	a.Locker = distlock.NewLocker(a.Redis, db, cfg.Scheduler.LockTTL())

	if needsAWS(cfg) {
		awsCfg, err := awsx.Load(ctx, cfg.AWS)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.AWS = &awsCfg
	}

	a.Transitions = postgres.NewTransitionRepo(db)
	stores := tenant.Stores{
		Audit:    a.Transitions,
		Settings: postgres.NewSettingsRepo(db),
	}
	switch cfg.SnapshotStore.Type {
	case "dynamodb":
		a.Snapshots = dynamo.NewSnapshotStore(dynamodb.NewFromConfig(*a.AWS), cfg.AWS.SnapshotTable)
	default:
		a.Snapshots = postgres.NewSnapshotRepo(db)
	}
	stores.Snapshots = a.Snapshots
	if cfg.AWS.ArchiveBucket != "" {
		stores.Archiver = archive.NewS3Archiver(s3.NewFromConfig(*a.AWS), archive.Config{
			Bucket:   cfg.AWS.ArchiveBucket,
			Compress: true,
		})
	}

	a.Alerter = alert.LogAlerter{}
	if cfg.AWS.AlertSender != "" && len(cfg.AWS.AlertRecipients) > 0 {
		a.Alerter = alert.Multi{
			alert.LogAlerter{},
			alert.NewSESAlerter(sesv2.NewFromConfig(*a.AWS), cfg.AWS.AlertSender, cfg.AWS.AlertRecipients),
		}
	}
	if cfg.AWS.PageQueueURL != "" {
		a.SQS = sqs.NewFromConfig(*a.AWS)
	}

	reg, err := tenant.Build(ctx, cfg, stores)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = reg
	return a, nil
}

func needsAWS(cfg *config.Config) bool {
	return cfg.SnapshotStore.Type == "dynamodb" ||
		cfg.AWS.ArchiveBucket != "" ||
		cfg.AWS.PageQueueURL != "" ||
		cfg.AWS.AlertSender != ""
}

// PageQueue returns the SQS page publisher, or nil in local mode.
func (a *App) PageQueue() fanout.Publisher {
	if a.Config.Fanout.Mode != fanout.ModeSQS || a.SQS == nil {
		return nil
	}
	return fanout.NewSQSQueue(a.SQS, a.Config.AWS.PageQueueURL)
}

// Close releases everything Open acquired.
func (a *App) Close() {
	if a.Registry != nil {
		if err := a.Registry.Close(); err != nil {
			logger.Warn("closing tenant connections", "error", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
