// Package app assembles the service graph shared by the API server and the
// operator CLI.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kislikjeka/booksync/internal/infra/gateway/llm"
	"github.com/kislikjeka/booksync/internal/infra/gateway/quickbooks"
	"github.com/kislikjeka/booksync/internal/infra/postgres"
	infraRedis "github.com/kislikjeka/booksync/internal/infra/redis"
	"github.com/kislikjeka/booksync/internal/platform/classify"
	"github.com/kislikjeka/booksync/internal/platform/jobs"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/sync"
	"github.com/kislikjeka/booksync/internal/platform/writeback"
	"github.com/kislikjeka/booksync/pkg/config"
	"github.com/kislikjeka/booksync/pkg/logger"
	"github.com/kislikjeka/booksync/pkg/secret"
)

// App holds the wired components. Close releases the database and Redis.
type App struct {
	Config *config.Config
	Logger *logger.Logger

	DB    *postgres.DB
	Redis *redis.Client

	Repo       *postgres.MirrorRepository
	Tokens     *postgres.TokenStore
	Meter      *infraRedis.Meter
	Mirror     *mirror.Service
	SyncEngine *sync.Engine
	Sync       *sync.Service
	Classify   *classify.Pipeline
	Writeback  *writeback.Engine
	Jobs       *jobs.Dispatcher
}

// New connects to the database and Redis and builds every service
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := postgres.NewPool(ctx, postgres.Config{
		URL:     cfg.DatabaseURL,
		Workers: cfg.JobWorkers + cfg.SyncConcurrentConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	log.Info("Database connection established")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		db.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("Redis connection established")

	box, err := secret.NewBox(cfg.TokenSealKey)
	if err != nil {
		db.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("token seal key: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: log,
		DB:     db,
		Redis:  redisClient,
		Repo:   postgres.NewMirrorRepository(db.Pool),
		Tokens: postgres.NewTokenStore(db.Pool, box),
		Meter:  infraRedis.NewMeter(redisClient, log),
	}
	locker := infraRedis.NewLocker(redisClient, log)

	tokenManager := quickbooks.NewTokenManager(cfg.QBOTokenURL, cfg.QBOClientID, cfg.QBOClientSecret, a.Tokens, log)
	remoteClient := quickbooks.NewClient(quickbooks.Config{
		BaseURL:           cfg.QBOBaseURL,
		RequestsPerSecond: cfg.QBORequestsPerSecond,
	}, tokenManager, log)

	var provider classify.Provider
	if cfg.LLMAPIKey != "" {
		provider = llm.NewClient(llm.Config{
			BaseURL: cfg.LLMBaseURL,
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
		}, log)
	} else {
		log.Warn("LLM_API_KEY not configured, provider classification disabled")
	}

	a.Mirror = mirror.NewService(a.Repo, log)

	syncConfig := sync.DefaultConfig()
	syncConfig.PollInterval = cfg.SyncPollInterval
	syncConfig.PageSize = cfg.SyncPageSize
	syncConfig.ConcurrentConnections = cfg.SyncConcurrentConnections
	a.SyncEngine = sync.NewEngine(syncConfig, remoteClient, a.Repo, locker, log)
	a.Sync = sync.NewService(syncConfig, a.SyncEngine, a.Repo, log)

	classifyConfig := classify.DefaultConfig()
	classifyConfig.BatchSize = cfg.ClassifyBatchSize
	policy := classify.DefaultPolicy()
	if len(cfg.PremiumTiers) > 0 {
		policy.PremiumTiers = cfg.PremiumTiers
	}
	a.Classify = classify.NewPipeline(classifyConfig, policy, a.Repo, provider, a.Meter, log)

	a.Writeback = writeback.NewEngine(writeback.DefaultConfig(), remoteClient, a.Repo, locker, log)

	jobsConfig := jobs.DefaultConfig()
	jobsConfig.Workers = cfg.JobWorkers
	a.Jobs = jobs.NewDispatcher(jobsConfig, a.Sync, a.Classify, a.Writeback, a.Repo, log)

	return a, nil
}

// Close releases the connections opened by New
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn("Failed to close Redis client", "error", err)
	}
	a.DB.Close()
}
