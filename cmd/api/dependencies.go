package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-contrib/sessions"
	ginredis "github.com/gin-contrib/sessions/redis"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/feedline/internal/auth"
	"github.com/yourusername/feedline/internal/config"
	"github.com/yourusername/feedline/internal/feed"
	"github.com/yourusername/feedline/internal/jobs"
	"github.com/yourusername/feedline/internal/storage"
	"github.com/yourusername/feedline/internal/users"
	"github.com/yourusername/feedline/internal/users/migrations"
)

// dependencies はアプリケーションの配線済みコンポーネントをまとめます。
type dependencies struct {
	db            *sql.DB
	redisClient   *redis.Client
	uploads       *storage.Local
	authenticator *auth.Authenticator
	feed          *feed.Service
	jobs          *jobs.Manager
}

// Close は保持しているリソースを閉じます。
func (d *dependencies) Close() {
	if d.jobs != nil {
		_ = d.jobs.Shutdown(context.Background())
	}
	if d.redisClient != nil {
		_ = d.redisClient.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

// setupDependencies はDB・Redis・ストレージと各サービスを組み立てます。
func setupDependencies(cfg *config.Config) (*dependencies, error) {
	db, err := setupDatabase(cfg)
	if err != nil {
		return nil, err
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(opt)

	uploads, err := storage.NewLocal(cfg.UploadDir)
	if err != nil {
		db.Close()
		redisClient.Close()
		return nil, err
	}

	credCache := auth.NewCredentialCache(redisClient, cfg.CredentialCacheTTL())
	userRepo := users.NewRepository(db)

	authenticator, err := auth.NewAuthenticator(
		credCache,
		userRepo,
		cfg.CacheTimeout,
		cfg.DBTimeout,
		log.Default(),
		nil,
	)
	if err != nil {
		db.Close()
		redisClient.Close()
		return nil, err
	}

	feedService := feed.NewService(db, uploads, cfg.MaxUploadSize, log.Default())

	jobsManager, err := jobs.NewManager(cfg.RedisURL, credCache, log.Default())
	if err != nil {
		db.Close()
		redisClient.Close()
		return nil, err
	}

	return &dependencies{
		db:            db,
		redisClient:   redisClient,
		uploads:       uploads,
		authenticator: authenticator,
		feed:          feedService,
		jobs:          jobsManager,
	}, nil
}

// setupDatabase はPostgreSQLに接続し、埋め込みマイグレーションを適用します。
func setupDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.UpContext(context.Background(), db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return db, nil
}

// setupSessionStore はRedis保存のセッションストアを作成します。
func setupSessionStore(cfg *config.Config) (sessions.Store, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	store, err := ginredis.NewStore(10, "tcp", opt.Addr, opt.Username, opt.Password, []byte(cfg.SessionSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   12 * 60 * 60,
		HttpOnly: true,
		Secure:   cfg.GinMode == "release",
		SameSite: http.SameSiteStrictMode,
	})
	return store, nil
}
