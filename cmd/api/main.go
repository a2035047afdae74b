// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/feedline/internal/auth"
	"github.com/yourusername/feedline/internal/config"
	"github.com/yourusername/feedline/internal/feed"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// 依存コンポーネントの組み立て（DB・Redis・ストレージ）
	deps, err := setupDependencies(cfg)
	if err != nil {
		log.Fatalf("Failed to set up dependencies: %v", err)
	}
	defer deps.Close()

	// 無効化イベントワーカーの起動
	deps.jobs.StartWorkers()

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（Redis保存、クッキー署名鍵は必須）
	store, err := setupSessionStore(cfg)
	if err != nil {
		log.Fatalf("Failed to set up session store: %v", err)
	}
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, deps)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "feedline-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, deps *dependencies) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	// アップロード画像の静的配信
	router.Static("/uploads", deps.uploads.BaseDir())

	authHandlers := auth.NewHandlers(deps.authenticator, log.Default())

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/register", authHandlers.Register)
			authRoutes.POST("/login", authHandlers.Login)
			authRoutes.POST("/logout",
				authHandlers.RequireLogin(),
				authHandlers.VerifyCSRF(),
				authHandlers.Logout,
			)
		}

		protected := api.Group("")
		protected.Use(authHandlers.RequireLogin(), authHandlers.VerifyCSRF())
		{
			protected.GET("/feed", feed.FeedHandler(deps.feed))
			protected.POST("/posts", feed.CreatePostHandler(deps.feed))
			protected.POST("/posts/:id/like", feed.LikePostHandler(deps.feed))
			protected.DELETE("/posts/:id", feed.DeletePostHandler(deps.feed))
		}
	}
}
