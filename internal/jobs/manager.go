// Package jobs は非同期イベント処理を提供します。現在は資格情報変更時の
// キャッシュ無効化イベントのみを扱います。パスワード変更フロー自体は
// このサービスの外にあり、変更を行う側が PublishCredentialChanged を
// 呼び出すことでキャッシュの自然失効を待たずにエントリを落とせます。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
)

const (
	taskTypeInvalidateCredential = "auth:invalidate_credential"

	queueAuth = "auth"
)

// CredentialInvalidator は資格情報キャッシュのエントリ削除を提供します。
// internal/auth.CredentialCache が実装します。
type CredentialInvalidator interface {
	Invalidate(ctx context.Context, email string) error
}

// Manager はイベントの発行とワーカーの稼働を担います。
type Manager struct {
	client      *asynq.Client
	server      *asynq.Server
	mux         *asynq.ServeMux
	invalidator CredentialInvalidator
	logger      *log.Logger
}

// CredentialChangedPayload は資格情報変更イベントのペイロードです。
type CredentialChangedPayload struct {
	Email string `json:"email"`
}

// NewManager は Manager を初期化します。
func NewManager(redisURL string, invalidator CredentialInvalidator, logger *log.Logger) (*Manager, error) {
	if invalidator == nil {
		return nil, errors.New("invalidator is nil")
	}
	if logger == nil {
		logger = log.Default()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				queueAuth: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		client:      client,
		server:      server,
		mux:         mux,
		invalidator: invalidator,
		logger:      logger,
	}
	mux.HandleFunc(taskTypeInvalidateCredential, manager.handleInvalidateCredential)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.logger.Printf("asynq server stopped with error: %v", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// PublishCredentialChanged は資格情報変更イベントをキューに投入します。
func (m *Manager) PublishCredentialChanged(ctx context.Context, email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}

	body, err := json.Marshal(&CredentialChangedPayload{Email: email})
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskTypeInvalidateCredential, body, asynq.Queue(queueAuth))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return err
	}
	return nil
}

func (m *Manager) handleInvalidateCredential(ctx context.Context, task *asynq.Task) error {
	var payload CredentialChangedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.Email == "" {
		return fmt.Errorf("missing email in payload")
	}

	if err := m.invalidator.Invalidate(ctx, payload.Email); err != nil {
		return err
	}
	m.logger.Printf("credential cache invalidated email=%s", payload.Email)
	return nil
}
