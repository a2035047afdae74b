package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/feedline/internal/users"
)

const credentialKeyPrefix = "cred:"

// CredentialCache はアカウントレコードのスナップショットをRedisに保持します。
// エントリは固定TTL付きで書き込まれ、読み取り時のTTL延長は行いません。
// パスワードハッシュ変更後も自然失効までは古いスナップショットが残ります
// （既知の整合性トレードオフ。詳細は DESIGN.md を参照）。
type CredentialCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCredentialCache は CredentialCache を作成します。
func NewCredentialCache(rdb *redis.Client, ttl time.Duration) *CredentialCache {
	return &CredentialCache{
		rdb: rdb,
		ttl: ttl,
	}
}

// TTL はエントリの有効期限を返します。
func (c *CredentialCache) TTL() time.Duration {
	return c.ttl
}

// Get はメールアドレスに対応するスナップショットを取得します。
// エントリが存在しない（または失効済みの）場合は (nil, nil) を返します。
// Redisへの接続エラーは「不在」と混同せず、そのままエラーとして返します。
func (c *CredentialCache) Get(ctx context.Context, email string) (*users.Account, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	data, err := c.rdb.Get(ctx, credentialKey(email)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var account users.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Set はスナップショットを固定TTL付きで保存します。
// 同一キーへの上書きは可換（同じ導出・同じTTL）なのでロックは不要です。
func (c *CredentialCache) Set(ctx context.Context, email string, account *users.Account) error {
	if account == nil {
		return fmt.Errorf("account is nil")
	}
	payload, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, credentialKey(email), payload, c.ttl).Err()
}

// Invalidate はエントリを削除します。認証経路からは呼ばれず、
// 資格情報変更イベントの購読側（internal/jobs）だけが使用します。
func (c *CredentialCache) Invalidate(ctx context.Context, email string) error {
	return c.rdb.Del(ctx, credentialKey(email)).Err()
}

func credentialKey(email string) string {
	return credentialKeyPrefix + email
}
