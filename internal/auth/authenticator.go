// Package auth は資格情報の検証経路（キャッシュ＋永続ストア）と
// それを取り巻くHTTP認証機能を提供します。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/feedline/internal/users"
)

// Identity は認証に成功した主体を表す最小のレコードです。
// 秘密情報は一切含めず、セッション確立側へそのまま渡します。
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// FailureReason は認証失敗の内部的な理由です。ログ・計測専用であり、
// 呼び出し側に見せる失敗は常に単一の「資格情報が無効」に畳み込みます
// （アカウント列挙の防止）。
type FailureReason string

const (
	// ReasonNotFound は識別子に対応するアカウントが存在しないことを表します。
	ReasonNotFound FailureReason = "not_found"
	// ReasonWrongSecret はパスワード検証の失敗を表します。
	ReasonWrongSecret FailureReason = "wrong_secret"
)

// ErrInvalidCredentials は外部に公開する唯一の認証失敗です。
// errors.Is(err, ErrInvalidCredentials) で判定できます。
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthError は内部理由付きの認証失敗です。Error() は理由を含まない
// 不透明なメッセージを返します。
type AuthError struct {
	Reason FailureReason
}

func (e *AuthError) Error() string {
	return "invalid credentials"
}

// Is は ErrInvalidCredentials との比較を成立させます。
func (e *AuthError) Is(target error) bool {
	return target == ErrInvalidCredentials
}

// Probe は認証経路の観測フックです。呼び出し順は
// キャッシュ参照 → （コールドパスのみ）ストア参照 → （成功時のみ）キャッシュ書込
// であることが保証されます。テスト・計測用で、実装は副作用を持ってはいけません。
type Probe interface {
	CacheHit(identifier string)
	CacheMiss(identifier string)
	CacheError(identifier string, err error)
	StoreLookup(identifier string)
	CacheFill(identifier string)
}

type noopProbe struct{}

func (noopProbe) CacheHit(string) {}

func (noopProbe) CacheMiss(string) {}

func (noopProbe) CacheError(string, error) {}

func (noopProbe) StoreLookup(string) {}

func (noopProbe) CacheFill(string) {}

// AccountStore はアカウントの真実のソースへのアクセスです。
// internal/users.Repository が実装します。
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*users.Account, error)
	Create(ctx context.Context, username, email, passwordHash string) (*users.Account, error)
}

// Authenticator はキャッシュ→ストアの順で資格情報を検証します。
//
// ウォームパス（キャッシュヒット）での検証失敗は確定的な失敗として扱い、
// ストアへはフォールバックしません。キャッシュ後にパスワードが変更された
// 場合、エントリの自然失効まで新パスワードでのログインは失敗します。
// 一方、キャッシュの接続障害・タイムアウトは「不在」と区別し、
// ストア直行のコールドパスへ縮退します（ログインはキャッシュ可用性に
// 依存しません）。
type Authenticator struct {
	cache        *CredentialCache
	store        AccountStore
	cacheTimeout time.Duration
	dbTimeout    time.Duration
	logger       *log.Logger
	probe        Probe
}

// NewAuthenticator は Authenticator を作成します。probe が nil の場合は
// 何もしないフックが使われます。
func NewAuthenticator(cache *CredentialCache, store AccountStore, cacheTimeout, dbTimeout time.Duration, logger *log.Logger, probe Probe) (*Authenticator, error) {
	if cache == nil {
		return nil, errors.New("cache is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if probe == nil {
		probe = noopProbe{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Authenticator{
		cache:        cache,
		store:        store,
		cacheTimeout: cacheTimeout,
		dbTimeout:    dbTimeout,
		logger:       logger,
		probe:        probe,
	}, nil
}

// Authenticate は識別子（ログイン用メールアドレス）と平文パスワードを検証し、
// 成功時に Identity を返します。識別子の正規化（小文字化等）は行いません。
//
// 失敗は次の2系統に分かれます:
//   - *AuthError: 資格情報の不一致（理由は内部用）。errors.Is(err, ErrInvalidCredentials) が真。
//   - それ以外: ストア側のインフラ障害。呼び出し側は「資格情報が無効」と表示してはいけません。
func (a *Authenticator) Authenticate(ctx context.Context, identifier, secret string) (Identity, error) {
	candidate := a.lookupCache(ctx, identifier)
	if candidate != nil {
		// ウォームパス。TTLの延長は行わない。
		if verifySecret(candidate.PasswordHash, secret) {
			return Identity{ID: candidate.ID, Username: candidate.Username}, nil
		}
		// キャッシュヒットでの検証失敗は確定。ストアへは落ちない。
		return Identity{}, &AuthError{Reason: ReasonWrongSecret}
	}

	// コールドパス。
	a.probe.StoreLookup(identifier)
	dbCtx, cancel := context.WithTimeout(ctx, a.dbTimeout)
	defer cancel()
	account, err := a.store.FindByEmail(dbCtx, identifier)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return Identity{}, &AuthError{Reason: ReasonNotFound}
		}
		return Identity{}, fmt.Errorf("account lookup failed: %w", err)
	}

	if !verifySecret(account.PasswordHash, secret) {
		return Identity{}, &AuthError{Reason: ReasonWrongSecret}
	}

	// 検証に成功したコールドパスでのみキャッシュを埋める。
	// 書き込み失敗はログインの成否に影響させない。
	fillCtx, cancelFill := context.WithTimeout(ctx, a.cacheTimeout)
	defer cancelFill()
	if err := a.cache.Set(fillCtx, identifier, account); err != nil {
		a.logger.Printf("credential cache fill failed identifier=%s: %v", identifier, err)
	} else {
		a.probe.CacheFill(identifier)
	}

	return Identity{ID: account.ID, Username: account.Username}, nil
}

// lookupCache はキャッシュを参照し、ヒット時のみ候補を返します。
// 不在・接続エラー・壊れたエントリはすべて nil（コールドパス行き）です。
func (a *Authenticator) lookupCache(ctx context.Context, identifier string) *users.Account {
	cacheCtx, cancel := context.WithTimeout(ctx, a.cacheTimeout)
	defer cancel()

	candidate, err := a.cache.Get(cacheCtx, identifier)
	if err != nil {
		// 接続障害はストア直行に縮退させる。認証失敗にはしない。
		a.probe.CacheError(identifier, err)
		a.logger.Printf("credential cache degraded, falling back to store identifier=%s: %v", identifier, err)
		return nil
	}
	if candidate == nil {
		a.probe.CacheMiss(identifier)
		return nil
	}
	a.probe.CacheHit(identifier)
	return candidate
}

// Register は平文パスワードをハッシュ化して新規アカウントを作成します。
// メールアドレス重複時は users.ErrDuplicateEmail を返します。
func (a *Authenticator) Register(ctx context.Context, username, email, password string) (Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, fmt.Errorf("password hashing failed: %w", err)
	}

	dbCtx, cancel := context.WithTimeout(ctx, a.dbTimeout)
	defer cancel()
	account, err := a.store.Create(dbCtx, username, email, string(hash))
	if err != nil {
		return Identity{}, err
	}

	return Identity{ID: account.ID, Username: account.Username}, nil
}

// verifySecret はbcryptの定数時間比較でパスワードを検証します。
// CPUバウンドな処理のため、ロックを保持したまま呼んではいけません。
func verifySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
