// Package users はアカウントの永続化層（真実のソース）を提供します。
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/yourusername/feedline/internal/dbx"
)

var (
	// ErrNotFound は指定されたメールアドレスのアカウントが存在しないことを表します。
	ErrNotFound = errors.New("account not found")
	// ErrDuplicateEmail はメールアドレスの一意制約違反を表します。
	ErrDuplicateEmail = errors.New("email already registered")
)

// Account はアカウントの永続レコードです。
// PasswordHash はbcryptハッシュであり、平文と等値比較してはいけません
// （検証は必ず bcrypt.CompareHashAndPassword 経由で行います）。
type Account struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Repository は users テーブルへのアクセスを提供します。
type Repository struct {
	db dbx.DBTX
}

// NewRepository は Repository を作成します。
func NewRepository(db dbx.DBTX) *Repository {
	return &Repository{db: db}
}

// FindByEmail はメールアドレスでアカウントを検索します。
// メールアドレスは受け取ったままの表記で比較します（小文字化等の正規化は行いません）。
// 該当がない場合は ErrNotFound を返します。
func (r *Repository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	query := `SELECT id, username, email, password_hash, created_at
	          FROM users
	          WHERE email = $1`

	account := &Account{}
	err := r.db.QueryRowContext(ctx, query, email).
		Scan(&account.ID, &account.Username, &account.Email, &account.PasswordHash, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

// Create は新しいアカウントを登録します。passwordHash はハッシュ化済みで渡します。
// メールアドレスが既に存在する場合は ErrDuplicateEmail を返します。
func (r *Repository) Create(ctx context.Context, username, email, passwordHash string) (*Account, error) {
	query := `INSERT INTO users (username, email, password_hash)
	          VALUES ($1, $2, $3)
	          RETURNING id, created_at`

	account := &Account{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}
	err := r.db.QueryRowContext(ctx, query, username, email, passwordHash).
		Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

// isUniqueViolation はPostgreSQLの一意制約違反（SQLSTATE 23505）かどうかを判定します。
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
