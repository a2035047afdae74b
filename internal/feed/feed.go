// Package feed は投稿・いいね・タイムライン機能を提供します。
package feed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/yourusername/feedline/internal/dbx"
)

// Post はタイムライン上の1投稿を表します。
type Post struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Image     string    `json:"image,omitempty"`
	Likes     int64     `json:"likes"`
	CreatedAt time.Time `json:"createdAt"`
}

// Error はAPI応答にそのまま変換できる業務エラーです。
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Repository は posts / likes テーブルへのアクセスを提供します。
type Repository struct {
	db dbx.DBTX
}

// NewRepository は Repository を作成します。
func NewRepository(db dbx.DBTX) *Repository {
	return &Repository{db: db}
}

// List はタイムラインを新しい順に返します。いいね数は相関サブクエリで数えます。
func (r *Repository) List(ctx context.Context) ([]Post, error) {
	query := `SELECT p.id, p.user_id, u.username, p.content, COALESCE(p.image, ''),
	                 (SELECT COUNT(*) FROM likes l WHERE l.post_id = p.id) AS likes,
	                 p.created_at
	          FROM posts p
	          JOIN users u ON u.id = p.user_id
	          ORDER BY p.created_at DESC, p.id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	posts := []Post{}
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.UserID, &p.Username, &p.Content, &p.Image, &p.Likes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return posts, nil
}

// Create は新しい投稿を保存します。image が空文字の場合はNULLで保存します。
func (r *Repository) Create(ctx context.Context, userID int64, content, image string) (*Post, error) {
	query := `INSERT INTO posts (user_id, content, image)
	          VALUES ($1, $2, NULLIF($3, ''))
	          RETURNING id, created_at`

	post := &Post{
		UserID:  userID,
		Content: content,
		Image:   image,
	}
	err := r.db.QueryRowContext(ctx, query, userID, content, image).
		Scan(&post.ID, &post.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return post, nil
}

// GetForUpdate は削除前の所有者確認用に行ロック付きで投稿を取得します。
// トランザクション内で呼び出すことを前提とします。
func (r *Repository) GetForUpdate(ctx context.Context, postID int64) (*Post, error) {
	query := `SELECT id, user_id, COALESCE(image, '')
	          FROM posts
	          WHERE id = $1
	          FOR UPDATE`

	post := &Post{}
	err := r.db.QueryRowContext(ctx, query, postID).
		Scan(&post.ID, &post.UserID, &post.Image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newError("POST_NOT_FOUND", "指定された投稿は存在しません", nil)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return post, nil
}

// Delete は投稿を削除します。likes はスキーマ側のカスケードで消えます。
func (r *Repository) Delete(ctx context.Context, postID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, postID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Like はいいねを記録します。同一ユーザーによる重複は無視します（冪等）。
func (r *Repository) Like(ctx context.Context, userID, postID int64) error {
	query := `INSERT INTO likes (user_id, post_id)
	          VALUES ($1, $2)
	          ON CONFLICT DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, userID, postID); err != nil {
		if isForeignKeyViolation(err) {
			return newError("POST_NOT_FOUND", "指定された投稿は存在しません", err)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// isForeignKeyViolation はPostgreSQLの外部キー制約違反（SQLSTATE 23503）かどうかを判定します。
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
