package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestListReturnsNewestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new failed: %v", err)
	}
	defer db.Close()

	newer := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	older := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "user_id", "username", "content", "image", "likes", "created_at"}).
		AddRow(int64(2), int64(7), "alice", "second", "", int64(3), newer).
		AddRow(int64(1), int64(8), "bob", "first", "abc.png", int64(0), older)
	mock.ExpectQuery("SELECT p.id, p.user_id, u.username").WillReturnRows(rows)

	repo := NewRepository(db)
	posts, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("unexpected post count: %d", len(posts))
	}
	if posts[0].ID != 2 || posts[0].Likes != 3 || posts[0].Image != "" {
		t.Fatalf("unexpected first post: %+v", posts[0])
	}
	if posts[1].ID != 1 || posts[1].Username != "bob" || posts[1].Image != "abc.png" {
		t.Fatalf("unexpected second post: %+v", posts[1])
	}
}

func TestListEmptyTimelineIsNotNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new failed: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT p.id, p.user_id, u.username").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "username", "content", "image", "likes", "created_at"}))

	repo := NewRepository(db)
	posts, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if posts == nil {
		t.Fatal("empty timeline must serialize as [], not null")
	}
	if len(posts) != 0 {
		t.Fatalf("unexpected post count: %d", len(posts))
	}
}

func TestCreatePersistsPost(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new failed: %v", err)
	}
	defer db.Close()

	createdAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO posts").
		WithArgs(int64(7), "hello", "abc.png").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), createdAt))

	repo := NewRepository(db)
	post, err := repo.Create(context.Background(), 7, "hello", "abc.png")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if post.ID != 1 || post.UserID != 7 || post.Image != "abc.png" {
		t.Fatalf("unexpected post: %+v", post)
	}
}

func TestGetForUpdateMissingPost(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new failed: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, user_id, COALESCE").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "image"}))

	repo := NewRepository(db)
	_, err = repo.GetForUpdate(context.Background(), 99)

	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "POST_NOT_FOUND" {
		t.Fatalf("expected POST_NOT_FOUND, got %v", err)
	}
}

func TestLikeIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new failed: %v", err)
	}
	defer db.Close()

	// 2回目のいいねは ON CONFLICT で0行挿入となるがエラーにはならない
	mock.ExpectExec("INSERT INTO likes").
		WithArgs(int64(7), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO likes").
		WithArgs(int64(7), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewRepository(db)
	if err := repo.Like(context.Background(), 7, 1); err != nil {
		t.Fatalf("first Like returned error: %v", err)
	}
	if err := repo.Like(context.Background(), 7, 1); err != nil {
		t.Fatalf("repeated Like returned error: %v", err)
	}
}

func TestLikeMissingPost(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new failed: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO likes").
		WithArgs(int64(7), int64(99)).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "likes_post_id_fkey"})

	repo := NewRepository(db)
	err = repo.Like(context.Background(), 7, 99)

	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "POST_NOT_FOUND" {
		t.Fatalf("expected POST_NOT_FOUND, got %v", err)
	}
}
