package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestFindByEmailReturnsAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new failed: %v", err)
	}
	defer db.Close()

	createdAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "created_at"}).
		AddRow(int64(7), "alice", "alice@example.com", "$2a$10$hash", createdAt)
	mock.ExpectQuery("SELECT id, username, email, password_hash, created_at").
		WithArgs("alice@example.com").
		WillReturnRows(rows)

	repo := NewRepository(db)
	account, err := repo.FindByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail returned error: %v", err)
	}
	if account.ID != 7 || account.Username != "alice" || account.Email != "alice@example.com" {
		t.Fatalf("unexpected account: %+v", account)
	}
	if account.PasswordHash != "$2a$10$hash" {
		t.Fatalf("unexpected hash: %s", account.PasswordHash)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByEmailIsCaseExact(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new failed: %v", err)
	}
	defer db.Close()

	// 大文字小文字をそのまま渡すこと（正規化しない）を検証する
	mock.ExpectQuery("SELECT id, username, email, password_hash, created_at").
		WithArgs("Alice@Example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "created_at"}))

	repo := NewRepository(db)
	_, err = repo.FindByEmail(context.Background(), "Alice@Example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByEmailNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new failed: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, username, email, password_hash, created_at").
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "created_at"}))

	repo := NewRepository(db)
	_, err = repo.FindByEmail(context.Background(), "nobody@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByEmailWrapsDBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new failed: %v", err)
	}
	defer db.Close()

	cause := errors.New("connection reset")
	mock.ExpectQuery("SELECT id, username, email, password_hash, created_at").
		WithArgs("alice@example.com").
		WillReturnError(cause)

	repo := NewRepository(db)
	_, err = repo.FindByEmail(context.Background(), "alice@example.com")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("infrastructure failure must not look like not-found: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestCreateReturnsAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new failed: %v", err)
	}
	defer db.Close()

	createdAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO users").
		WithArgs("alice", "alice@example.com", "$2a$10$hash").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), createdAt))

	repo := NewRepository(db)
	account, err := repo.Create(context.Background(), "alice", "alice@example.com", "$2a$10$hash")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if account.ID != 1 || account.Username != "alice" || !account.CreatedAt.Equal(createdAt) {
		t.Fatalf("unexpected account: %+v", account)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateDuplicateEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new failed: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("mallory", "alice@example.com", "$2a$10$other").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	repo := NewRepository(db)
	_, err = repo.Create(context.Background(), "mallory", "alice@example.com", "$2a$10$other")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}
