// Package dbx はリポジトリ層で共有する小さなDB抽象を提供します。
// *sql.DB と *sql.Tx の両方が満たす最小インターフェース（DBTX）と、
// トランザクション内で関数を実行するヘルパーを含みます。
package dbx

import (
	"context"
	"database/sql"
)

// DBTX はリポジトリが使用する database/sql のサブセットです。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx はトランザクションを開始し fn を実行します。
// fn がエラーまたはpanicの場合はロールバックし、成功時はコミットします。
func WithTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
