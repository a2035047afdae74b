// Package storage は投稿画像のストレージ抽象化レイヤーを提供します。
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Storage は画像ファイルの保存・削除を提供します。
// 保存レイアウトは実装の自由であり、削除契約（投稿削除時に対応する
// 画像が取り除けること）だけが呼び出し側との約束です。
type Storage interface {
	Save(ctx context.Context, name string, src io.Reader) error
	Delete(ctx context.Context, name string) error
	Path(name string) string
}

// Local はローカルファイルシステム実装です（開発・単一ノード運用向け）。
type Local struct {
	baseDir string
}

// NewLocal は保存先ディレクトリを作成して Local を返します。
func NewLocal(baseDir string) (*Local, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("baseDir is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Local{baseDir: baseDir}, nil
}

// Save は src の内容を name で保存します。
// name はサーバー側で生成した識別子であることを前提とし、
// パス区切りを含む名前は拒否します。
func (l *Local) Save(ctx context.Context, name string, src io.Reader) error {
	path, err := l.resolve(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, src); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Delete は name に対応するファイルを削除します。存在しない場合もエラーにしません。
func (l *Local) Delete(ctx context.Context, name string) error {
	path, err := l.resolve(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// Path は name に対応するローカルパスを返します（静的配信用）。
func (l *Local) Path(name string) string {
	return filepath.Join(l.baseDir, name)
}

// BaseDir は保存先ディレクトリを返します。
func (l *Local) BaseDir() string {
	return l.baseDir
}

func (l *Local) resolve(name string) (string, error) {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid file name: %q", name)
	}
	return filepath.Join(l.baseDir, name), nil
}
