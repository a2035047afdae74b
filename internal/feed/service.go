package feed

import (
	"context"
	"database/sql"
	"io"
	"log"
	"mime/multipart"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/yourusername/feedline/internal/dbx"
	"github.com/yourusername/feedline/internal/storage"
)

// Service は投稿操作のユースケースをまとめます。
type Service struct {
	db            *sql.DB
	repo          *Repository
	store         storage.Storage
	maxUploadSize int64
	logger        *log.Logger
}

// NewService は Service を作成します。
func NewService(db *sql.DB, store storage.Storage, maxUploadSize int64, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		db:            db,
		repo:          NewRepository(db),
		store:         store,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// List はタイムラインを返します。
func (s *Service) List(ctx context.Context) ([]Post, error) {
	return s.repo.List(ctx)
}

// CreatePost は投稿を作成します。photo が nil の場合はテキストのみの投稿です。
// 画像は拡張子ではなく内容のシグネチャで判定し、画像以外は拒否します。
func (s *Service) CreatePost(ctx context.Context, userID int64, username, content string, photo *multipart.FileHeader) (*Post, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, newError("INVALID_INPUT", "投稿内容を入力してください", nil)
	}

	imageName := ""
	if photo != nil {
		name, err := s.storePhoto(ctx, photo)
		if err != nil {
			return nil, err
		}
		imageName = name
	}

	post, err := s.repo.Create(ctx, userID, content, imageName)
	if err != nil {
		if imageName != "" {
			// 投稿行が作れなかった画像は残さない
			if cleanupErr := s.store.Delete(ctx, imageName); cleanupErr != nil {
				s.logger.Printf("failed to clean up orphan image name=%s: %v", imageName, cleanupErr)
			}
		}
		return nil, err
	}
	post.Username = username

	return post, nil
}

// LikePost はいいねを記録します。重複したいいねは黙って無視します。
func (s *Service) LikePost(ctx context.Context, userID, postID int64) error {
	return s.repo.Like(ctx, userID, postID)
}

// DeletePost は本人の投稿のみ削除します。所有者確認と行削除は
// 同一トランザクションで行い、画像の削除はコミット後にベストエフォートで行います。
func (s *Service) DeletePost(ctx context.Context, userID, postID int64) error {
	imageName := ""
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		repo := NewRepository(tx)
		post, err := repo.GetForUpdate(ctx, postID)
		if err != nil {
			return err
		}
		if post.UserID != userID {
			return newError("FORBIDDEN", "自分の投稿のみ削除できます", nil)
		}
		imageName = post.Image
		return repo.Delete(ctx, postID)
	})
	if err != nil {
		return err
	}

	if imageName != "" {
		if err := s.store.Delete(ctx, imageName); err != nil {
			s.logger.Printf("failed to remove image of deleted post id=%d name=%s: %v", postID, imageName, err)
		}
	}
	return nil
}

// storePhoto はアップロードされた画像を検証して保存し、保存名を返します。
func (s *Service) storePhoto(ctx context.Context, photo *multipart.FileHeader) (string, error) {
	if s.maxUploadSize > 0 && photo.Size > s.maxUploadSize {
		return "", newError("LIMIT_EXCEEDED", "画像ファイルのサイズ上限を超えています", nil)
	}

	file, err := photo.Open()
	if err != nil {
		return "", newError("INVALID_INPUT", "画像ファイルの読み込みに失敗しました", err)
	}
	defer file.Close()

	mime, err := mimetype.DetectReader(file)
	if err != nil {
		return "", newError("INVALID_INPUT", "画像ファイルの判定に失敗しました", err)
	}
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", newError("INVALID_INPUT", "画像ファイルのみアップロードできます", nil)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", newError("INVALID_INPUT", "画像ファイルの読み込みに失敗しました", err)
	}

	name := uuid.NewString() + mime.Extension()
	if err := s.store.Save(ctx, name, file); err != nil {
		return "", err
	}
	return name, nil
}
