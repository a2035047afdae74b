package feed

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/feedline/internal/auth"
)

// ListService はタイムライン取得を提供します。
type ListService interface {
	List(ctx context.Context) ([]Post, error)
}

// PostService は投稿の作成・削除・いいねを提供します。
type PostService interface {
	CreatePost(ctx context.Context, userID int64, username, content string, photo *multipart.FileHeader) (*Post, error)
	DeletePost(ctx context.Context, userID, postID int64) error
	LikePost(ctx context.Context, userID, postID int64) error
}

// FeedHandler は GET /api/feed のハンドラーを返します。
func FeedHandler(svc ListService) gin.HandlerFunc {
	return func(c *gin.Context) {
		posts, err := svc.List(c.Request.Context())
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"posts": posts})
	}
}

// CreatePostHandler は POST /api/posts のハンドラーを返します。
// multipart/form-data で content（必須）と photo（任意の画像）を受け取ります。
func CreatePostHandler(svc PostService) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.IdentityFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}

		content := c.PostForm("content")

		photo, err := c.FormFile("photo")
		if err != nil {
			if !errors.Is(err, http.ErrMissingFile) {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "photo の受け取りに失敗しました",
				})
				return
			}
			photo = nil
		}

		post, err := svc.CreatePost(c.Request.Context(), identity.ID, identity.Username, content, photo)
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusCreated, post)
	}
}

// LikePostHandler は POST /api/posts/:id/like のハンドラーを返します。
func LikePostHandler(svc PostService) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.IdentityFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}

		postID, err := parsePostID(c)
		if err != nil {
			respondWithError(c, err)
			return
		}

		if err := svc.LikePost(c.Request.Context(), identity.ID, postID); err != nil {
			respondWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// DeletePostHandler は DELETE /api/posts/:id のハンドラーを返します。
func DeletePostHandler(svc PostService) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.IdentityFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}

		postID, err := parsePostID(c)
		if err != nil {
			respondWithError(c, err)
			return
		}

		if err := svc.DeletePost(c.Request.Context(), identity.ID, postID); err != nil {
			respondWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func parsePostID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, newError("INVALID_INPUT", "投稿IDが正しくありません", err)
	}
	return id, nil
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		switch apiErr.Code {
		case "POST_NOT_FOUND":
			status = http.StatusNotFound
		case "FORBIDDEN":
			status = http.StatusForbidden
		case "LIMIT_EXCEEDED":
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました",
		})
	}
}
