// Package archive moves generated images out of inline data URIs and into
// object storage, so history entries hold short, durable URLs.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/papercomputeco/quill/pkg/config"
	"github.com/papercomputeco/quill/pkg/llm"
	"github.com/papercomputeco/quill/pkg/store"
)

// Archiver rewrites an image URL into a durable one.
type Archiver interface {
	Archive(ctx context.Context, imageURL string) (string, error)
}

// Nop returns every URL unchanged. It is used when archiving is disabled.
type Nop struct{}

func (Nop) Archive(_ context.Context, imageURL string) (string, error) {
	return imageURL, nil
}

// objectAPI is the subset of *minio.Client the archiver uses.
type objectAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// MinioArchiver uploads data URI images to an S3-compatible bucket.
type MinioArchiver struct {
	api           objectAPI
	bucket        string
	publicBaseURL string
	expiry        time.Duration
	logger        *zap.Logger
}

var _ Archiver = (*MinioArchiver)(nil)

// NewMinioArchiver creates an archiver from the [archive] config section.
func NewMinioArchiver(cfg config.ArchiveConfig, logger *zap.Logger) (*MinioArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newMinioArchiver(client, cfg, logger), nil
}

func newMinioArchiver(api objectAPI, cfg config.ArchiveConfig, logger *zap.Logger) *MinioArchiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinioArchiver{
		api:           api,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		expiry:        cfg.PresignExpiry.Duration,
		logger:        logger,
	}
}

// Archive uploads a data URI image and returns its URL. Objects are named
// by content, so archiving the same image twice yields the same URL.
// Non-data URLs are returned unchanged.
func (a *MinioArchiver) Archive(ctx context.Context, imageURL string) (string, error) {
	if !llm.IsDataURI(imageURL) {
		return imageURL, nil
	}

	mimeType, data, err := llm.ParseDataURI(imageURL)
	if err != nil {
		return "", fmt.Errorf("archive image: %w", err)
	}

	key := "images/" + store.ContentID(imageURL) + extension(mimeType)
	_, err = a.api.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	a.logger.Debug("archived image",
		zap.String("bucket", a.bucket),
		zap.String("key", key),
		zap.Int("size", len(data)),
	)

	if a.publicBaseURL != "" {
		return a.publicBaseURL + "/" + a.bucket + "/" + key, nil
	}

	u, err := a.api.PresignedGetObject(ctx, a.bucket, key, a.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// ArchiveAll rewrites every image in images, stopping at the first failure.
func ArchiveAll(ctx context.Context, a Archiver, images []llm.Image) ([]llm.Image, error) {
	out := make([]llm.Image, len(images))
	for i, img := range images {
		u, err := a.Archive(ctx, img.ImageURL.URL)
		if err != nil {
			return nil, err
		}
		out[i] = llm.NewImage(u)
	}
	return out, nil
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
