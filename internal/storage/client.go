package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
}

// Client wraps minio with the handful of operations the derivative
// pipeline needs. Methods accept an explicit bucket; an empty bucket falls
// back to the configured default.
type Client struct {
	minio  *minio.Client
	bucket string
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Client{
		minio:  mc,
		bucket: cfg.Bucket,
	}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) bucketOrDefault(bucket string) string {
	if strings.TrimSpace(bucket) == "" {
		return c.bucket
	}
	return bucket
}

func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	bucket = c.bucketOrDefault(bucket)
	exists, err := c.minio.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.minio.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := c.minio.BucketExists(ctx, bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}

	return nil
}

// List yields every object key under prefix in listing order. Directory
// placeholder keys are skipped. Stopping the iteration cancels the listing.
func (c *Client) List(ctx context.Context, bucket, prefix string) iter.Seq2[string, error] {
	bucket = c.bucketOrDefault(bucket)
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		objects := c.minio.ListObjects(ctx, bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		})
		for obj := range objects {
			if obj.Err != nil {
				yield("", fmt.Errorf("list objects %s/%s: %w", bucket, prefix, obj.Err))
				return
			}
			if strings.HasSuffix(obj.Key, "/") {
				continue
			}
			if !yield(obj.Key, nil) {
				return
			}
		}
	}
}

// Download writes the object to localPath. A partially written file is
// removed on failure.
func (c *Client) Download(ctx context.Context, bucket, objectKey, localPath string) error {
	bucket = c.bucketOrDefault(bucket)
	if err := c.minio.FGetObject(ctx, bucket, objectKey, localPath, minio.GetObjectOptions{}); err != nil {
		if rmErr := os.Remove(localPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return fmt.Errorf("get object %s/%s: %w (cleanup: %v)", bucket, objectKey, err, rmErr)
		}
		return fmt.Errorf("get object %s/%s: %w", bucket, objectKey, err)
	}
	return nil
}

func (c *Client) Upload(ctx context.Context, localPath, bucket, objectKey string) error {
	bucket = c.bucketOrDefault(bucket)
	_, err := c.minio.FPutObject(
		ctx,
		bucket,
		objectKey,
		localPath,
		minio.PutObjectOptions{ContentType: contentTypeForPath(localPath)},
	)
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, objectKey, err)
	}
	return nil
}

func contentTypeForPath(p string) string {
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".tif", ".tiff":
		return "image/tiff"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}
