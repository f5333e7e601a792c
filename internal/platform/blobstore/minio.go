package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	// DefaultPartSize bounds the buffer minio-go holds per upload of unknown
	// length. Left at zero it sizes parts for a 5 TiB object.
	DefaultPartSize uint64 = 16 << 20
	// MinPartSize is the smallest multipart part S3 accepts.
	MinPartSize uint64 = 5 << 20
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PartSize is the multipart chunk for streamed uploads; 0 means
	// DefaultPartSize.
	PartSize uint64
}

// MinioBlobStore keeps objects in a single bucket.
type MinioBlobStore struct {
	client   *minio.Client
	bucket   string
	partSize uint64
}

func NewMinioBlobStore(cfg MinioConfig) (*MinioBlobStore, error) {
	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = DefaultPartSize
	}
	if partSize < MinPartSize {
		return nil, fmt.Errorf("minio part size %d is below the %d byte minimum", partSize, MinPartSize)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioBlobStore{client: client, bucket: cfg.Bucket, partSize: partSize}, nil
}

// EnsureBucket creates the bucket unless it already exists.
func (s *MinioBlobStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *MinioBlobStore) Upload(ctx context.Context, name, contentType string, content io.Reader) (*BlobMetadata, error) {
	if name == "" {
		return nil, ErrMissingFileName
	}
	info, err := s.client.PutObject(ctx, s.bucket, name, content, -1, s.putOptions(contentType))
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", name, err)
	}
	return &BlobMetadata{
		Name:        name,
		ContentType: contentType,
		Size:        info.Size,
		Hash:        info.ETag,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// putOptions fixes PartSize so an upload of unknown length holds one part
// in memory at a time.
func (s *MinioBlobStore) putOptions(contentType string) minio.PutObjectOptions {
	return minio.PutObjectOptions{ContentType: contentType, PartSize: s.partSize}
}

func (s *MinioBlobStore) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", name, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("stat object %s: %w", name, err)
	}
	return obj, nil
}

func (s *MinioBlobStore) PresignedURL(ctx context.Context, name string, expiry time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", baseName(name)))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, name, expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", name, err)
	}
	return u.String(), nil
}

func baseName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[i+1:]
		}
	}
	return name
}
