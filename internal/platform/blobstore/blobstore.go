// Package blobstore stores generated artifacts (worklist CSV exports) in an
// S3-compatible bucket. BlobStore has a MinIO implementation for deployments
// and an in-memory one for tests and local runs without object storage.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrMissingFileName = errors.New("object name is required")
)

// BlobMetadata describes a stored object.
type BlobMetadata struct {
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type BlobStore interface {
	// Upload streams content into name. Size is unknown up front.
	Upload(ctx context.Context, name, contentType string, content io.Reader) (*BlobMetadata, error)
	Download(ctx context.Context, name string) (io.ReadCloser, error)
	// PresignedURL returns a time-limited GET URL for name.
	PresignedURL(ctx context.Context, name string, expiry time.Duration) (string, error)
}

// ExportObjectName lays exports out by day so buckets stay browsable:
// exports/2024/03/09/worklist-<key>-20240309T101500Z.csv
func ExportObjectName(key string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("exports/%s/worklist-%s-%s.csv",
		at.Format("2006/01/02"), key, at.Format("20060102T150405Z"))
}

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryBlobStore is a map-backed BlobStore.
type InMemoryBlobStore struct {
	mu      sync.RWMutex
	blobs   map[string]*storedBlob
	baseURL string
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string]*storedBlob), baseURL: "memory://blobs/"}
}

func (s *InMemoryBlobStore) Upload(_ context.Context, name, contentType string, content io.Reader) (*BlobMetadata, error) {
	if name == "" {
		return nil, ErrMissingFileName
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	sum := sha256.Sum256(data)
	meta := BlobMetadata{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hex.EncodeToString(sum[:]),
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.blobs[name] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryBlobStore) Download(_ context.Context, name string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[name]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(b.content)), nil
}

func (s *InMemoryBlobStore) PresignedURL(_ context.Context, name string, expiry time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.blobs[name]
	s.mu.RUnlock()
	if !ok {
		return "", ErrBlobNotFound
	}
	q := url.Values{"expires": []string{expiry.String()}}
	return s.baseURL + name + "?" + q.Encode(), nil
}
