package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Objects are written once under a fresh key and never rewritten.
const immutableCacheControl = "public, max-age=31536000, immutable"

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Object describes a stored object and the public URL it is served from.
type Object struct {
	Key string
	URL string
}

// Storage wraps an ObjectStorage backend with a stable API and knows how
// stored keys map to public URLs.
type Storage struct {
	backend       ObjectStorage
	publicBaseURL string
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage, publicBaseURL string) *Storage {
	return &Storage{
		backend:       backend,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Put uploads an object to the configured bucket.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return s.backend.Put(ctx, key, r, size, contentType)
}

// PutImage stores data under a fresh key inside folder and returns its
// public location.
func (s *Storage) PutImage(ctx context.Context, folder, ext string, data []byte, contentType string) (Object, error) {
	if len(data) == 0 {
		return Object{}, errors.New("empty object")
	}
	key := NewKey(folder, ext)
	if err := s.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return Object{}, err
	}
	return Object{Key: key, URL: s.URL(key)}, nil
}

// Get opens a reader for an object in the configured bucket.
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

// Delete removes an object from the configured bucket.
func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

// URL returns the public URL for key.
func (s *Storage) URL(key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return s.publicBaseURL + "/" + strings.Join(segments, "/")
}

// NewKey builds a collision-free object key such as "digiclo-clothes/<uuid>.png".
func NewKey(folder, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	name := uuid.NewString()
	if ext != "" {
		name += "." + ext
	}
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}

// KeyFromURL reverses URL. It reports false for URLs this storage does not
// serve.
func (s *Storage) KeyFromURL(raw string) (string, bool) {
	prefix := s.publicBaseURL + "/"
	if s.publicBaseURL == "" || !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimPrefix(raw, prefix))
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}
