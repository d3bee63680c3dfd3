// Package memory provides an in-process archive.BlobStore for development
// and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"sync"

	"github.com/ahrav/codereport/internal/domain/archive"
)

var _ archive.BlobStore = (*Store)(nil)

type object struct {
	data     []byte
	metadata map[string]string
}

// Store keeps objects in a map.
type Store struct {
	bucket string

	mu      sync.RWMutex
	objects map[string]object
}

// New creates an empty store reporting bucket as its bucket name.
func New(bucket string) *Store {
	return &Store{bucket: bucket, objects: make(map[string]object)}
}

func (s *Store) Bucket() string { return s.bucket }

func (s *Store) EnsureBucket(ctx context.Context) error { return ctx.Err() }

// Put reads body fully. A short body is rejected so partial uploads never
// become visible.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(io.LimitReader(body, size))
	if err != nil {
		return fmt.Errorf("reading object body: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("object body is %d bytes, expected %d", len(data), size)
	}

	s.mu.Lock()
	s.objects[key] = object{data: data, metadata: maps.Clone(metadata)}
	s.mu.Unlock()
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	return ok, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", archive.ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Metadata returns a copy of the metadata stored with key.
func (s *Store) Metadata(key string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return maps.Clone(obj.metadata), true
}
