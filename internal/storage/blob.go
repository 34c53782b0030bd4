// Package storage persists raw uploads behind a URI.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
)

var ErrObjectNotFound = errors.New("object not found")

// BlobStore is the raw-file collaborator. The pipeline only stores bytes once
// and dereferences the returned URI afterwards.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Get(ctx context.Context, uri string) ([]byte, error)
}

// ObjectKey builds <owner>/<document>/<display name>.<ext>.
func ObjectKey(ownerID, documentID, displayName, extension string) string {
	name := sanitizeSegment(displayName)
	if name == "" {
		name = "upload"
	}
	extension = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(extension)), ".")
	if extension != "" {
		name += "." + extension
	}
	return path.Join(sanitizeSegment(ownerID), sanitizeSegment(documentID), name)
}

func sanitizeSegment(value string) string {
	value = strings.TrimSpace(value)
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return replacer.Replace(value)
}

// MemoryBlobStore keeps objects in memory under mem://<key>.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("object key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// First write wins, like the conditional write of the GCS store.
	if _, exists := s.objects[key]; !exists {
		s.objects[key] = append([]byte(nil), data...)
	}
	return "mem://" + key, nil
}

func (s *MemoryBlobStore) Get(_ context.Context, uri string) ([]byte, error) {
	key, ok := strings.CutPrefix(uri, "mem://")
	if !ok {
		return nil, fmt.Errorf("unsupported uri %q", uri)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, exists := s.objects[key]
	if !exists {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}
