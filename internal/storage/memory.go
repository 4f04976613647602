package storage

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryProvider is an in-process Provider used by tests and dry runs.
type MemoryProvider struct {
	mu      sync.Mutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data         []byte
	metadata     map[string]string
	lastModified time.Time
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{objects: make(map[string]memoryObject)}
}

func (m *MemoryProvider) Upload(ctx context.Context, key string, data io.Reader, metadata map[string]string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{
		data:         buf,
		metadata:     meta,
		lastModified: time.Now(),
	}
	return nil
}

func (m *MemoryProvider) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []ObjectInfo
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		items = append(items, ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			LastModified: obj.lastModified,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}

func (m *MemoryProvider) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		Fingerprint:  obj.metadata[MetaFingerprint],
		LastModified: obj.lastModified,
	}, nil
}

func (m *MemoryProvider) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Object returns the stored bytes and metadata for key, for assertions.
func (m *MemoryProvider) Object(key string) ([]byte, map[string]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, nil, false
	}
	return obj.data, obj.metadata, true
}

// Len returns the number of stored objects.
func (m *MemoryProvider) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
