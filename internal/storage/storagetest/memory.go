// Package storagetest provides an in-memory storage.ObjectStore for tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/modelzoo/modelzoo/internal/storage"
)

type object struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in a map keyed by "bucket/key". Fail* hooks inject errors.
type MemoryStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]object

	FailPut    func(key string) error
	FailCopy   func(srcKey, key string) error
	FailDelete func(key string) error
}

var _ storage.ObjectStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store for bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: map[string]object{}}
}

// Seed stores an object in any bucket, e.g. a source for Copy.
func (m *MemoryStore) Seed(bucket, key string, data []byte, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = object{data: data, contentType: contentType}
}

// Has reports whether key exists in the store's bucket.
func (m *MemoryStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[m.bucket+"/"+key]
	return ok
}

// Bucket implements storage.ObjectStore.
func (m *MemoryStore) Bucket() string {
	return m.bucket
}

// EnsureBucket implements storage.ObjectStore.
func (m *MemoryStore) EnsureBucket(context.Context) error {
	return nil
}

// Put implements storage.ObjectStore.
func (m *MemoryStore) Put(_ context.Context, key string, body io.Reader, contentType string) error {
	if m.FailPut != nil {
		if err := m.FailPut(key); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	m.Seed(m.bucket, key, buf.Bytes(), contentType)
	return nil
}

// Get implements storage.ObjectStore.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[m.bucket+"/"+key]
	if !ok {
		return nil, "", errors.Wrap(storage.ErrObjectNotFound, key)
	}
	return obj.data, obj.contentType, nil
}

// Copy implements storage.ObjectStore.
func (m *MemoryStore) Copy(_ context.Context, srcBucket, srcKey, key string) error {
	if m.FailCopy != nil {
		if err := m.FailCopy(srcKey, key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[srcBucket+"/"+srcKey]
	if !ok {
		return errors.Wrapf(storage.ErrObjectNotFound, "%s/%s", srcBucket, srcKey)
	}
	m.objects[m.bucket+"/"+key] = obj
	return nil
}

// Delete implements storage.ObjectStore.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	if m.FailDelete != nil {
		if err := m.FailDelete(key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, m.bucket+"/"+key)
	return nil
}

// List implements storage.ObjectStore.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if rest, ok := strings.CutPrefix(k, m.bucket+"/"); ok && strings.HasPrefix(rest, prefix) {
			keys = append(keys, rest)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// PresignGet implements storage.ObjectStore.
func (m *MemoryStore) PresignGet(key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("http://minio.test/%s/%s?X-Amz-Expires=%d", m.bucket, key, int(ttl.Seconds())), nil
}
