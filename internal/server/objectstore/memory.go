package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/filex"
	"github.com/juju/clock"
)

type memObject struct {
	data     []byte
	revision uint64
}

// MemoryStore keeps objects in a map. It implements ConditionalStore and
// Presigner; presigned URLs use the mem:// scheme and are not dereferenceable.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	rev     uint64
	clock   clock.Clock
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(clock.WallClock)
}

// NewMemoryStoreWithClock creates a store whose presigned URLs expire
// relative to clk.
func NewMemoryStoreWithClock(clk clock.Clock) *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject), clock: clk}
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(key, data)
	return nil
}

func (m *MemoryStore) putLocked(key string, data []byte) string {
	m.rev++
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = memObject{data: buf, revision: m.rev}
	return strconv.FormatUint(m.rev, 10)
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, _, err := m.GetWithRevision(ctx, key)
	return data, err
}

func (m *MemoryStore) GetWithRevision(ctx context.Context, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("object %s: %w", key, common.ErrorNotFound)
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, strconv.FormatUint(obj.revision, 10), nil
}

func (m *MemoryStore) PutIfRevision(ctx context.Context, key string, data []byte, revision string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	switch {
	case revision == "" && ok:
		return fmt.Errorf("object %s exists: %w", key, common.ErrPreconditionFailed)
	case revision != "" && (!ok || strconv.FormatUint(obj.revision, 10) != revision):
		return fmt.Errorf("object %s changed: %w", key, common.ErrPreconditionFailed)
	}
	m.putLocked(key, data)
	return nil
}

// Delete removes key; deleting a missing key is not an error.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	data, err := m.Get(ctx, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, Size: int64(len(data)), Checksum: filex.Checksum(data)}, nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := []string{}
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) PresignPut(ctx context.Context, key string, size int64, checksum string, ttl time.Duration) (string, error) {
	v := url.Values{}
	v.Set("size", strconv.FormatInt(size, 10))
	v.Set("checksum", checksum)
	return m.presign("PUT", key, ttl, v), nil
}

func (m *MemoryStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return m.presign("GET", key, ttl, url.Values{}), nil
}

func (m *MemoryStore) PresignDelete(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return m.presign("DELETE", key, ttl, url.Values{}), nil
}

func (m *MemoryStore) presign(method, key string, ttl time.Duration, v url.Values) string {
	v.Set("method", method)
	v.Set("expires", strconv.FormatInt(m.clock.Now().Add(ttl).Unix(), 10))
	u := url.URL{Scheme: "mem", Path: "/" + key, RawQuery: v.Encode()}
	return u.String()
}
