package redis

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient is an in-memory Client for tests. Individual operations can be
// overridden through the Func fields to simulate failures.
type MockClient struct {
	GetFunc func(ctx context.Context, key string) (string, error)
	SetFunc func(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DelFunc func(ctx context.Context, key string) error

	mu     sync.Mutex
	values map[string]string
	hashes map[string]map[string]string
}

// NewMockClient creates a mock client backed by in-memory maps.
func NewMockClient() *MockClient {
	return &MockClient{
		values: make(map[string]string),
		hashes: make(map[string]map[string]string),
	}
}

func (m *MockClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = stringify(value)
	return nil
}

func (m *MockClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.values[key]
	if !ok {
		return "", fmt.Errorf("key %s: %w", key, ErrKeyNotFound)
	}
	return val, nil
}

func (m *MockClient) Del(ctx context.Context, key string) error {
	if m.DelFunc != nil {
		return m.DelFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MockClient) HSet(ctx context.Context, key string, field string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hashes[key] == nil {
		m.hashes[key] = make(map[string]string)
	}
	m.hashes[key][field] = stringify(value)
	return nil
}

func (m *MockClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MockClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (m *MockClient) Ping(ctx context.Context) error {
	return nil
}

func (m *MockClient) Close() error {
	return nil
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
