// Package kvstore holds the session keys a client installation persists
// between runs.
package kvstore

import (
	"context"
	"errors"
	"sync"
)

const (
	KeyAuthToken    = "authToken"
	KeyRefreshToken = "refreshToken"
	KeyUserData     = "userData"
	KeyUserRole     = "userRole"
)

// SessionKeys lists every key a logout must remove.
var SessionKeys = []string{KeyAuthToken, KeyRefreshToken, KeyUserData, KeyUserRole}

// Store is an opaque string key/value store. Get reports ok=false for a
// missing key without an error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

var ErrInjected = errors.New("kvstore: injected failure")

type Memory struct {
	mu   sync.Mutex
	data map[string]string

	failGet bool
	failSet bool
}

func NewMemory() *Memory {
	return &Memory{data: map[string]string{}}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return "", false, ErrInjected
	}
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return ErrInjected
	}
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

// FailReads makes subsequent Get calls fail until reset.
func (m *Memory) FailReads(fail bool) {
	m.mu.Lock()
	m.failGet = fail
	m.mu.Unlock()
}

// FailWrites makes subsequent Set calls fail until reset.
func (m *Memory) FailWrites(fail bool) {
	m.mu.Lock()
	m.failSet = fail
	m.mu.Unlock()
}

// Snapshot returns a copy of the current contents.
func (m *Memory) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}
