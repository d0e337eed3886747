package http

import (
	"context"
	"strings"
	"sync"
	"time"

	"ktransport/internal/model"
	"ktransport/internal/repository"
)

type memStore struct {
	mu       sync.Mutex
	accounts map[string]model.Account
	sessions map[string]model.RefreshSession
}

func newMemStore() *memStore {
	return &memStore{
		accounts: map[string]model.Account{},
		sessions: map[string]model.RefreshSession{},
	}
}

func (m *memStore) CreateUser(_ context.Context, account model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if strings.EqualFold(existing.Email, account.Email) {
			return repository.ErrEmailTaken
		}
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if strings.EqualFold(account.Email, strings.TrimSpace(email)) {
			return account, nil
		}
	}
	return model.Account{}, repository.ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, userID string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[userID]
	if !ok {
		return model.Account{}, repository.ErrNotFound
	}
	return account, nil
}

func (m *memStore) MarkVerified(_ context.Context, userID, phone string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[userID]
	if !ok {
		return repository.ErrNotFound
	}
	account.IsVerified = true
	if phone != "" {
		account.Phone = phone
	}
	account.UpdatedAt = at
	m.accounts[userID] = account
	return nil
}

func (m *memStore) CreateRefreshSession(_ context.Context, session model.RefreshSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.TokenHash] = session
	return nil
}

func (m *memStore) GetRefreshSession(_ context.Context, tokenHash string) (model.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[tokenHash]
	if !ok {
		return model.RefreshSession{}, repository.ErrNotFound
	}
	return session, nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, sessionID string, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, session := range m.sessions {
		if session.ID == sessionID && session.RevokedAt == nil {
			session.RevokedAt = &revokedAt
			m.sessions[hash] = session
		}
	}
	return nil
}

func (m *memStore) RevokeRefreshSessionsByUser(_ context.Context, userID string, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, session := range m.sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			session.RevokedAt = &revokedAt
			m.sessions[hash] = session
		}
	}
	return nil
}
