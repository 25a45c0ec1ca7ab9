package twofactor

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu          sync.Mutex
	enrollments map[string]Enrollment
	sms         map[string]SMSCode
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		enrollments: make(map[string]Enrollment),
		sms:         make(map[string]SMSCode),
	}
}

func cloneEnrollment(e Enrollment) Enrollment {
	e.RecoveryCodes = append([]RecoveryCode(nil), e.RecoveryCodes...)
	return e
}

func (m *MemoryStore) GetEnrollment(_ context.Context, principalID string) (*Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.enrollments[principalID]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneEnrollment(e)
	return &out, nil
}

func (m *MemoryStore) PutEnrollment(_ context.Context, e Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.enrollments[e.PrincipalID]
	switch {
	case !ok && e.Version != 0:
		return ErrVersionConflict
	case ok && current.Version != e.Version:
		return ErrVersionConflict
	}
	e.Version++
	m.enrollments[e.PrincipalID] = cloneEnrollment(e)
	return nil
}

func (m *MemoryStore) DeleteEnrollment(_ context.Context, principalID string) error {
	m.mu.Lock()
	delete(m.enrollments, principalID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) PutSMS(_ context.Context, code SMSCode) error {
	m.mu.Lock()
	m.sms[code.PrincipalID] = code
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetSMS(_ context.Context, principalID string) (*SMSCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.sms[principalID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) RecordSMSFailure(_ context.Context, principalID string, maxAttempts int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.sms[principalID]
	if !ok {
		return false, ErrNotFound
	}
	c.Attempts++
	if c.Attempts >= maxAttempts {
		delete(m.sms, principalID)
		return true, nil
	}
	m.sms[principalID] = c
	return false, nil
}

func (m *MemoryStore) DeleteSMS(_ context.Context, principalID string) error {
	m.mu.Lock()
	delete(m.sms, principalID)
	m.mu.Unlock()
	return nil
}
