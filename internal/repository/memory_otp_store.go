package repository

import (
	"context"
	"sync"
	"time"

	"github.com/dhr/workerauth/internal/models"
)

// MemoryOTPStore holds records in process memory. Expiry is checked lazily on
// Attempt; DeleteExpired reclaims abandoned records.
type MemoryOTPStore struct {
	mu      sync.Mutex
	records map[string]models.OTPRecord
}

func NewMemoryOTPStore() *MemoryOTPStore {
	return &MemoryOTPStore{records: make(map[string]models.OTPRecord)}
}

func (s *MemoryOTPStore) Put(_ context.Context, rec models.OTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Phone] = rec
	return nil
}

func (s *MemoryOTPStore) Get(_ context.Context, phone string) (*models.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[phone]
	if !ok {
		return nil, ErrOTPNotFound
	}
	return &rec, nil
}

func (s *MemoryOTPStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, phone)
	return nil
}

func (s *MemoryOTPStore) Attempt(_ context.Context, phone string, now time.Time, maxAttempts int) (*models.OTPRecord, AttemptOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[phone]
	if !ok {
		return nil, AttemptAllowed, ErrOTPNotFound
	}

	if rec.Expired(now) {
		delete(s.records, phone)
		return &rec, AttemptExpired, nil
	}

	rec.Attempts++
	if rec.Attempts > maxAttempts {
		delete(s.records, phone)
		return &rec, AttemptExhausted, nil
	}

	s.records[phone] = rec
	return &rec, AttemptAllowed, nil
}

func (s *MemoryOTPStore) Consume(_ context.Context, phone, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[phone]
	if !ok || rec.CodeHash != codeHash {
		return false, nil
	}
	delete(s.records, phone)
	return true, nil
}

func (s *MemoryOTPStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for phone, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, phone)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of held records, expired or not.
func (s *MemoryOTPStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
