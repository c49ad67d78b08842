package store

import (
	"context"
	"sync"
	"time"

	"github.com/nexbank/auth-service/internal/domain"
)

// MemoryAccountRepository is a mutex-guarded in-memory AccountRepository.
// It backs the auth unit tests and keeps the same atomicity guarantees as the
// Postgres implementation: RecordFailedAttempt and ConsumeOTP run entirely
// inside the lock.
type MemoryAccountRepository struct {
	mu       sync.Mutex
	byID     map[string]*domain.Account
	byEmail  map[string]string
	Enqueued []OutboxEnqueue
}

// NewMemoryAccountRepository creates an empty in-memory repository.
func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		byID:    make(map[string]*domain.Account),
		byEmail: make(map[string]string),
	}
}

func copyAccount(a *domain.Account) *domain.Account {
	clone := *a
	if a.MiddleName != nil {
		v := *a.MiddleName
		clone.MiddleName = &v
	}
	if a.LastLoginAttempt != nil {
		v := *a.LastLoginAttempt
		clone.LastLoginAttempt = &v
	}
	if a.OTP != nil {
		v := *a.OTP
		clone.OTP = &v
	}
	if a.OTPExpiry != nil {
		v := *a.OTPExpiry
		clone.OTPExpiry = &v
	}
	return &clone
}

// FindByEmail returns a copy of the account registered under email.
func (r *MemoryAccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return copyAccount(r.byID[id]), nil
}

// FindByID returns a copy of the account with the given id.
func (r *MemoryAccountRepository) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return copyAccount(acct), nil
}

// Create stores a new account, enforcing email uniqueness.
func (r *MemoryAccountRepository) Create(ctx context.Context, acct *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[acct.Email]; exists {
		return ErrDuplicate
	}
	if _, exists := r.byID[acct.ID]; exists {
		return ErrDuplicate
	}
	now := time.Now()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	r.byID[acct.ID] = copyAccount(acct)
	r.byEmail[acct.Email] = acct.ID
	return nil
}

// Save applies only the named fields to the stored account.
func (r *MemoryAccountRepository) Save(ctx context.Context, acct *domain.Account, fields ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[acct.ID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	for _, field := range fields {
		switch field {
		case "account_status":
			stored.Status = acct.Status
		case "failed_login_attempts":
			stored.FailedLoginAttempts = acct.FailedLoginAttempts
		case "last_login_attempt":
			stored.LastLoginAttempt = acct.LastLoginAttempt
		case "otp":
			stored.OTP = acct.OTP
		case "otp_expiry":
			stored.OTPExpiry = acct.OTPExpiry
		default:
			return domain.ErrAccountNotFound
		}
	}
	stored.UpdatedAt = time.Now()
	return nil
}

// RecordFailedAttempt increments the counter under the lock.
func (r *MemoryAccountRepository) RecordFailedAttempt(
	ctx context.Context,
	id string,
	at time.Time,
	threshold int,
	onLock *OutboxEnqueue,
) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	stored.FailedLoginAttempts++
	attempt := at
	stored.LastLoginAttempt = &attempt
	if stored.FailedLoginAttempts >= threshold && stored.Status == domain.StatusActive {
		stored.Status = domain.StatusLocked
	}
	if onLock != nil && stored.Status == domain.StatusLocked && stored.FailedLoginAttempts == threshold {
		r.Enqueued = append(r.Enqueued, *onLock)
	}
	stored.UpdatedAt = time.Now()
	return copyAccount(stored), nil
}

// ConsumeOTP clears and returns the account holding an unexpired matching code.
func (r *MemoryAccountRepository) ConsumeOTP(ctx context.Context, code string, now time.Time) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.byID {
		if stored.OTP != nil && *stored.OTP == code && stored.OTPExpiry != nil && stored.OTPExpiry.After(now) {
			stored.OTP = nil
			stored.OTPExpiry = nil
			stored.UpdatedAt = time.Now()
			return copyAccount(stored), nil
		}
	}
	return nil, domain.ErrInvalidOTP
}
