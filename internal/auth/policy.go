package auth

import (
	"time"

	"github.com/nexbank/auth-service/internal/domain"
)

// LockoutPolicy decides when repeated failed logins lock an account and when
// an elapsed lockout lifts again. It is pure: it inspects and mutates the
// in-memory account only, and callers persist exactly the fields it reports.
// Unlocking is lazy; there is no background sweeper, the expiry is evaluated
// against wall-clock time on the next access attempt.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// Evaluate reports whether the account is currently locked out. When the
// lockout window has elapsed, it returns locked=false together with
// expired=true: the caller must then apply and persist ApplyUnlock, since
// Evaluate itself never touches storage.
func (p LockoutPolicy) Evaluate(acct *domain.Account, now time.Time) (locked bool, expired bool) {
	if acct.Status != domain.StatusLocked {
		return false, false
	}
	// A locked account always carries its last attempt time; a missing one
	// means the window cannot be measured, so the lock is treated as elapsed.
	if acct.LastLoginAttempt == nil || !now.Before(acct.LastLoginAttempt.Add(p.Duration)) {
		return false, true
	}
	return true, false
}

// ApplyUnlock lifts an elapsed lockout on the in-memory account and returns
// the field names the caller must persist. Idempotent.
func (p LockoutPolicy) ApplyUnlock(acct *domain.Account) []string {
	acct.Status = domain.StatusActive
	acct.FailedLoginAttempts = 0
	acct.LastLoginAttempt = nil
	return []string{"account_status", "failed_login_attempts", "last_login_attempt"}
}

// ApplySuccess resets the failure state after a successful credential check
// and returns the field names the caller must persist.
func (p LockoutPolicy) ApplySuccess(acct *domain.Account) []string {
	acct.Status = domain.StatusActive
	acct.FailedLoginAttempts = 0
	acct.LastLoginAttempt = nil
	return []string{"account_status", "failed_login_attempts", "last_login_attempt"}
}

// LockoutMinutes is the lockout window in whole minutes, for user-facing copy.
func (p LockoutPolicy) LockoutMinutes() int {
	return int(p.Duration.Minutes())
}
