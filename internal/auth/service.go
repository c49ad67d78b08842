package auth

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nexbank/auth-service/internal/domain"
	"github.com/nexbank/auth-service/internal/store"
	"github.com/nexbank/auth-service/pkg/rabbitmq"
	"golang.org/x/crypto/bcrypt"
)

// AccountEventsExchange carries account lifecycle events for downstream
// services (notifications, analytics).
const AccountEventsExchange = "account_events"

const (
	routingAccountCreated = "account.created"
	routingAccountLocked  = "account.locked"
)

// dummyHash is compared against when no account matches the email, so a miss
// costs the same bcrypt work as a mismatch and timing does not reveal whether
// an email is registered.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ValidationError reports a client input problem. Its message is safe to
// return to the caller.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(msg string) error { return &ValidationError{Msg: msg} }

// Service orchestrates the login flow: credential check, lockout policy, OTP
// issue and verify, and session token minting. Each request runs against the
// store alone; no state is shared between requests in memory.
type Service struct {
	repo     store.AccountRepository
	policy   LockoutPolicy
	otp      *OTPIssuer
	tokens   *TokenIssuer
	events   rabbitmq.Publisher
	bankName string
	now      func() time.Time
}

// NewService wires the auth flow controller.
func NewService(
	repo store.AccountRepository,
	policy LockoutPolicy,
	otp *OTPIssuer,
	tokens *TokenIssuer,
	events rabbitmq.Publisher,
	bankName string,
) *Service {
	return &Service{
		repo:     repo,
		policy:   policy,
		otp:      otp,
		tokens:   tokens,
		events:   events,
		bankName: bankName,
		now:      time.Now,
	}
}

// WithClock overrides the service's time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Policy exposes the lockout policy for user-facing copy.
func (s *Service) Policy() LockoutPolicy { return s.policy }

// checkLockout evaluates the policy and persists a lazy unlock when the
// window has elapsed. Returns domain.ErrAccountLocked while locked.
func (s *Service) checkLockout(ctx context.Context, acct *domain.Account, now time.Time) error {
	locked, expired := s.policy.Evaluate(acct, now)
	if expired {
		fields := s.policy.ApplyUnlock(acct)
		if err := s.repo.Save(ctx, acct, fields...); err != nil {
			return err
		}
	}
	if locked {
		return domain.ErrAccountLocked
	}
	return nil
}

// SubmitCredentials runs the first login step. On success the account's
// failure state is reset and an OTP is issued and emailed; the caller then
// waits for SubmitOTP. Failures return domain.ErrBadCredentials, or
// domain.ErrAccountLocked when this attempt locks (or finds locked) the
// account.
func (s *Service) SubmitCredentials(ctx context.Context, email, password string) error {
	now := s.now()
	email = strings.ToLower(strings.TrimSpace(email))

	acct, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			// Burn the same bcrypt cost as a real mismatch.
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			return domain.ErrBadCredentials
		}
		return err
	}

	if acct.Status == domain.StatusDeleted {
		return domain.ErrBadCredentials
	}
	if err := s.checkLockout(ctx, acct, now); err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return s.recordFailure(ctx, acct, now)
	}

	fields := s.policy.ApplySuccess(acct)
	if err := s.repo.Save(ctx, acct, fields...); err != nil {
		return err
	}
	return s.otp.Issue(ctx, acct, now)
}

func (s *Service) recordFailure(ctx context.Context, acct *domain.Account, now time.Time) error {
	onLock := &store.OutboxEnqueue{
		Exchange:   AccountEventsExchange,
		RoutingKey: routingAccountLocked,
		Payload: domain.AccountLockedEvent{
			AccountID:      acct.ID,
			Email:          acct.Email,
			AttemptsLimit:  s.policy.Threshold,
			LockoutMinutes: s.policy.LockoutMinutes(),
		},
	}
	updated, err := s.repo.RecordFailedAttempt(ctx, acct.ID, now, s.policy.Threshold, onLock)
	if err != nil {
		return err
	}
	if updated.Status == domain.StatusLocked {
		return domain.ErrAccountLocked
	}
	return domain.ErrBadCredentials
}

// SubmitOTP runs the second login step: consume the code, re-check the
// lockout (time has passed since the credential step), then mint the session
// token pair. A code submitted under the wrong email fails exactly like a
// wrong code.
func (s *Service) SubmitOTP(ctx context.Context, email, code string) (*domain.Account, TokenPair, error) {
	now := s.now()
	email = strings.ToLower(strings.TrimSpace(email))

	acct, err := s.otp.Verify(ctx, code, now)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if !strings.EqualFold(acct.Email, email) {
		return nil, TokenPair{}, domain.ErrInvalidOTP
	}

	if err := s.checkLockout(ctx, acct, now); err != nil {
		return nil, TokenPair{}, err
	}

	pair, err := s.tokens.Issue(acct.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return acct, pair, nil
}

// Refresh validates a refresh token, re-checks the account's lockout status,
// and rotates the token pair. A token for a vanished account is invalid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	accountID, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	acct, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return TokenPair{}, domain.ErrTokenInvalid
		}
		return TokenPair{}, err
	}
	if acct.Status == domain.StatusDeleted {
		return TokenPair{}, domain.ErrTokenInvalid
	}
	if err := s.checkLockout(ctx, acct, s.now()); err != nil {
		return TokenPair{}, err
	}

	return s.tokens.Issue(acct.ID)
}

// Account loads an account by id, for authenticated profile reads.
func (s *Service) Account(ctx context.Context, id string) (*domain.Account, error) {
	return s.repo.FindByID(ctx, id)
}

// RegisterParams carries the registration request.
type RegisterParams struct {
	Email            string
	Password         string
	FirstName        string
	MiddleName       string
	LastName         string
	IDNo             int64
	SecurityQuestion domain.SecurityQuestion
	SecurityAnswer   string
}

// Register creates a customer account: generated username, bcrypt-hashed
// password and security answer, status active. Publishes account.created
// best-effort after the insert.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*domain.Account, error) {
	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	if err := validateRegisterParams(params); err != nil {
		return nil, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	answerHash, err := bcrypt.GenerateFromPassword([]byte(strings.ToLower(strings.TrimSpace(params.SecurityAnswer))), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	username, err := GenerateUsername(s.bankName)
	if err != nil {
		return nil, err
	}

	acct := &domain.Account{
		ID:                 uuid.NewString(),
		Email:              params.Email,
		Username:           username,
		IDNo:               params.IDNo,
		FirstName:          strings.TrimSpace(params.FirstName),
		LastName:           strings.TrimSpace(params.LastName),
		PasswordHash:       string(passwordHash),
		SecurityQuestion:   params.SecurityQuestion,
		SecurityAnswerHash: string(answerHash),
		Status:             domain.StatusActive,
		Role:               domain.RoleCustomer,
	}
	if middle := strings.TrimSpace(params.MiddleName); middle != "" {
		acct.MiddleName = &middle
	}

	if err := s.repo.Create(ctx, acct); err != nil {
		return nil, err
	}

	event := domain.AccountCreatedEvent{
		AccountID: acct.ID,
		Email:     acct.Email,
		Username:  acct.Username,
		Role:      acct.Role,
	}
	if err := s.events.Publish(ctx, AccountEventsExchange, routingAccountCreated, event); err != nil {
		// The account exists either way; downstream consumers catch up via
		// reconciliation, so the registration still succeeds.
		log.Printf("CRITICAL: Failed to publish account.created for account %s: %v", acct.ID, err)
	}
	return acct, nil
}

func validateRegisterParams(params RegisterParams) error {
	if params.Email == "" || !strings.Contains(params.Email, "@") {
		return invalid("A valid email is required.")
	}
	if len(params.Password) < 8 {
		return invalid("Password must be at least 8 characters.")
	}
	if strings.TrimSpace(params.FirstName) == "" || strings.TrimSpace(params.LastName) == "" {
		return invalid("First and last name are required.")
	}
	if params.IDNo <= 0 {
		return invalid("A valid ID number is required.")
	}
	if !domain.ValidSecurityQuestion(params.SecurityQuestion) {
		return invalid("A valid security question is required.")
	}
	if strings.TrimSpace(params.SecurityAnswer) == "" {
		return invalid("A security answer is required.")
	}
	return nil
}
