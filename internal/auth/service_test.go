package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nexbank/auth-service/internal/domain"
	"github.com/nexbank/auth-service/internal/store"
)

func TestSubmitCredentialsUnknownEmail(t *testing.T) {
	env := newTestEnv(t, defaultPolicy(), time.Minute)

	err := env.service.SubmitCredentials(context.Background(), "nobody@example.com", "whatever")
	if !errors.Is(err, domain.ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}

func TestSubmitCredentialsLocksAfterThreshold(t *testing.T) {
	env := newTestEnv(t, defaultPolicy(), time.Minute)
	acct := seedAccount(t, env.repo, "ada@example.com")
	ctx := context.Background()

	// Two failures stay in bad-credentials territory.
	for i := 0; i < 2; i++ {
		err := env.service.SubmitCredentials(ctx, "ada@example.com", "wrong-password")
		if !errors.Is(err, domain.ErrBadCredentials) {
			t.Fatalf("attempt %d: expected ErrBadCredentials, got %v", i+1, err)
		}
	}

	// The third failure crosses the threshold.
	err := env.service.SubmitCredentials(ctx, "ada@example.com", "wrong-password")
	if !errors.Is(err, domain.ErrAccountLocked) {
		t.Fatalf("third attempt: expected ErrAccountLocked, got %v", err)
	}

	// A correct password does not help while locked.
	err = env.service.SubmitCredentials(ctx, "ada@example.com", testPassword)
	if !errors.Is(err, domain.ErrAccountLocked) {
		t.Fatalf("fourth attempt: expected ErrAccountLocked, got %v", err)
	}

	stored, err := env.repo.FindByID(ctx, acct.ID)
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	if stored.Status != domain.StatusLocked || stored.FailedLoginAttempts != 3 {
		t.Fatalf("expected locked with 3 attempts, got status=%s attempts=%d", stored.Status, stored.FailedLoginAttempts)
	}
	if stored.LastLoginAttempt == nil {
		t.Fatal("locked account must carry a last attempt time")
	}

	// Exactly one lock event was enqueued, by the crossing attempt.
	if len(env.repo.Enqueued) != 1 {
		t.Fatalf("expected 1 enqueued lock event, got %d", len(env.repo.Enqueued))
	}
	event, ok := env.repo.Enqueued[0].Payload.(domain.AccountLockedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", env.repo.Enqueued[0].Payload)
	}
	if event.AccountID != acct.ID || event.AttemptsLimit != 3 {
		t.Fatalf("unexpected lock event %+v", event)
	}
}

func TestLockoutLiftsAfterDuration(t *testing.T) {
	env := newTestEnv(t, defaultPolicy(), time.Minute)
	acct := seedAccount(t, env.repo, "ada@example.com")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = env.service.SubmitCredentials(ctx, "ada@example.com", "wrong-password")
	}

	// Still locked one second before the window elapses.
	env.clock.Advance(30*time.Minute - time.Second)
	err := env.service.SubmitCredentials(ctx, "ada@example.com", testPassword)
	if !errors.Is(err, domain.ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked before expiry, got %v", err)
	}

	// Once the window elapses, the next attempt lazily unlocks and succeeds.
	env.clock.Advance(2 * time.Second)
	if err := env.service.SubmitCredentials(ctx, "ada@example.com", testPassword); err != nil {
		t.Fatalf("expected successful login after lockout expiry, got %v", err)
	}

	stored, err := env.repo.FindByID(ctx, acct.ID)
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	if stored.Status != domain.StatusActive || stored.FailedLoginAttempts != 0 {
		t.Fatalf("expected reset account, got status=%s attempts=%d", stored.Status, stored.FailedLoginAttempts)
	}
	if env.mail.sentCount() != 1 {
		t.Fatalf("expected 1 OTP email, got %d", env.mail.sentCount())
	}
}

func TestConcurrentFailuresLoseNoUpdates(t *testing.T) {
	env := newTestEnv(t, defaultPolicy(), time.Minute)
	acct := seedAccount(t, env.repo, "ada@example.com")
	ctx := context.Background()

	// Start from two recorded failures.
	for i := 0; i < 2; i++ {
		_ = env.service.SubmitCredentials(ctx, "ada@example.com", "wrong-password")
	}

	// Two failed attempts land at the same time. The increment is atomic in
	// the store, so neither update may be lost.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.repo.RecordFailedAttempt(ctx, acct.ID, env.clock.Now(), 3, nil)
			if err != nil {
				t.Errorf("RecordFailedAttempt() error = %v", err)
			}
		}()
	}
	wg.Wait()

	stored, err := env.repo.FindByID(ctx, acct.ID)
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	if stored.FailedLoginAttempts != 4 {
		t.Fatalf("lost update: expected 4 attempts, got %d", stored.FailedLoginAttempts)
	}
	if stored.Status != domain.StatusLocked {
		t.Fatalf("expected locked status, got %s", stored.Status)
	}
}

func TestLoginFlowIssuesTokens(t *testing.T) {
	env := newTestEnv(t, defaultPolicy(), time.Minute)
	acct := seedAccount(t, env.repo, "ada@example.com")
	ctx := context.Background()

	if err := env.service.SubmitCredentials(ctx, "ada@example.com", testPassword); err != nil {
		t.Fatalf("SubmitCredentials() error = %v", err)
	}
	code := storedOTP(t, env.repo, "ada@example.com")

	verified, pair, err := env.service.SubmitOTP(ctx, "ada@example.com", code)
	if err != nil {
		t.Fatalf("SubmitOTP() error = %v", err)
	}
	if verified.ID != acct.ID {
		t.Fatalf("verified wrong account %s", verified.ID)
	}

	// Both tokens validate and carry the account identity.
	for _, check := range []struct {
		name   string
		verify func(string) (string, error)
		token  string
	}{
		{name: "access", verify: env.tokens.VerifyAccess, token: pair.Access},
		{name: "refresh", verify: env.tokens.VerifyRefresh, token: pair.Refresh},
	} {
		accountID, err := check.verify(check.token)
		if err != nil {
			t.Fatalf("%s token did not validate: %v", check.name, err)
		}
		if accountID != acct.ID {
			t.Fatalf("%s token carries %q, want %q", check.name, accountID, acct.ID)
		}
	}

	// The code is single-use.
	if _, _, err := env.service.SubmitOTP(ctx, "ada@example.com", code); !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("second SubmitOTP() error = %v, want ErrInvalidOTP", err)
	}
}

func TestSubmitOTPWrongEmailFailsLikeWrongCode(t *testing.T) {
	env := newTestEnv(t, defaultPolicy(), time.Minute)
	seedAccount(t, env.repo, "ada@example.com")
	ctx := context.Background()

	if err := env.service.SubmitCredentials(ctx, "ada@example.com", testPassword); err != nil {
		t.Fatalf("SubmitCredentials() error = %v", err)
	}
	code := storedOTP(t, env.repo, "ada@example.com")

	_, _, err := env.service.SubmitOTP(ctx, "mallory@example.com", code)
	if !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("SubmitOTP() with wrong email error = %v, want ErrInvalidOTP", err)
	}
}

func TestSubmitOTPRechecksLockout(t *testing.T) {
	env := newTestEnv(t, defaultPolicy(), time.Hour)
	acct := seedAccount(t, env.repo, "ada@example.com")
	ctx := context.Background()

	if err := env.service.SubmitCredentials(ctx, "ada@example.com", testPassword); err != nil {
		t.Fatalf("SubmitCredentials() error = %v", err)
	}
	code := storedOTP(t, env.repo, "ada@example.com")

	// The account gets locked between OTP issue and OTP entry.
	now := env.clock.Now()
	acct.Status = domain.StatusLocked
	acct.FailedLoginAttempts = 3
	acct.LastLoginAttempt = &now
	if err := env.repo.Save(ctx, acct, "account_status", "failed_login_attempts", "last_login_attempt"); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, _, err := env.service.SubmitOTP(ctx, "ada@example.com", code)
	if !errors.Is(err, domain.ErrAccountLocked) {
		t.Fatalf("SubmitOTP() on locked account error = %v, want ErrAccountLocked", err)
	}
}

func TestRefreshRotatesPair(t *testing.T) {
	env := newTestEnv(t, defaultPolicy(), time.Minute)
	acct := seedAccount(t, env.repo, "ada@example.com")

	pair, err := env.tokens.Issue(acct.ID)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	env.clock.Advance(time.Minute)
	rotated, err := env.service.Refresh(context.Background(), pair.Refresh)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	accountID, err := env.tokens.VerifyAccess(rotated.Access)
	if err != nil {
		t.Fatalf("rotated access token did not validate: %v", err)
	}
	if accountID != acct.ID {
		t.Fatalf("rotated token carries %q, want %q", accountID, acct.ID)
	}
}

func TestRefreshRejectsLockedAccount(t *testing.T) {
	env := newTestEnv(t, defaultPolicy(), time.Minute)
	acct := seedAccount(t, env.repo, "ada@example.com")
	ctx := context.Background()

	pair, err := env.tokens.Issue(acct.ID)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	now := env.clock.Now()
	acct.Status = domain.StatusLocked
	acct.FailedLoginAttempts = 3
	acct.LastLoginAttempt = &now
	if err := env.repo.Save(ctx, acct, "account_status", "failed_login_attempts", "last_login_attempt"); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := env.service.Refresh(ctx, pair.Refresh); !errors.Is(err, domain.ErrAccountLocked) {
		t.Fatalf("Refresh() on locked account error = %v, want ErrAccountLocked", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	env := newTestEnv(t, defaultPolicy(), time.Minute)
	acct := seedAccount(t, env.repo, "ada@example.com")

	pair, err := env.tokens.Issue(acct.ID)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := env.service.Refresh(context.Background(), pair.Access); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("Refresh() with access token error = %v, want ErrTokenInvalid", err)
	}
}

func TestRegisterCreatesAccount(t *testing.T) {
	env := newTestEnv(t, defaultPolicy(), time.Minute)
	ctx := context.Background()

	params := RegisterParams{
		Email:            "Grace@Example.com",
		Password:         "s3cure-enough",
		FirstName:        "Grace",
		LastName:         "Hopper",
		IDNo:             424242,
		SecurityQuestion: domain.QuestionCityBorn,
		SecurityAnswer:   "New York",
	}

	acct, err := env.service.Register(ctx, params)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if acct.Email != "grace@example.com" {
		t.Fatalf("expected normalized email, got %q", acct.Email)
	}
	if acct.Username == "" || acct.Role != domain.RoleCustomer || acct.Status != domain.StatusActive {
		t.Fatalf("unexpected account defaults %+v", acct)
	}
	if acct.PasswordHash == params.Password || acct.PasswordHash == "" {
		t.Fatal("password must be stored hashed")
	}

	// Logging in with the registered password works end to end.
	if err := env.service.SubmitCredentials(ctx, "grace@example.com", "s3cure-enough"); err != nil {
		t.Fatalf("login after registration error = %v", err)
	}

	// The created event went out.
	found := false
	for _, event := range env.events.events {
		if event.Exchange == AccountEventsExchange && event.RoutingKey == "account.created" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected account.created event to be published")
	}

	// A second registration with the same email conflicts.
	if _, err := env.service.Register(ctx, params); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("duplicate Register() error = %v, want ErrDuplicate", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, defaultPolicy(), time.Minute)

	valid := RegisterParams{
		Email:            "grace@example.com",
		Password:         "s3cure-enough",
		FirstName:        "Grace",
		LastName:         "Hopper",
		IDNo:             424242,
		SecurityQuestion: domain.QuestionCityBorn,
		SecurityAnswer:   "New York",
	}

	tests := []struct {
		name   string
		mutate func(*RegisterParams)
	}{
		{name: "missing_email", mutate: func(p *RegisterParams) { p.Email = "" }},
		{name: "malformed_email", mutate: func(p *RegisterParams) { p.Email = "not-an-email" }},
		{name: "short_password", mutate: func(p *RegisterParams) { p.Password = "short" }},
		{name: "missing_first_name", mutate: func(p *RegisterParams) { p.FirstName = " " }},
		{name: "bad_id_no", mutate: func(p *RegisterParams) { p.IDNo = 0 }},
		{name: "unknown_question", mutate: func(p *RegisterParams) { p.SecurityQuestion = "favorite_team" }},
		{name: "missing_answer", mutate: func(p *RegisterParams) { p.SecurityAnswer = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := valid
			tt.mutate(&params)
			_, err := env.service.Register(context.Background(), params)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("Register() error = %v, want ValidationError", err)
			}
		})
	}
}
