package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nexbank/auth-service/internal/domain"
	"github.com/nexbank/auth-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type sentEmail struct {
	To       string
	Template string
	Data     map[string]any
}

// recordingMailer captures outgoing emails; set failErr to simulate a
// delivery outage.
type recordingMailer struct {
	mu      sync.Mutex
	sent    []sentEmail
	failErr error
}

func (m *recordingMailer) Send(ctx context.Context, to, template string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.sent = append(m.sent, sentEmail{To: to, Template: template, Data: data})
	return nil
}

func (m *recordingMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *recordingMailer) lastSent(t *testing.T) sentEmail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("expected at least one sent email")
	}
	return m.sent[len(m.sent)-1]
}

type publishedEvent struct {
	Exchange   string
	RoutingKey string
	Body       any
}

// stubPublisher records published events in memory.
type stubPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *stubPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Exchange: exchange, RoutingKey: routingKey, Body: body})
	return nil
}

func (p *stubPublisher) Close() {}

// fakeClock is a settable time source shared across the service and issuers.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

const testPassword = "correct-horse-battery"

func seedAccount(t *testing.T, repo *store.MemoryAccountRepository, email string) *domain.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	acct := &domain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     "NB-TEST00000",
		IDNo:         int64(len(email) + 1000),
		FirstName:    "Ada",
		LastName:     "Lovelace",
		PasswordHash: string(hash),
		Status:       domain.StatusActive,
		Role:         domain.RoleCustomer,
	}
	if err := repo.Create(context.Background(), acct); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return acct
}

type testEnv struct {
	repo    *store.MemoryAccountRepository
	mail    *recordingMailer
	events  *stubPublisher
	clock   *fakeClock
	tokens  *TokenIssuer
	service *Service
}

func newTestEnv(t *testing.T, policy LockoutPolicy, otpTTL time.Duration) *testEnv {
	t.Helper()
	repo := store.NewMemoryAccountRepository()
	mail := &recordingMailer{}
	events := &stubPublisher{}
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tokens := NewTokenIssuer("test-secret", 15*time.Minute, 7*24*time.Hour).WithClock(clock.Now)
	otp := NewOTPIssuer(repo, mail, otpTTL, "NexBank")
	service := NewService(repo, policy, otp, tokens, events, "Nex Bank").WithClock(clock.Now)
	return &testEnv{repo: repo, mail: mail, events: events, clock: clock, tokens: tokens, service: service}
}

func defaultPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: 3, Duration: 30 * time.Minute}
}

// storedOTP reads the persisted code for an account, as the email would carry it.
func storedOTP(t *testing.T, repo *store.MemoryAccountRepository, email string) string {
	t.Helper()
	acct, err := repo.FindByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	if acct.OTP == nil {
		t.Fatal("expected a stored OTP")
	}
	return *acct.OTP
}
