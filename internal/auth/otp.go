package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/nexbank/auth-service/internal/domain"
	"github.com/nexbank/auth-service/internal/mailer"
	"github.com/nexbank/auth-service/internal/store"
)

const otpLength = 6

var otpMax = big.NewInt(1_000_000)

// GenerateOTP returns a 6-digit code from a cryptographic random source,
// zero-padded so leading zeros survive.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpMax)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpLength, n), nil
}

// OTPIssuer issues and verifies single-use login codes.
type OTPIssuer struct {
	repo     store.AccountRepository
	mail     mailer.EmailSender
	ttl      time.Duration
	siteName string
}

// NewOTPIssuer creates an issuer with the given code lifetime.
func NewOTPIssuer(repo store.AccountRepository, mail mailer.EmailSender, ttl time.Duration, siteName string) *OTPIssuer {
	return &OTPIssuer{repo: repo, mail: mail, ttl: ttl, siteName: siteName}
}

// Issue generates a fresh code, persists code and expiry together, and emails
// the code. Email failure is logged, not fatal: the stored code stays valid.
func (i *OTPIssuer) Issue(ctx context.Context, acct *domain.Account, now time.Time) error {
	code, err := GenerateOTP()
	if err != nil {
		return err
	}

	expiry := now.Add(i.ttl)
	acct.OTP = &code
	acct.OTPExpiry = &expiry
	if err := i.repo.Save(ctx, acct, "otp", "otp_expiry"); err != nil {
		return err
	}

	data := map[string]any{
		"otp":             code,
		"site_name":       i.siteName,
		"expires_minutes": int(i.ttl.Minutes()),
	}
	if err := i.mail.Send(ctx, acct.Email, "otp_email", data); err != nil {
		log.Printf("Failed to send OTP email to account %s: %v", acct.ID, err)
	}
	return nil
}

// Verify consumes an unexpired code and returns its account. The code is
// cleared in the same store operation, so it can succeed at most once. A
// wrong code and an expired code fail identically.
func (i *OTPIssuer) Verify(ctx context.Context, code string, now time.Time) (*domain.Account, error) {
	if len(code) != otpLength {
		return nil, domain.ErrInvalidOTP
	}
	return i.repo.ConsumeOTP(ctx, code, now)
}
