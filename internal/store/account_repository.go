package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nexbank/auth-service/internal/domain"
)

// ErrDuplicate is returned by Create when a unique constraint is violated.
var ErrDuplicate = errors.New("account already exists")

// OutboxEnqueue describes an event to enqueue transactionally alongside a
// store mutation.
type OutboxEnqueue struct {
	Exchange   string
	RoutingKey string
	Payload    any
}

// AccountRepository defines the interface for credential storage.
//
// Save applies a partial update: only the named fields are written, so
// concurrent writers touching disjoint fields cannot clobber each other.
// RecordFailedAttempt and ConsumeOTP are atomic read-modify-write operations;
// callers must never emulate them with FindByEmail followed by Save.
type AccountRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByID(ctx context.Context, id string) (*domain.Account, error)
	Create(ctx context.Context, acct *domain.Account) error
	Save(ctx context.Context, acct *domain.Account, fields ...string) error

	// RecordFailedAttempt increments the failed-login counter and stamps the
	// attempt time in a single statement, transitioning the account to locked
	// once the counter reaches threshold. When the call itself causes the
	// transition and onLock is non-nil, the event is enqueued in the same
	// transaction. Returns the account as persisted.
	RecordFailedAttempt(ctx context.Context, id string, at time.Time, threshold int, onLock *OutboxEnqueue) (*domain.Account, error)

	// ConsumeOTP clears and returns the account holding an unexpired matching
	// code. The clear and the match happen in one statement, so a code can be
	// consumed at most once. Returns domain.ErrInvalidOTP when nothing
	// matches, without distinguishing wrong from expired.
	ConsumeOTP(ctx context.Context, code string, now time.Time) (*domain.Account, error)
}

// PostgresAccountRepository is the PostgreSQL implementation of AccountRepository.
type PostgresAccountRepository struct {
	db *pgxpool.Pool
}

// NewPostgresAccountRepository creates a new instance of PostgresAccountRepository.
func NewPostgresAccountRepository(db *pgxpool.Pool) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

const accountColumns = `id, email, username, id_no, first_name, middle_name, last_name,
	password_hash, security_question, security_answer_hash, security_exempt,
	account_status, role, failed_login_attempts, last_login_attempt,
	otp, otp_expiry, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.Email, &a.Username, &a.IDNo, &a.FirstName, &a.MiddleName, &a.LastName,
		&a.PasswordHash, &a.SecurityQuestion, &a.SecurityAnswerHash, &a.SecurityExempt,
		&a.Status, &a.Role, &a.FailedLoginAttempts, &a.LastLoginAttempt,
		&a.OTP, &a.OTPExpiry, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindByEmail returns the account registered under the given email.
func (r *PostgresAccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.db.QueryRow(ctx, query, email))
}

// FindByID returns the account with the given id.
func (r *PostgresAccountRepository) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, id))
}

// Create inserts a new account record into the database.
func (r *PostgresAccountRepository) Create(ctx context.Context, acct *domain.Account) error {
	query := `
		INSERT INTO accounts (id, email, username, id_no, first_name, middle_name, last_name,
			password_hash, security_question, security_answer_hash, security_exempt,
			account_status, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		acct.ID, acct.Email, acct.Username, acct.IDNo, acct.FirstName, acct.MiddleName, acct.LastName,
		acct.PasswordHash, acct.SecurityQuestion, acct.SecurityAnswerHash, acct.SecurityExempt,
		acct.Status, acct.Role,
	).Scan(&acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			log.Printf("Error creating account: unique constraint violation on %s", pgErr.ConstraintName)
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// savableColumns lists the fields callers may update through Save, keyed by
// the field names used across the auth packages.
var savableColumns = map[string]string{
	"account_status":        "account_status",
	"failed_login_attempts": "failed_login_attempts",
	"last_login_attempt":    "last_login_attempt",
	"otp":                   "otp",
	"otp_expiry":            "otp_expiry",
}

// Save persists only the named fields of the account.
func (r *PostgresAccountRepository) Save(ctx context.Context, acct *domain.Account, fields ...string) error {
	if len(fields) == 0 {
		return errors.New("save requires at least one field")
	}

	setClauses := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	args = append(args, acct.ID)

	for _, field := range fields {
		column, ok := savableColumns[field]
		if !ok {
			return fmt.Errorf("field %q is not savable", field)
		}
		args = append(args, fieldValue(acct, field))
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf("UPDATE accounts SET %s WHERE id = $1", strings.Join(setClauses, ", "))
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func fieldValue(acct *domain.Account, field string) any {
	switch field {
	case "account_status":
		return acct.Status
	case "failed_login_attempts":
		return acct.FailedLoginAttempts
	case "last_login_attempt":
		return acct.LastLoginAttempt
	case "otp":
		return acct.OTP
	case "otp_expiry":
		return acct.OTPExpiry
	}
	return nil
}

// RecordFailedAttempt performs the transactional counter increment. The
// increment and the lock transition are computed inside Postgres so two
// concurrent failed attempts both land (no lost update), and only the attempt
// that crosses the threshold enqueues the lock event.
func (r *PostgresAccountRepository) RecordFailedAttempt(
	ctx context.Context,
	id string,
	at time.Time,
	threshold int,
	onLock *OutboxEnqueue,
) (*domain.Account, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE accounts
		SET failed_login_attempts = failed_login_attempts + 1,
			last_login_attempt = $2,
			account_status = CASE
				WHEN failed_login_attempts + 1 >= $3 AND account_status = 'active' THEN 'locked'
				ELSE account_status
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns
	acct, err := scanAccount(tx.QueryRow(ctx, query, id, at, threshold))
	if err != nil {
		return nil, err
	}

	// The crossing attempt sees the counter exactly at the threshold; later
	// attempts against an already locked account do not re-enqueue.
	if onLock != nil && acct.Status == domain.StatusLocked && acct.FailedLoginAttempts == threshold {
		if err := enqueueEventTx(ctx, tx, onLock.Exchange, onLock.RoutingKey, onLock.Payload); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return acct, nil
}

// ConsumeOTP looks up and clears an unexpired code in one statement.
func (r *PostgresAccountRepository) ConsumeOTP(ctx context.Context, code string, now time.Time) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET otp = NULL, otp_expiry = NULL, updated_at = NOW()
		WHERE otp = $1 AND otp_expiry > $2
		RETURNING ` + accountColumns
	acct, err := scanAccount(r.db.QueryRow(ctx, query, code, now))
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrInvalidOTP
		}
		return nil, err
	}
	return acct, nil
}
