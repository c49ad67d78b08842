package domain

import "time"

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	StatusActive  AccountStatus = "active"
	StatusLocked  AccountStatus = "locked"
	StatusDeleted AccountStatus = "deleted"
)

// Role defines what a user can do inside the bank.
type Role string

const (
	RoleCustomer         Role = "customer"
	RoleAccountExecutive Role = "account_executive"
	RoleTeller           Role = "teller"
	RoleBranchManager    Role = "branch_manager"
)

// SecurityQuestion is the closed set of recovery questions offered at registration.
type SecurityQuestion string

const (
	QuestionMaidenName SecurityQuestion = "maiden_name"
	QuestionPetName    SecurityQuestion = "pet_name"
	QuestionCityBorn   SecurityQuestion = "city_born"
	QuestionBirthYear  SecurityQuestion = "birth_year"
	QuestionFavColor   SecurityQuestion = "fav_color"
)

// ValidSecurityQuestion reports whether q is one of the offered questions.
func ValidSecurityQuestion(q SecurityQuestion) bool {
	switch q {
	case QuestionMaidenName, QuestionPetName, QuestionCityBorn, QuestionBirthYear, QuestionFavColor:
		return true
	}
	return false
}

// Account is the credential record for a bank user.
//
// OTP and OTPExpiry are always set or cleared together. Status only moves
// between active and locked through the lockout policy; deleted is a soft
// marker owned by account management, not by the auth flow.
type Account struct {
	ID                 string            `json:"id"`
	Email              string            `json:"email"`
	Username           string            `json:"username"`
	IDNo               int64             `json:"id_no"`
	FirstName          string            `json:"first_name"`
	MiddleName         *string           `json:"middle_name,omitempty"`
	LastName           string            `json:"last_name"`
	PasswordHash       string            `json:"-"`
	SecurityQuestion   SecurityQuestion  `json:"security_question,omitempty"`
	SecurityAnswerHash string            `json:"-"`
	// SecurityExempt skips the security question requirement for accounts
	// provisioned out of band (back-office staff).
	SecurityExempt      bool          `json:"-"`
	Status              AccountStatus `json:"account_status"`
	Role                Role          `json:"role"`
	FailedLoginAttempts int           `json:"-"`
	LastLoginAttempt    *time.Time    `json:"-"`
	OTP                 *string       `json:"-"`
	OTPExpiry           *time.Time    `json:"-"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// FullName joins the name parts, skipping an absent middle name.
func (a *Account) FullName() string {
	if a.MiddleName != nil && *a.MiddleName != "" {
		return a.FirstName + " " + *a.MiddleName + " " + a.LastName
	}
	return a.FirstName + " " + a.LastName
}

// HasRole reports whether the account holds the given role.
func (a *Account) HasRole(role Role) bool {
	return a.Role == role
}
