package domain

// EmailRequestedEvent asks the notification service to render and send a
// templated email. The auth service never talks SMTP itself.
type EmailRequestedEvent struct {
	Email    string         `json:"email"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
}

// AccountCreatedEvent is published after a successful registration.
type AccountCreatedEvent struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	Role      Role   `json:"role"`
}

// AccountLockedEvent is enqueued through the outbox when repeated failed
// logins lock an account.
type AccountLockedEvent struct {
	AccountID      string `json:"account_id"`
	Email          string `json:"email"`
	AttemptsLimit  int    `json:"attempts_limit"`
	LockoutMinutes int    `json:"lockout_minutes"`
}
