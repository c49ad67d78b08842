package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/nexbank/auth-service/internal/auth"
	"github.com/nexbank/auth-service/internal/domain"
	"github.com/nexbank/auth-service/internal/ratelimit"
	"github.com/nexbank/auth-service/internal/store"
)

// AuthHandler exposes the authentication endpoints.
type AuthHandler struct {
	service *auth.Service
	tokens  *auth.TokenIssuer
	limiter *ratelimit.LoginLimiter // nil disables throttling
	cookies CookieSettings
}

// NewAuthHandler creates the handler set for the auth routes.
func NewAuthHandler(service *auth.Service, tokens *auth.TokenIssuer, limiter *ratelimit.LoginLimiter, cookies CookieSettings) *AuthHandler {
	return &AuthHandler{service: service, tokens: tokens, limiter: limiter, cookies: cookies}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func detail(msg string) map[string]string {
	return map[string]string{"detail": msg}
}

func (h *AuthHandler) lockoutDetail() map[string]string {
	return detail(fmt.Sprintf(
		"Account is temporarily locked due to multiple failed login attempts. Try again after %d minutes.",
		h.service.Policy().LockoutMinutes(),
	))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles the first authentication step: credentials in, OTP out.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, detail("Invalid request body."))
		return
	}
	if req.Email == "" || req.Password == "" {
		respondJSON(w, http.StatusBadRequest, detail("Invalid credentials provided."))
		return
	}

	if h.limiter != nil {
		if err := h.throttle(r, strings.ToLower(strings.TrimSpace(req.Email))); err != nil {
			respondJSON(w, http.StatusTooManyRequests, detail("Too many login attempts. Please try again later."))
			return
		}
	}

	if err := h.service.SubmitCredentials(r.Context(), req.Email, req.Password); err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountLocked):
			respondJSON(w, http.StatusForbidden, h.lockoutDetail())
		case errors.Is(err, domain.ErrBadCredentials):
			respondJSON(w, http.StatusBadRequest, detail("Invalid credentials provided."))
		default:
			log.Printf("Unexpected error during login: %v", err)
			respondJSON(w, http.StatusInternalServerError, detail("An unexpected error occurred. Please try again later."))
		}
		return
	}

	respondJSON(w, http.StatusOK, detail("OTP sent to your email. Please verify to log in."))
}

func (h *AuthHandler) throttle(r *http.Request, email string) error {
	if err := h.limiter.Allow(r.Context(), "email:"+email); err != nil {
		return err
	}
	if ip := clientIP(r); ip != "" {
		return h.limiter.Allow(r.Context(), "ip:"+ip)
	}
	return nil
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// VerifyOTP handles the second authentication step and delivers the session
// token pair in the body and as cookies.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, detail("Invalid request body."))
		return
	}
	if req.OTP == "" {
		respondJSON(w, http.StatusBadRequest, detail("OTP is required."))
		return
	}

	_, pair, err := h.service.SubmitOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidOTP):
			respondJSON(w, http.StatusBadRequest, detail("Invalid or expired OTP."))
		case errors.Is(err, domain.ErrAccountLocked):
			respondJSON(w, http.StatusForbidden, h.lockoutDetail())
		default:
			log.Printf("Unexpected error during OTP verification: %v", err)
			respondJSON(w, http.StatusInternalServerError, detail("An unexpected error occurred. Please try again later."))
		}
		return
	}

	setAuthCookies(w, h.cookies, pair.Access, pair.Refresh)
	respondJSON(w, http.StatusOK, map[string]string{
		"detail":  "OTP verified successfully.",
		"access":  pair.Access,
		"refresh": pair.Refresh,
	})
}

// RefreshToken rotates the token pair using the refresh_token cookie.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		respondJSON(w, http.StatusUnauthorized, detail("Refresh token not found."))
		return
	}

	pair, err := h.service.Refresh(r.Context(), cookie.Value)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTokenExpired), errors.Is(err, domain.ErrTokenInvalid):
			respondJSON(w, http.StatusUnauthorized, detail("Invalid or expired refresh token."))
		case errors.Is(err, domain.ErrAccountLocked):
			respondJSON(w, http.StatusForbidden, h.lockoutDetail())
		default:
			log.Printf("Unexpected error during token refresh: %v", err)
			respondJSON(w, http.StatusInternalServerError, detail("An unexpected error occurred. Please try again later."))
		}
		return
	}

	setAuthCookies(w, h.cookies, pair.Access, pair.Refresh)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Tokens refreshed successfully."})
}

// Logout clears the auth cookies. The server keeps no session state, so
// there is nothing to revoke.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	clearAuthCookies(w, h.cookies)
	respondJSON(w, http.StatusOK, detail("Logged out successfully."))
}

type registerRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	FirstName        string `json:"first_name"`
	MiddleName       string `json:"middle_name"`
	LastName         string `json:"last_name"`
	IDNo             int64  `json:"id_no"`
	SecurityQuestion string `json:"security_question"`
	SecurityAnswer   string `json:"security_answer"`
}

// Register creates a new customer account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, detail("Invalid request body."))
		return
	}

	acct, err := h.service.Register(r.Context(), auth.RegisterParams{
		Email:            req.Email,
		Password:         req.Password,
		FirstName:        req.FirstName,
		MiddleName:       req.MiddleName,
		LastName:         req.LastName,
		IDNo:             req.IDNo,
		SecurityQuestion: domain.SecurityQuestion(req.SecurityQuestion),
		SecurityAnswer:   req.SecurityAnswer,
	})
	if err != nil {
		var validationErr *auth.ValidationError
		switch {
		case errors.As(err, &validationErr):
			respondJSON(w, http.StatusBadRequest, detail(validationErr.Msg))
		case errors.Is(err, store.ErrDuplicate):
			respondJSON(w, http.StatusConflict, detail("An account with these details already exists."))
		default:
			log.Printf("Unexpected error during registration: %v", err)
			respondJSON(w, http.StatusInternalServerError, detail("An unexpected error occurred. Please try again later."))
		}
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"id":       acct.ID,
		"username": acct.Username,
		"detail":   "Account created successfully.",
	})
}

// Me returns the authenticated account's profile.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, detail("Authentication required."))
		return
	}

	acct, err := h.service.Account(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			respondJSON(w, http.StatusNotFound, detail("Account not found."))
			return
		}
		log.Printf("Unexpected error loading account %s: %v", accountID, err)
		respondJSON(w, http.StatusInternalServerError, detail("An unexpected error occurred. Please try again later."))
		return
	}

	respondJSON(w, http.StatusOK, acct)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
