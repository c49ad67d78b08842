package api

import (
	"net/http"
	"time"
)

// Cookie names shared with the frontend. The logged_in marker is readable by
// client-side code; the token cookies are not.
const (
	AccessCookieName   = "access"
	RefreshCookieName  = "refresh_token"
	LoggedInCookieName = "logged_in"
)

// CookieSettings carries the transport flags applied to every auth cookie.
type CookieSettings struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (s CookieSettings) newCookie(name, value string, httpOnly bool, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: httpOnly,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// setAuthCookies attaches the token cookies plus the logged_in marker.
func setAuthCookies(w http.ResponseWriter, s CookieSettings, access, refresh string) {
	http.SetCookie(w, s.newCookie(AccessCookieName, access, true, s.AccessTTL))
	if refresh != "" {
		http.SetCookie(w, s.newCookie(RefreshCookieName, refresh, true, s.RefreshTTL))
	}
	http.SetCookie(w, s.newCookie(LoggedInCookieName, "true", false, s.AccessTTL))
}

// clearAuthCookies expires all three auth cookies.
func clearAuthCookies(w http.ResponseWriter, s CookieSettings) {
	for _, name := range []string{AccessCookieName, RefreshCookieName, LoggedInCookieName} {
		cookie := s.newCookie(name, "", name != LoggedInCookieName, 0)
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
	}
}
