package liveregion

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/livefir/liveregion/internal/session"
	"github.com/livefir/liveregion/internal/token"
)

// SessionCookie carries the anonymous session id
const SessionCookie = "liveregion-id"

// Authenticator identifies users and maps them to sessions.
//
// All connections that resolve to the same session id share that session's
// regions. It is called for page requests and for websocket upgrades.
type Authenticator interface {
	// Identify returns the user ID from the request, "" for anonymous users.
	Identify(r *http.Request) (userID string, err error)

	// GetSessionGroup returns the session the request belongs to.
	GetSessionGroup(r *http.Request, userID string) (sessionID string, err error)
}

// sessionIssuer is implemented by authenticators that hand the session id back
// to the browser themselves.
type sessionIssuer interface {
	IssueSession(w http.ResponseWriter, sessionID string)
}

// AnonymousAuthenticator groups connections by a browser cookie: all tabs of one
// browser share regions, different browsers are isolated.
type AnonymousAuthenticator struct{}

// Identify always returns empty string for anonymous users.
func (a *AnonymousAuthenticator) Identify(r *http.Request) (string, error) {
	return "", nil
}

// GetSessionGroup returns the cookie's session id, or a fresh one.
func (a *AnonymousAuthenticator) GetSessionGroup(r *http.Request, userID string) (string, error) {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	id, err := session.NewID()
	if err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return id, nil
}

// IssueSession stores the session id in a persistent cookie.
func (a *AnonymousAuthenticator) IssueSession(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// TokenAuthenticator reads a signed session token from the Authorization header
// ("Bearer <token>") or the "token" query parameter. Browsers cannot set headers
// on websocket upgrades, hence the query fallback.
type TokenAuthenticator struct {
	tokens *token.Service
}

// NewTokenAuthenticator creates a TokenAuthenticator backed by svc
func NewTokenAuthenticator(svc *token.Service) *TokenAuthenticator {
	return &TokenAuthenticator{tokens: svc}
}

// Issue starts a new session for userID and returns its token
func (a *TokenAuthenticator) Issue(userID string) (tok string, sessionID string, err error) {
	sessionID, err = session.NewID()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	tok, err = a.tokens.Issue(sessionID, userID)
	return tok, sessionID, err
}

// Identify returns the user the token was issued to.
func (a *TokenAuthenticator) Identify(r *http.Request) (string, error) {
	claims, err := a.claims(r)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// GetSessionGroup returns the session bound into the token.
func (a *TokenAuthenticator) GetSessionGroup(r *http.Request, userID string) (string, error) {
	claims, err := a.claims(r)
	if err != nil {
		return "", err
	}
	if claims.UserID != userID {
		return "", fmt.Errorf("token user mismatch")
	}
	return claims.SessionID, nil
}

func (a *TokenAuthenticator) claims(r *http.Request) (*token.SessionClaims, error) {
	raw := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	} else {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return nil, fmt.Errorf("no session token provided")
	}
	return a.tokens.Verify(raw)
}

// BasicAuthenticator provides username/password authentication with one session
// per user (sessionID = userID).
type BasicAuthenticator struct {
	// ValidateFunc is called to verify username/password credentials.
	ValidateFunc func(username, password string) (bool, error)
}

// NewBasicAuthenticator creates a BasicAuthenticator with the given validation function.
func NewBasicAuthenticator(validateFunc func(username, password string) (bool, error)) *BasicAuthenticator {
	return &BasicAuthenticator{ValidateFunc: validateFunc}
}

// Identify extracts and validates HTTP Basic Auth credentials.
func (a *BasicAuthenticator) Identify(r *http.Request) (string, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return "", fmt.Errorf("no basic auth credentials provided")
	}

	valid, err := a.ValidateFunc(username, password)
	if err != nil {
		return "", fmt.Errorf("authentication error: %w", err)
	}
	if !valid {
		return "", fmt.Errorf("invalid credentials")
	}
	return username, nil
}

// GetSessionGroup returns userID as the session ID.
func (a *BasicAuthenticator) GetSessionGroup(r *http.Request, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("cannot get session group for empty userID")
	}
	return userID, nil
}
