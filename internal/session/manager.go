package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chepyr/taskmaster/internal/db"
	"github.com/chepyr/taskmaster/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	CookieName = "session_token"
	issuer     = "taskmaster"
)

var (
	ErrNoSession    = errors.New("no session")
	ErrInvalidToken = errors.New("invalid session token")
)

// UserLoader resolves the identity stored in a session.
type UserLoader interface {
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Manager binds an authenticated user to a client. The cookie carries an
// HS256 token whose jti names a row in the sessions table, so logout can
// revoke it server side.
type Manager struct {
	sessions db.SessionRepositoryInterface
	users    UserLoader
	secret   []byte
	ttl      time.Duration
	secure   bool
	now      func() time.Time
}

func NewManager(sessions db.SessionRepositoryInterface, users UserLoader, secret string, ttl time.Duration, secureCookie bool) *Manager {
	return &Manager{
		sessions: sessions,
		users:    users,
		secret:   []byte(secret),
		ttl:      ttl,
		secure:   secureCookie,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Login starts a session for user and sets the session cookie.
// The signed token is returned for clients that prefer a bearer header.
func (m *Manager) Login(ctx context.Context, w http.ResponseWriter, user *models.User) (string, error) {
	now := m.now()
	session := &models.Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	token, err := m.sign(session)
	if err != nil {
		return "", err
	}
	m.setSessionCookie(w, token)
	return token, nil
}

// Logout revokes the caller's session (if any) and clears the cookie.
func (m *Manager) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	defer m.clearSessionCookie(w)

	token := tokenFromRequest(r)
	if token == "" {
		return nil
	}
	claims, err := m.parse(token)
	if err != nil {
		return nil
	}
	sessionID, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil
	}
	if err := m.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CurrentIdentity returns the user bound to the request, or ErrNoSession /
// ErrInvalidToken when there is none.
func (m *Manager) CurrentIdentity(r *http.Request) (*models.User, error) {
	token := tokenFromRequest(r)
	if token == "" {
		return nil, ErrNoSession
	}

	claims, err := m.parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sessionID, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}

	session, err := m.sessions.GetByID(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.UserID != userID || session.Expired(m.now()) {
		return nil, ErrNoSession
	}

	user, err := m.users.UserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// CleanupExpired purges sessions past their expiry.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	return m.sessions.DeleteExpired(ctx, m.now())
}

func (m *Manager) sign(session *models.Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        session.ID.String(),
		Subject:   session.UserID.String(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
		ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("error signing token: %w", err)
	}
	return signed, nil
}

func (m *Manager) parse(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m *Manager) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (m *Manager) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// tokenFromRequest reads the session cookie, falling back to a bearer header.
func tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
