package emulator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

var (
	errUserExists         = errors.New("user already exists")
	errInvalidCredentials = errors.New("invalid credentials")
	errNoSession          = errors.New("no session")
	errPasswordTooShort   = fmt.Errorf("password must be at least %d characters", minPasswordLength)
)

type userRow struct {
	ID            string `db:"id"`
	Email         string `db:"email"`
	Name          string `db:"name"`
	PasswordHash  string `db:"password_hash"`
	EmailVerified bool   `db:"email_verified"`
	CreatedAt     string `db:"created_at"`
}

// view is the account document returned to clients.
func (u userRow) view() map[string]any {
	return map[string]any{
		"$id":               u.ID,
		"$createdAt":        u.CreatedAt,
		"name":              u.Name,
		"email":             u.Email,
		"emailVerification": u.EmailVerified,
		"registration":      u.CreatedAt,
		"status":            true,
	}
}

type sessionRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	CreatedAt string `db:"created_at"`
	ExpiresAt string `db:"expires_at"`
}

func (e *Emulator) cookieName() string {
	return "a_session_" + e.cfg.Project
}

func (e *Emulator) createUser(ctx context.Context, id, email, password, name string) (userRow, error) {
	if len(password) < minPasswordLength {
		return userRow{}, errPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return userRow{}, err
	}
	if id == "" || id == "unique()" {
		id = ksuid.New().String()
	}
	u := userRow{
		ID:           id,
		Email:        strings.TrimSpace(email),
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    e.timestamp(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var n int
	if err := e.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM users WHERE id = ? OR email = ?", u.ID, u.Email); err != nil {
		return userRow{}, err
	}
	if n > 0 {
		return userRow{}, errUserExists
	}
	_, err = e.db.NamedExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, email_verified, created_at)
		 VALUES (:id, :email, :name, :password_hash, :email_verified, :created_at)`, u)
	return u, err
}

func (e *Emulator) userByID(ctx context.Context, id string) (userRow, error) {
	var u userRow
	err := e.db.GetContext(ctx, &u, "SELECT * FROM users WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return u, errNoSession
	}
	return u, err
}

// createSession checks the password and returns a signed session token.
func (e *Emulator) createSession(ctx context.Context, email, password string) (sessionRow, string, error) {
	var u userRow
	err := e.db.GetContext(ctx, &u, "SELECT * FROM users WHERE email = ?", strings.TrimSpace(email))
	if errors.Is(err, sql.ErrNoRows) {
		return sessionRow{}, "", errInvalidCredentials
	}
	if err != nil {
		return sessionRow{}, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return sessionRow{}, "", errInvalidCredentials
	}

	now := e.now().UTC()
	expires := now.Add(e.cfg.SessionTTL)
	s := sessionRow{
		ID:        ksuid.New().String(),
		UserID:    u.ID,
		CreatedAt: now.Format(timeLayout),
		ExpiresAt: expires.Format(timeLayout),
	}
	if _, err := e.db.NamedExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at)
		 VALUES (:id, :user_id, :created_at, :expires_at)`, s); err != nil {
		return sessionRow{}, "", err
	}

	claims := jwt.RegisteredClaims{
		Issuer:    "docrel-emulator",
		Subject:   u.ID,
		ID:        s.ID,
		Audience:  jwt.ClaimStrings{e.cfg.Project},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.cfg.Secret)
	if err != nil {
		return sessionRow{}, "", err
	}
	return s, token, nil
}

// parseSession verifies the cookie token and returns its claims.
func (e *Emulator) parseSession(r *http.Request) (*jwt.RegisteredClaims, error) {
	c, err := r.Cookie(e.cookieName())
	if err != nil || c.Value == "" {
		return nil, errNoSession
	}
	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(c.Value, claims, func(t *jwt.Token) (any, error) {
		return e.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(e.cfg.Project),
		jwt.WithTimeFunc(e.now),
	)
	if err != nil {
		return nil, errNoSession
	}
	return claims, nil
}

// sessionUser resolves the request's session to a user. Deleted sessions are
// rejected even when their token has not expired.
func (e *Emulator) sessionUser(r *http.Request) (userRow, error) {
	claims, err := e.parseSession(r)
	if err != nil {
		return userRow{}, err
	}
	var n int
	if err := e.db.GetContext(r.Context(), &n, "SELECT COUNT(*) FROM sessions WHERE id = ? AND user_id = ?", claims.ID, claims.Subject); err != nil {
		return userRow{}, err
	}
	if n == 0 {
		return userRow{}, errNoSession
	}
	return e.userByID(r.Context(), claims.Subject)
}

func (e *Emulator) deleteSession(ctx context.Context, id string) error {
	_, err := e.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	return err
}

// createVerification records a secret that confirms the user's email.
func (e *Emulator) createVerification(userID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	secret := newSecret()
	e.verifies[secret] = userID
	return secret
}

func (e *Emulator) confirmVerification(ctx context.Context, userID, secret string) error {
	e.mu.Lock()
	owner, ok := e.verifies[secret]
	if ok && owner == userID {
		delete(e.verifies, secret)
	}
	e.mu.Unlock()
	if !ok || owner != userID {
		return errInvalidCredentials
	}
	_, err := e.db.ExecContext(ctx, "UPDATE users SET email_verified = 1 WHERE id = ?", userID)
	return err
}

func (e *Emulator) sessionCookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     e.cookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
