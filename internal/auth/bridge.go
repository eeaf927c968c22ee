// Package auth bridges the store's account and session endpoints to a
// session model with state-change listeners.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/docrel/internal/gateway"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

// Listener receives session transitions. session is nil on sign-out.
type Listener func(event types.AuthEvent, session *types.Session)

// Navigator sends the user agent to url. It is used by OAuth sign-in.
type Navigator func(url string) error

// Bridge manages the current session against one store client.
type Bridge struct {
	client      *gateway.Client
	interactive bool
	navigate    Navigator
	location    func() *url.URL
	logger      *zap.Logger

	mu        sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithInteractive marks a browser-like context in which anonymous probes are
// skipped when no session cookie is present.
func WithInteractive(on bool) Option {
	return func(b *Bridge) { b.interactive = on }
}

// WithNavigator sets how OAuth sign-in leaves the current page.
func WithNavigator(n Navigator) Option {
	return func(b *Bridge) { b.navigate = n }
}

// WithLocation reports the URL currently loaded, used to detect a returning
// OAuth or magic-link callback.
func WithLocation(fn func() *url.URL) Option {
	return func(b *Bridge) { b.location = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// New returns a Bridge for client.
func New(client *gateway.Client, opts ...Option) *Bridge {
	b := &Bridge{
		client:    client,
		location:  func() *url.URL { return nil },
		logger:    zap.NewNop(),
		listeners: map[uint64]Listener{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// account is the store's user document.
type account struct {
	ID                string `json:"$id"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	EmailVerification bool   `json:"emailVerification"`
}

func (a account) session() *types.Session {
	return &types.Session{User: types.User{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.Name,
		Verified:    a.EmailVerification,
	}}
}

// GetSession returns the current session, or nil when there is none. A 401
// from the account probe means no session, not an error.
func (b *Bridge) GetSession(ctx context.Context) (*types.Session, error) {
	if b.interactive && !b.client.HasSessionCookie() && !b.callbackPending() {
		return nil, nil
	}
	var acct account
	err := b.client.Call(ctx, http.MethodGet, "/account", nil, nil, &acct)
	if types.IsUnauthorized(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return acct.session(), nil
}

// CurrentUser returns the signed-in user, or nil when anonymous.
func (b *Bridge) CurrentUser(ctx context.Context) (*types.User, error) {
	s, err := b.GetSession(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	return &s.User, nil
}

// callbackPending reports whether the loaded URL carries OAuth or magic-link
// callback parameters.
func (b *Bridge) callbackPending() bool {
	u := b.location()
	if u == nil {
		return false
	}
	q := u.Query()
	if q.Get("userId") != "" && q.Get("secret") != "" {
		return true
	}
	if q.Get("code") != "" {
		return true
	}
	return strings.Contains(u.Fragment, "access_token=")
}

// SignInWithPassword creates an email session, then reads the account. On
// success listeners are told before it returns.
func (b *Bridge) SignInWithPassword(ctx context.Context, email, password string) (*types.Session, error) {
	body := map[string]string{"email": email, "password": password}
	if err := b.client.Call(ctx, http.MethodPost, "/account/sessions/email", nil, body, nil); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return b.signedIn(ctx)
}

func (b *Bridge) signedIn(ctx context.Context) (*types.Session, error) {
	var acct account
	if err := b.client.Call(ctx, http.MethodGet, "/account", nil, nil, &acct); err != nil {
		return nil, fmt.Errorf("read account: %w", err)
	}
	s := acct.session()
	b.broadcast(types.AuthSignedIn, s)
	return s, nil
}

// SignUpParams describes a new account.
type SignUpParams struct {
	Email    string
	Password string
	Name     string
	// VerifyURL is where the confirmation email links to. Empty skips the
	// verification request.
	VerifyURL string
}

// SignUp creates the account, signs it in and requests a verification email.
// A failed verification request is logged and does not fail sign-up.
func (b *Bridge) SignUp(ctx context.Context, p SignUpParams) (*types.Session, error) {
	body := map[string]string{
		"userId":   gateway.UniqueID,
		"email":    p.Email,
		"password": p.Password,
		"name":     p.Name,
	}
	if err := b.client.Call(ctx, http.MethodPost, "/account", nil, body, nil); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	login := map[string]string{"email": p.Email, "password": p.Password}
	if err := b.client.Call(ctx, http.MethodPost, "/account/sessions/email", nil, login, nil); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if p.VerifyURL != "" {
		if err := b.client.Call(ctx, http.MethodPost, "/account/verification", nil, map[string]string{"url": p.VerifyURL}, nil); err != nil {
			b.logger.Warn("verification email not sent", zap.String("email", p.Email), zap.Error(err))
		}
	}
	return b.signedIn(ctx)
}

// OAuthParams selects the provider and the callback URLs.
type OAuthParams struct {
	Provider   string
	SuccessURL string
	FailureURL string
}

// OAuthURL builds the provider authorization URL.
func (b *Bridge) OAuthURL(p OAuthParams) (string, error) {
	if p.Provider == "" {
		return "", errors.New("oauth provider must not be empty")
	}
	q := url.Values{"project": {b.client.Project()}}
	if p.SuccessURL != "" {
		q.Set("success", p.SuccessURL)
	}
	if p.FailureURL != "" {
		q.Set("failure", p.FailureURL)
	}
	return b.client.URL("/account/sessions/oauth2/"+url.PathEscape(p.Provider), q), nil
}

// SignInWithOAuth hands the user agent to the provider. The session is
// established out of band when the provider redirects back, so no listener is
// told here.
func (b *Bridge) SignInWithOAuth(_ context.Context, p OAuthParams) (string, error) {
	target, err := b.OAuthURL(p)
	if err != nil {
		return "", err
	}
	if b.navigate == nil {
		return target, types.ErrNotSupported
	}
	return target, b.navigate(target)
}

// SignOut deletes the current session. An already missing session counts as
// success. Listeners are always told and local session cookies are cleared.
func (b *Bridge) SignOut(ctx context.Context) error {
	err := b.client.Call(ctx, http.MethodDelete, "/account/sessions/current", nil, nil, nil)
	b.client.ClearSession()
	b.broadcast(types.AuthSignedOut, nil)
	if err != nil && !types.IsUnauthorized(err) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// OnAuthStateChange registers fn and returns a function that removes it.
func (b *Bridge) OnAuthStateChange(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// broadcast calls listeners in registration order on the calling goroutine.
func (b *Bridge) broadcast(ev types.AuthEvent, s *types.Session) {
	b.mu.Lock()
	ids := make([]uint64, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]Listener, len(ids))
	for i, id := range ids {
		fns[i] = b.listeners[id]
	}
	b.mu.Unlock()

	for _, fn := range fns {
		b.notify(fn, ev, s)
	}
}

func (b *Bridge) notify(fn Listener, ev types.AuthEvent, s *types.Session) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("auth listener panicked", zap.String("event", string(ev)), zap.Any("panic", r))
		}
	}()
	fn(ev, s)
}
