package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	"mealendar/internal/config"
	appLog "mealendar/internal/log"
	"mealendar/internal/store"
)

// ErrStateMismatch is returned by Complete when the callback's state does
// not match the one stored at login.
var ErrStateMismatch = errors.New("auth: oauth state mismatch")

// Scopes requested at login: basic profile plus read-only calendar access.
var Scopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	gcal.CalendarReadonlyScope,
}

// GoogleOAuthConfig builds the OAuth client for the Google endpoint.
func GoogleOAuthConfig(cfg config.GoogleConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}
}

// OAuth runs the authorization-code flow for browser sessions.
type OAuth struct {
	config   *oauth2.Config
	sessions *Sessions
	frontend string
}

// NewOAuth returns an OAuth flow that redirects back to frontend when the
// callback completes.
func NewOAuth(conf *oauth2.Config, sessions *Sessions, frontend string) *OAuth {
	return &OAuth{config: conf, sessions: sessions, frontend: frontend}
}

// Sessions returns the session manager the flow writes to.
func (o *OAuth) Sessions() *Sessions { return o.sessions }

// Begin starts a login for the request's browser and returns the consent
// URL to redirect to.
func (o *OAuth) Begin(w http.ResponseWriter, r *http.Request) (string, error) {
	state := uuid.NewString()
	if _, err := o.sessions.Begin(w, r, state); err != nil {
		return "", fmt.Errorf("auth: start session: %w", err)
	}
	return o.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	), nil
}

// Complete handles the provider callback: it checks the state, exchanges
// the code and stores the token on the session.
func (o *OAuth) Complete(r *http.Request) error {
	sess, err := o.sessions.Current(r)
	if err != nil {
		return err
	}

	// The state is single-use: whatever happens below, it is spent.
	expected := sess.OAuthState
	if expected != "" {
		if err := o.sessions.ClearState(r.Context(), sess.ID); err != nil {
			return fmt.Errorf("auth: clear state: %w", err)
		}
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		return fmt.Errorf("auth: provider returned %q", e)
	}
	state := q.Get("state")
	if expected == "" || !SecureCompare(state, expected) {
		return ErrStateMismatch
	}
	code := q.Get("code")
	if code == "" {
		return errors.New("auth: no authorization code received")
	}

	tok, err := o.config.Exchange(r.Context(), code)
	if err != nil {
		return fmt.Errorf("auth: unable to exchange authorization code: %w", err)
	}
	return o.sessions.SaveToken(r.Context(), sess.ID, tok)
}

// RedirectURL is where the browser lands after the callback.
func (o *OAuth) RedirectURL(ok bool) string {
	status := "failed"
	if ok {
		status = "success"
	}
	u, err := url.Parse(o.frontend)
	if err != nil || o.frontend == "" {
		return "/?auth_status=" + status
	}
	q := u.Query()
	q.Set("auth_status", status)
	u.RawQuery = q.Encode()
	return u.String()
}

// LoggedIn reports whether the request's session holds a token.
func (o *OAuth) LoggedIn(r *http.Request) bool {
	sess, err := o.sessions.Current(r)
	return err == nil && sess.Authenticated()
}

// Logout forgets the request's session.
func (o *OAuth) Logout(w http.ResponseWriter, r *http.Request) error {
	return o.sessions.Clear(w, r)
}

// Client returns an HTTP client authorised as the session's user. Tokens
// refreshed by the client are written back to the store.
func (o *OAuth) Client(ctx context.Context, sess *store.Session) (*http.Client, error) {
	if !sess.Authenticated() {
		return nil, ErrNoSession
	}
	src := &persistingSource{
		base: o.config.TokenSource(ctx, sess.Token),
		last: sess.Token.AccessToken,
		save: func(tok *oauth2.Token) error {
			return o.sessions.SaveToken(context.Background(), sess.ID, tok)
		},
	}
	return oauth2.NewClient(ctx, src), nil
}

// persistingSource saves each token whose access token differs from the
// last one seen.
type persistingSource struct {
	base oauth2.TokenSource
	save func(*oauth2.Token) error

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.save(tok); err != nil {
			appLog.Error("failed to persist refreshed token", err)
		} else {
			appLog.Debug("refreshed oauth token saved", "expiry", tok.Expiry)
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}
