package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	appLog "mealendar/internal/log"
	"mealendar/internal/store"
)

// ErrNoSession is returned when the request carries no valid session
// cookie or the session is gone from the store.
var ErrNoSession = errors.New("auth: no session")

// CookieName is the session cookie set on login.
const CookieName = "mealendar_session"

// DefaultSessionTTL bounds the cookie lifetime and the age at which the
// refresh job prunes idle sessions.
const DefaultSessionTTL = 30 * 24 * time.Hour

// SessionStore persists sessions. *store.Store implements it.
type SessionStore interface {
	CreateSession(ctx context.Context, id, state string) (*store.Session, error)
	GetSession(ctx context.Context, id string) (*store.Session, error)
	SaveToken(ctx context.Context, id string, tok *oauth2.Token) error
	ClearState(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
}

// Sessions maps browser cookies to stored sessions. Cookie values are
// "<id>.<base64url HMAC-SHA256(id)>" so ids cannot be guessed or forged.
type Sessions struct {
	store  SessionStore
	secret []byte
	secure bool
	ttl    time.Duration
}

// NewSessions returns a Sessions signing cookies with secret. An empty
// secret is replaced by a random one, which logs every browser out on
// restart. secure sets the cookie Secure flag.
func NewSessions(st SessionStore, secret string, secure bool) *Sessions {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic("auth: no randomness for session secret: " + err.Error())
		}
		appLog.Warn("session_secret not configured; sessions will not survive a restart")
	}
	return &Sessions{store: st, secret: key, secure: secure, ttl: DefaultSessionTTL}
}

// Current returns the session named by the request cookie.
func (s *Sessions) Current(r *http.Request) (*store.Session, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return nil, ErrNoSession
	}
	id, ok := s.verify(c.Value)
	if !ok {
		return nil, ErrNoSession
	}
	sess, err := s.store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSession
	}
	return sess, err
}

// Begin stores a session waiting for the OAuth callback with the given
// state. The browser keeps its session id when it already has a valid one.
func (s *Sessions) Begin(w http.ResponseWriter, r *http.Request, state string) (*store.Session, error) {
	id := ""
	if c, err := r.Cookie(CookieName); err == nil {
		id, _ = s.verify(c.Value)
	}
	if id == "" {
		id = uuid.NewString()
	}

	sess, err := s.store.CreateSession(r.Context(), id, state)
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, s.cookie(id, int(s.ttl/time.Second)))
	return sess, nil
}

// SaveToken stores tok on the session.
func (s *Sessions) SaveToken(ctx context.Context, id string, tok *oauth2.Token) error {
	return s.store.SaveToken(ctx, id, tok)
}

// ClearState drops the session's pending OAuth state.
func (s *Sessions) ClearState(ctx context.Context, id string) error {
	return s.store.ClearState(ctx, id)
}

// Clear deletes the request's session and expires the cookie.
func (s *Sessions) Clear(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, s.cookie("", -1))
	c, err := r.Cookie(CookieName)
	if err != nil {
		return nil
	}
	id, ok := s.verify(c.Value)
	if !ok {
		return nil
	}
	return s.store.DeleteSession(r.Context(), id)
}

// TTL is how long a session cookie lives.
func (s *Sessions) TTL() time.Duration { return s.ttl }

func (s *Sessions) cookie(id string, maxAge int) *http.Cookie {
	value := ""
	if id != "" {
		value = s.sign(id)
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Sessions) sign(id string) string {
	return id + "." + base64.RawURLEncoding.EncodeToString(s.mac(id))
}

func (s *Sessions) verify(value string) (string, bool) {
	i := strings.LastIndexByte(value, '.')
	if i <= 0 {
		return "", false
	}
	id, sig := value[:i], value[i+1:]
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}
	if !hmac.Equal(got, s.mac(id)) {
		return "", false
	}
	return id, true
}

func (s *Sessions) mac(id string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(id))
	return h.Sum(nil)
}
